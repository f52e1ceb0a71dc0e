/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package graph links parsed branches into a navigable dialogue graph.
// Nodes live in an arena indexed by NodeID; successors are ids, never
// pointers, so cycles need no special representation.
package graph

import (
	"strconv"

	"scriptgraph/internal/script"
)

// NodeID identifies a node within one file.
type NodeID string

// ID returns the id of the statement at pos in the branch labeled label.
// Labels never contain '#', so ids are unique within a file.
func ID(label string, pos int) NodeID {
	return NodeID(label + "#" + strconv.Itoa(pos))
}

// Edge is one outgoing edge of a choice node, labeled with the option text.
type Edge struct {
	Label  string
	Target NodeID
}

// Node is the graph form of one statement.
// Line, Setter and Goto nodes use Next (empty for a terminal node);
// Choice nodes use Edges, one per option in source order.
type Node struct {
	ID     NodeID
	Branch string
	Stmt   script.Statement
	Next   NodeID
	Edges  []Edge
}

// Successors returns the ids this node leads to, in edge order.
func (n Node) Successors() []NodeID {
	if len(n.Edges) > 0 {
		out := make([]NodeID, len(n.Edges))
		for i, e := range n.Edges {
			out[i] = e.Target
		}
		return out
	}
	if n.Next != "" {
		return []NodeID{n.Next}
	}
	return nil
}

// Terminal reports whether the node has no successor.
func (n Node) Terminal() bool { return n.Next == "" && len(n.Edges) == 0 }

// WarningKind classifies a non-fatal finding.
type WarningKind int

const (
	WarnUnreachable WarningKind = iota + 1
)

func (k WarningKind) String() string {
	if k == WarnUnreachable {
		return "unreachable"
	}
	return "unknown"
}

// Warning is attached to a successfully built graph.
type Warning struct {
	Kind   WarningKind
	Branch string
	Line   int
}

// Graph holds all nodes of one file. It is never mutated after Build returns.
type Graph struct {
	File     string
	Entry    NodeID
	Nodes    []Node            // file order
	Labels   map[string]NodeID // branch label -> entry node
	Branches []string          // labels in file order
	Warnings []Warning

	index map[NodeID]int
}

// Node returns the node with the given id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.Nodes) }

// Speakers returns the distinct speakers of lines and options in order of
// first appearance.
func (g *Graph) Speakers() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(s string) {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, n := range g.Nodes {
		switch s := n.Stmt.(type) {
		case script.Line:
			add(s.Speaker)
		case script.Choice:
			for _, o := range s.Options {
				add(o.Speaker)
			}
		}
	}
	return out
}
