/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package graph

import (
	"fmt"

	"scriptgraph/internal/script"
)

// reference is a label use collected in pass 1 and resolved in pass 2.
// option is -1 for a goto.
type reference struct {
	node   int
	option int
	label  string
	branch string
	line   int
}

// Build links branches into a Graph.
//
// Pass 1 creates one node per statement, links consecutive statements of a
// branch and records each branch's entry node. Pass 2 resolves every goto
// and choice target against those entries, so targets may name branches
// defined later in the file. The first branch is the graph's entry; branches
// not reachable from it are reported as warnings.
func Build(file string, branches []script.Branch) (*Graph, error) {
	if len(branches) == 0 {
		return nil, &script.Error{Kind: script.KindEmptyBranch, File: file, Msg: "script has no branches"}
	}
	g := &Graph{
		File:   file,
		Labels: make(map[string]NodeID, len(branches)),
		index:  map[NodeID]int{},
	}
	var refs []reference
	defined := make(map[string]int, len(branches))

	// pass 1: materialize
	for _, b := range branches {
		if len(b.Statements) == 0 {
			return nil, &script.Error{Kind: script.KindEmptyBranch, File: file, Line: b.LineNo, Text: b.Label, Branch: b.Label,
				Msg: "branch has no statements"}
		}
		if first, dup := defined[b.Label]; dup {
			return nil, &script.Error{Kind: script.KindDuplicateBranch, File: file, Line: b.LineNo, Text: b.Label, Branch: b.Label,
				OtherLine: first, Msg: "label already defined"}
		}
		defined[b.Label] = b.LineNo
		g.Labels[b.Label] = ID(b.Label, 0)
		g.Branches = append(g.Branches, b.Label)

		last := len(b.Statements) - 1
		for pos, st := range b.Statements {
			n := Node{ID: ID(b.Label, pos), Branch: b.Label, Stmt: st}
			idx := len(g.Nodes)
			switch s := st.(type) {
			case script.Line, script.Setter:
				if pos < last {
					n.Next = ID(b.Label, pos+1)
				}
			case script.Goto:
				if pos < last {
					return nil, unreachable(file, b, pos+1)
				}
				refs = append(refs, reference{node: idx, option: -1, label: s.Target, branch: b.Label, line: s.LineNo})
			case script.Choice:
				if pos < last {
					return nil, unreachable(file, b, pos+1)
				}
				n.Edges = make([]Edge, len(s.Options))
				for i, o := range s.Options {
					n.Edges[i].Label = o.Text
					refs = append(refs, reference{node: idx, option: i, label: o.Target, branch: b.Label, line: o.TargetLine})
				}
			default:
				return nil, fmt.Errorf("%s:%d: unsupported statement %T", file, st.Pos(), st)
			}
			g.index[n.ID] = idx
			g.Nodes = append(g.Nodes, n)
		}
	}
	g.Entry = g.Labels[branches[0].Label]

	// pass 2: resolve
	for _, r := range refs {
		target, ok := g.Labels[r.label]
		if !ok {
			return nil, &script.Error{Kind: script.KindUnresolvedLabel, File: file, Line: r.line, Text: r.label, Branch: r.branch,
				Msg: fmt.Sprintf("no branch named %q", r.label)}
		}
		if r.option < 0 {
			g.Nodes[r.node].Next = target
		} else {
			g.Nodes[r.node].Edges[r.option].Target = target
		}
	}

	g.Warnings = unreachableBranches(g, branches)
	return g, nil
}

func unreachable(file string, b script.Branch, pos int) error {
	st := b.Statements[pos]
	return &script.Error{Kind: script.KindUnreachableStatement, File: file, Line: st.Pos(), Text: script.KindName(st), Branch: b.Label,
		Msg: "statement follows a choice or goto"}
}

func unreachableBranches(g *Graph, branches []script.Branch) []Warning {
	visited := Reachable(g)
	seen := make(map[NodeID]struct{}, len(visited))
	for _, id := range visited {
		seen[id] = struct{}{}
	}
	var out []Warning
	for _, b := range branches {
		if _, ok := seen[g.Labels[b.Label]]; !ok {
			out = append(out, Warning{Kind: WarnUnreachable, Branch: b.Label, Line: b.LineNo})
		}
	}
	return out
}

// Compile parses and builds one file.
func Compile(file, input string) (*Graph, error) {
	branches, err := script.Parse(file, input)
	if err != nil {
		return nil, err
	}
	return Build(file, branches)
}
