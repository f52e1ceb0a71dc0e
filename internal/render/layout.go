/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package render draws exported records as Graphviz DOT, PNG (through an
// external dot binary) and a printable PDF branch sheet. Wrapping only
// affects the drawn labels, never the record.
package render

import (
	"fmt"
	"sort"

	"scriptgraph/internal/export"
	"scriptgraph/internal/graph"
)

// Options controls label formatting.
type Options struct {
	Wrap int
}

// DefaultWrap is the label width used when Options.Wrap is zero.
const DefaultWrap = 80

func (o Options) width() int {
	if o.Wrap == 0 {
		return DefaultWrap
	}
	return o.Wrap
}

// branchGroup is one branch with its nodes in source order.
type branchGroup struct {
	Label       string
	Line        int
	Unreachable bool
	Nodes       []graph.NodeID
}

// groups orders branches by their header line and nodes by statement line.
func groups(rec export.Record) []branchGroup {
	unreachable := map[string]bool{}
	for _, w := range rec.Warnings {
		if w.Kind == graph.WarnUnreachable.String() {
			unreachable[w.Branch] = true
		}
	}
	byBranch := map[string][]graph.NodeID{}
	for id, n := range rec.Nodes {
		byBranch[n.Branch] = append(byBranch[n.Branch], id)
	}
	out := make([]branchGroup, 0, len(byBranch))
	for label, ids := range byBranch {
		sort.Slice(ids, func(i, j int) bool {
			a, b := rec.Nodes[ids[i]], rec.Nodes[ids[j]]
			if a.Line != b.Line {
				return a.Line < b.Line
			}
			return ids[i] < ids[j]
		})
		out = append(out, branchGroup{
			Label:       label,
			Line:        rec.Nodes[ids[0]].Line,
			Unreachable: unreachable[label],
			Nodes:       ids,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// nodeText returns heading and body lines for a node, wrapped to width.
func nodeText(n export.NodeRecord, width int) (head, body []string) {
	switch n.Kind {
	case "line":
		return Wrap(n.Speaker, width), Wrap(n.Text, width)
	case "choice":
		for i, o := range n.Options {
			body = append(body, Wrap(fmt.Sprintf("%d. %s: %s", i, o.Speaker, o.Text), width)...)
		}
		return []string{"Choice"}, body
	case "setter":
		return []string{"Set"}, Wrap(fmt.Sprintf("%s = %s", n.Variable, n.Value), width)
	case "goto":
		return []string{"Goto"}, Wrap(n.Target, width)
	default:
		return []string{n.Kind}, nil
	}
}
