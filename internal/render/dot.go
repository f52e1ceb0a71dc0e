/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package render

import (
	"bytes"
	"fmt"
	"strings"

	"scriptgraph/internal/export"
)

// DOT renders rec as a Graphviz digraph with one cluster per branch. Choice
// edges are labelled with the option index. Output is deterministic.
func DOT(rec export.Record, opts Options) []byte {
	width := opts.width()
	var b bytes.Buffer
	fmt.Fprintf(&b, "digraph %s {\n", quote(rec.File))
	b.WriteString("\tgraph [fontname=\"Helvetica\"];\n")
	b.WriteString("\tnode [shape=box, fontname=\"Helvetica\"];\n")
	b.WriteString("\tedge [fontname=\"Helvetica\"];\n")

	gs := groups(rec)
	for i, g := range gs {
		fmt.Fprintf(&b, "\tsubgraph cluster_%d {\n", i)
		fmt.Fprintf(&b, "\t\tlabel = %s;\n", quote(g.Label))
		if g.Unreachable {
			b.WriteString("\t\tstyle = dashed;\n\t\tcolor = gray50;\n")
		}
		for _, id := range g.Nodes {
			n := rec.Nodes[id]
			head, body := nodeText(n, width)
			attrs := "label=" + quoteLines(append(head, body...))
			if n.Kind == "goto" {
				attrs += ", shape=cds"
			}
			if id == rec.Entry {
				attrs += ", peripheries=2"
			}
			fmt.Fprintf(&b, "\t\t%s [%s];\n", quote(string(id)), attrs)
		}
		b.WriteString("\t}\n")
	}

	for _, g := range gs {
		for _, id := range g.Nodes {
			n := rec.Nodes[id]
			if n.Next == nil {
				continue
			}
			for k, next := range n.Next.IDs {
				if n.Next.Multi {
					fmt.Fprintf(&b, "\t%s -> %s [label=%d];\n", quote(string(id)), quote(string(next)), k)
				} else {
					fmt.Fprintf(&b, "\t%s -> %s;\n", quote(string(id)), quote(string(next)))
				}
			}
		}
	}
	b.WriteString("}\n")
	return b.Bytes()
}

var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", "")

func quote(s string) string { return `"` + dotEscaper.Replace(s) + `"` }

// quoteLines joins label lines with DOT's centered line break.
func quoteLines(lines []string) string {
	esc := make([]string, len(lines))
	for i, l := range lines {
		esc[i] = dotEscaper.Replace(l)
	}
	return `"` + strings.Join(esc, `\n`) + `"`
}

