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

	"github.com/jung-kurt/gofpdf"

	"scriptgraph/internal/export"
)

// PDF renders a printable branch sheet for rec: one section per branch with
// every node's id, heading and wrapped text.
// Built-in Helvetica keeps text vector without embedding; UTF-8 input is
// translated to the core font's code page.
func PDF(rec export.Record, opts Options) ([]byte, error) {
	width := opts.width()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(rec.File, true)
	pdf.SetAuthor("scriptgraph", false)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(rec.File), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(90, 90, 90)
	pdf.CellFormat(0, 5, tr(fmt.Sprintf("entry %s, %d nodes, speakers: %v", rec.Entry, len(rec.Nodes), rec.Speakers)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	for _, g := range groups(rec) {
		pdf.SetTextColor(0, 0, 0)
		pdf.SetFont("Helvetica", "B", 12)
		title := g.Label
		if g.Unreachable {
			title += " (unreachable)"
		}
		pdf.CellFormat(0, 8, tr(title), "B", 1, "L", false, 0, "")
		pdf.Ln(1)
		for _, id := range g.Nodes {
			n := rec.Nodes[id]
			head, body := nodeText(n, width)
			pdf.SetFont("Courier", "", 8)
			pdf.SetTextColor(120, 120, 120)
			pdf.CellFormat(0, 4, tr(fmt.Sprintf("%s  line %d", id, n.Line)), "", 1, "L", false, 0, "")
			pdf.SetTextColor(0, 0, 0)
			pdf.SetFont("Helvetica", "B", 10)
			for _, l := range head {
				pdf.CellFormat(0, 5, tr(l), "", 1, "L", false, 0, "")
			}
			pdf.SetFont("Helvetica", "", 10)
			for _, l := range body {
				pdf.CellFormat(0, 5, tr(l), "", 1, "L", false, 0, "")
			}
			if n.Next != nil {
				pdf.SetFont("Helvetica", "I", 8)
				pdf.SetTextColor(90, 90, 90)
				for k, next := range n.Next.IDs {
					s := "next: " + string(next)
					if n.Next.Multi {
						s = fmt.Sprintf("option %d: %s", k, next)
					}
					pdf.CellFormat(0, 4, tr(s), "", 1, "L", false, 0, "")
				}
			}
			pdf.Ln(2)
		}
		pdf.Ln(3)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
