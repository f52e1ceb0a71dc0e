/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package report formats scan results and build history for the terminal.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"scriptgraph/internal/storage"
	"scriptgraph/internal/watch"
)

var (
	colorOK    = lipgloss.Color("#2CD7C7")
	colorWarn  = lipgloss.Color("#F4D03F")
	colorError = lipgloss.Color("#E74C3C")
	colorMuted = lipgloss.Color("#5C7A84")
)

// Styles are bound to one renderer so color output follows the writer.
type Styles struct {
	Title lipgloss.Style
	OK    lipgloss.Style
	Warn  lipgloss.Style
	Error lipgloss.Style
	Muted lipgloss.Style
	File  lipgloss.Style
}

// NewStyles builds the palette for r.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Title: r.NewStyle().Bold(true),
		OK:    r.NewStyle().Foreground(colorOK),
		Warn:  r.NewStyle().Foreground(colorWarn),
		Error: r.NewStyle().Foreground(colorError),
		Muted: r.NewStyle().Foreground(colorMuted),
		File:  r.NewStyle().Bold(true),
	}
}

// Scan writes a summary of one pass. Unchanged passes print nothing.
func Scan(w io.Writer, res watch.Result) error {
	if !res.Changed() {
		return nil
	}
	_, err := io.WriteString(w, FormatScan(NewStyles(lipgloss.NewRenderer(w)), res))
	return err
}

// FormatScan renders res with s.
func FormatScan(s Styles, res watch.Result) string {
	var built, failed, removed int
	for _, f := range res.Files {
		switch f.Status {
		case watch.StatusBuilt:
			built++
		case watch.StatusFailed:
			failed++
		case watch.StatusRemoved:
			removed++
		}
	}
	var b strings.Builder
	pass := res.PassID
	if len(pass) > 8 {
		pass = pass[:8]
	}
	b.WriteString(s.Title.Render("scan " + pass))
	b.WriteString(s.Muted.Render(fmt.Sprintf("  %d built, %d failed, %d removed, %d tracked", built, failed, removed, res.Tracked)))
	b.WriteString("\n")

	for _, f := range res.Files {
		switch f.Status {
		case watch.StatusBuilt:
			line := s.OK.Render("✓") + " " + s.File.Render(f.File) + s.Muted.Render(fmt.Sprintf("  %d nodes", f.Nodes))
			if f.Cached {
				line += s.Muted.Render(" (cached)")
			}
			b.WriteString(line + "\n")
			for _, wn := range f.Warnings {
				b.WriteString("  " + s.Warn.Render("⚠") + " " + fmt.Sprintf("%s:%d: branch %q is unreachable", f.File, wn.Line, wn.Branch) + "\n")
			}
		case watch.StatusFailed:
			b.WriteString(s.Error.Render("✗") + " " + errorText(f.Err) + "\n")
			b.WriteString("  " + s.Muted.Render("previous graph kept") + "\n")
		case watch.StatusRemoved:
			b.WriteString(s.Muted.Render("-") + " " + s.File.Render(f.File) + s.Muted.Render("  removed") + "\n")
		}
		if f.OutputErr != nil {
			b.WriteString("  " + s.Error.Render("output:") + " " + errorText(f.OutputErr) + "\n")
		}
	}
	return b.String()
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	// errors.Join output spans lines; keep the report one line per problem.
	return strings.ReplaceAll(err.Error(), "\n", "; ")
}

// History writes build history entries as a table.
func History(w io.Writer, entries []storage.BuildEntry) error {
	if len(entries) == 0 {
		_, err := io.WriteString(w, "no builds recorded\n")
		return err
	}
	_, err := io.WriteString(w, FormatHistory(NewStyles(lipgloss.NewRenderer(w)), entries)+"\n")
	return err
}

// FormatHistory renders entries as a bordered table, newest first.
func FormatHistory(s Styles, entries []storage.BuildEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		result := "ok"
		if !e.OK {
			result = e.ErrorKind
		}
		pass := e.PassID
		if len(pass) > 8 {
			pass = pass[:8]
		}
		rows = append(rows, []string{
			e.Time.Local().Format(time.DateTime),
			pass,
			e.File,
			result,
			strconv.Itoa(e.Nodes),
			strconv.Itoa(e.Warnings),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(s.Muted).
		Headers("TIME", "PASS", "FILE", "RESULT", "NODES", "WARNINGS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.Title.Padding(0, 1)
			}
			if col == 3 && row >= 0 && row < len(entries) {
				if entries[row].OK {
					return s.OK.Padding(0, 1)
				}
				return s.Error.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	return t.String()
}

// ExitCode maps a pass to a process exit status: 1 when any file failed.
func ExitCode(res watch.Result) int {
	if len(res.Failed()) > 0 {
		return 1
	}
	return 0
}

