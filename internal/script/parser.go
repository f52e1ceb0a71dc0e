/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"bufio"
	"strings"
)

type sourceLine struct {
	no   int
	raw  string
	trim string
}

// Parse groups the lines of one file into branches.
//
// Syntax:
//
//	BranchLabel
//	---
//	Speaker: a line of dialogue
//	    indented lines continue the previous line or option
//	*** Speaker: first option
//	    --> OtherBranch
//	*** Speaker: second option
//	    --> ThirdBranch
//	<<{ mood = tense }>>
//	--> OtherBranch
//	===
//
// A branch is opened by a label line followed by a run of "-" and closed by
// a run of "=", the next branch header or the end of the file. Blank lines
// and lines starting with "#" are ignored. Branches may be empty here; the
// graph builder rejects them.
func Parse(file, input string) ([]Branch, error) {
	lines, err := significantLines(input)
	if err != nil {
		return nil, &Error{Kind: KindMalformedLine, File: file, Msg: err.Error()}
	}
	p := &branchParser{file: file, seen: map[string]int{}}
	for i := 0; i < len(lines); i++ {
		ln := lines[i]
		if i+1 < len(lines) && isOpening(lines[i+1].trim) && !IsMarkerLine(ln.trim) {
			if err := p.openBranch(ln); err != nil {
				return nil, err
			}
			i++ // opening run
			continue
		}
		if err := p.line(ln); err != nil {
			return nil, err
		}
	}
	if err := p.closeBranch(); err != nil {
		return nil, err
	}
	return p.branches, nil
}

type branchParser struct {
	file     string
	branches []Branch
	seen     map[string]int

	cur     *Branch
	pending *Line   // dialogue line, open for continuation
	choice  *Choice // open for more options
	option  *Option // option of choice still waiting for its target
	cont    *string // text that an indented line continues
}

func (p *branchParser) openBranch(ln sourceLine) error {
	if err := p.closeBranch(); err != nil {
		return err
	}
	label := ln.trim
	if !ValidLabel(label) {
		return &Error{Kind: KindMalformedLine, File: p.file, Line: ln.no, Text: label, Msg: "invalid branch label"}
	}
	if first, dup := p.seen[label]; dup {
		return &Error{Kind: KindDuplicateBranch, File: p.file, Line: ln.no, Text: label, Branch: label, OtherLine: first,
			Msg: "label already defined"}
	}
	p.seen[label] = ln.no
	p.cur = &Branch{Label: label, LineNo: ln.no}
	return nil
}

func (p *branchParser) closeBranch() error {
	if p.cur == nil {
		return nil
	}
	if err := p.flush(); err != nil {
		return err
	}
	p.branches = append(p.branches, *p.cur)
	p.cur = nil
	return nil
}

// flush appends the pending line or choice to the current branch.
func (p *branchParser) flush() error {
	if p.option != nil {
		return p.dangling()
	}
	if p.pending != nil {
		p.cur.Statements = append(p.cur.Statements, *p.pending)
		p.pending = nil
	}
	if p.choice != nil {
		p.cur.Statements = append(p.cur.Statements, *p.choice)
		p.choice = nil
	}
	p.cont = nil
	return nil
}

func (p *branchParser) dangling() error {
	o := p.option
	return &Error{Kind: KindDanglingChoice, File: p.file, Line: o.LineNo, Text: o.Speaker + ": " + o.Text, Branch: p.cur.Label,
		Msg: "choice option has no target"}
}

func (p *branchParser) line(ln sourceLine) error {
	if p.cont != nil && indented(ln.raw) && !IsMarkerLine(ln.trim) {
		*p.cont += " " + ln.trim
		return nil
	}
	tok, err := Classify(p.file, ln.no, ln.raw)
	if err != nil {
		if se, ok := AsError(err); ok && p.cur != nil {
			se.Branch = p.cur.Label
		}
		return err
	}
	if tok.Kind == TokDelimiter {
		if tok.Symbol == CloseSymbol && p.cur != nil {
			return p.closeBranch()
		}
		return &Error{Kind: KindMalformedLine, File: p.file, Line: ln.no, Text: ln.trim, Msg: "unexpected delimiter"}
	}
	if p.cur == nil {
		return &Error{Kind: KindMalformedLine, File: p.file, Line: ln.no, Text: ln.trim, Msg: "statement outside of a branch"}
	}

	switch tok.Kind {
	case TokOption:
		if p.option != nil {
			return p.dangling()
		}
		if p.choice == nil {
			if err := p.flush(); err != nil {
				return err
			}
			p.choice = &Choice{LineNo: ln.no}
		}
		p.choice.Options = append(p.choice.Options, Option{Speaker: tok.Speaker, Text: tok.Text, LineNo: ln.no})
		p.option = &p.choice.Options[len(p.choice.Options)-1]
		p.cont = &p.option.Text
	case TokTarget:
		if p.option != nil {
			p.option.Target = tok.Label
			p.option.TargetLine = ln.no
			p.option = nil
			p.cont = nil
			return nil
		}
		if err := p.flush(); err != nil {
			return err
		}
		p.cur.Statements = append(p.cur.Statements, Goto{Target: tok.Label, LineNo: ln.no})
	case TokSetter:
		if err := p.flush(); err != nil {
			return err
		}
		p.cur.Statements = append(p.cur.Statements, Setter{Name: tok.Name, Value: tok.Value, LineNo: ln.no})
	case TokLine:
		if err := p.flush(); err != nil {
			return err
		}
		p.pending = &Line{Speaker: tok.Speaker, Text: tok.Text, LineNo: ln.no}
		p.cont = &p.pending.Text
	}
	return nil
}

func significantLines(input string) ([]sourceLine, error) {
	var out []sourceLine
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimRight(scanner.Text(), "\r\n")
		if lineNo == 1 {
			raw = strings.TrimPrefix(raw, byteOrderMark)
		}
		trim := strings.TrimSpace(raw)
		if trim == "" || strings.HasPrefix(trim, CommentMark) {
			continue
		}
		out = append(out, sourceLine{no: lineNo, raw: raw, trim: trim})
	}
	return out, scanner.Err()
}

const byteOrderMark = "\ufeff"

func isOpening(trim string) bool {
	sym, ok := delimiterRun(trim)
	return ok && sym == OpenSymbol
}

func indented(raw string) bool {
	return strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t")
}
