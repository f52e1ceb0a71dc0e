/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

// Statement is one classified statement of a branch. The set of
// implementations is closed: Line, Choice, Goto and Setter.
type Statement interface {
	// Pos returns the 1-based source line the statement starts on.
	Pos() int
	isStatement()
}

// Line is a line of dialogue: "Speaker: text".
type Line struct {
	Speaker string
	Text    string
	LineNo  int
}

// Option is one entry of a Choice. Target is the label of the branch the
// option leads to; TargetLine is the line of its target marker.
type Option struct {
	Speaker    string
	Text       string
	Target     string
	LineNo     int
	TargetLine int
}

// Choice presents options in source order.
type Choice struct {
	Options []Option
	LineNo  int
}

// Goto jumps to the entry of another branch.
type Goto struct {
	Target string
	LineNo int
}

// Setter assigns Value to Name. Value is kept as opaque text.
type Setter struct {
	Name   string
	Value  string
	LineNo int
}

func (s Line) Pos() int   { return s.LineNo }
func (s Choice) Pos() int { return s.LineNo }
func (s Goto) Pos() int   { return s.LineNo }
func (s Setter) Pos() int { return s.LineNo }

func (Line) isStatement()   {}
func (Choice) isStatement() {}
func (Goto) isStatement()   {}
func (Setter) isStatement() {}

// Branch is a labeled block of statements in file order.
// LineNo is the line of the branch header.
type Branch struct {
	Label      string
	LineNo     int
	Statements []Statement
}

// KindName returns the lower-case kind of a statement ("line", "choice",
// "goto" or "setter").
func KindName(s Statement) string {
	switch s.(type) {
	case Line:
		return "line"
	case Choice:
		return "choice"
	case Goto:
		return "goto"
	case Setter:
		return "setter"
	default:
		return "unknown"
	}
}
