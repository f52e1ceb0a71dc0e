/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"errors"
	"fmt"
)

// Kind classifies a build failure.
type Kind int

const (
	KindMalformedLine Kind = iota + 1
	KindDanglingChoice
	KindDuplicateBranch
	KindEmptyBranch
	KindUnresolvedLabel
	KindUnreachableStatement
)

// Sentinel errors for errors.Is checks. Every *Error unwraps to exactly one.
var (
	ErrMalformedLine        = errors.New("malformed line")
	ErrDanglingChoice       = errors.New("dangling choice")
	ErrDuplicateBranch      = errors.New("duplicate branch")
	ErrEmptyBranch          = errors.New("empty branch")
	ErrUnresolvedLabel      = errors.New("unresolved label")
	ErrUnreachableStatement = errors.New("unreachable statement")

	errUnknown = errors.New("build error")
)

func (k Kind) String() string {
	switch k {
	case KindMalformedLine:
		return "malformed_line"
	case KindDanglingChoice:
		return "dangling_choice"
	case KindDuplicateBranch:
		return "duplicate_branch"
	case KindEmptyBranch:
		return "empty_branch"
	case KindUnresolvedLabel:
		return "unresolved_label"
	case KindUnreachableStatement:
		return "unreachable_statement"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindMalformedLine:
		return ErrMalformedLine
	case KindDanglingChoice:
		return ErrDanglingChoice
	case KindDuplicateBranch:
		return ErrDuplicateBranch
	case KindEmptyBranch:
		return ErrEmptyBranch
	case KindUnresolvedLabel:
		return ErrUnresolvedLabel
	case KindUnreachableStatement:
		return ErrUnreachableStatement
	default:
		return errUnknown
	}
}

// Error is a hard failure of one file's build. Text holds the offending raw
// line or label. Branch names the branch the failure was found in, if any.
// OtherLine is the first occurrence for KindDuplicateBranch.
type Error struct {
	Kind      Kind
	File      string
	Line      int
	Text      string
	Branch    string
	OtherLine int
	Msg       string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", e.File, e.Line)
	}
	var head string
	if e.Msg != "" {
		head = fmt.Sprintf("%s: %s: %s", loc, e.Kind.sentinel(), e.Msg)
	} else {
		head = fmt.Sprintf("%s: %s", loc, e.Kind.sentinel())
	}
	if e.Text != "" {
		head += fmt.Sprintf(" (%q)", e.Text)
	}
	if e.OtherLine > 0 {
		head += fmt.Sprintf(", first defined at %s:%d", e.File, e.OtherLine)
	}
	return head
}

func (e *Error) Unwrap() error { return e.Kind.sentinel() }

// AsError extracts a *Error from err, if present.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
