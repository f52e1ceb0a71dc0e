/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"regexp"
	"strings"
)

// Markers recognised at the start of a trimmed line.
const (
	OptionMarker = "***"
	TargetMarker = "-->"
	SetterOpen   = "<<{"
	SetterClose  = "}>>"
	CommentMark  = "#"

	OpenSymbol  = '-'
	CloseSymbol = '='
)

const delimiterSymbols = "-=~*+_"

var (
	reLabel    = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_ .'\-]*$`)
	reVariable = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)
)

// TokenKind is the classification of one non-blank line.
type TokenKind int

const (
	TokDelimiter TokenKind = iota + 1
	TokOption
	TokTarget
	TokSetter
	TokLine
)

// Token is a classified line. Only the fields of its Kind are set.
type Token struct {
	Kind    TokenKind
	LineNo  int
	Raw     string
	Symbol  byte // TokDelimiter
	Speaker string
	Text    string
	Label   string // TokTarget
	Name    string // TokSetter
	Value   string // TokSetter
}

// Classify turns one non-blank source line into a Token. Forms are tried in
// order: delimiter run, choice option, target marker, setter, speaker line.
// A line matching none of them is a KindMalformedLine error.
func Classify(file string, lineNo int, raw string) (Token, error) {
	trim := strings.TrimSpace(raw)
	malformed := func(msg string) (Token, error) {
		return Token{}, &Error{Kind: KindMalformedLine, File: file, Line: lineNo, Text: trim, Msg: msg}
	}
	if trim == "" {
		return malformed("blank line")
	}
	tok := Token{LineNo: lineNo, Raw: raw}

	if sym, ok := delimiterRun(trim); ok {
		tok.Kind = TokDelimiter
		tok.Symbol = sym
		return tok, nil
	}

	if rest, ok := strings.CutPrefix(trim, OptionMarker); ok {
		speaker, text, ok := splitSpeaker(rest)
		if !ok {
			return malformed("choice option needs \"speaker: text\"")
		}
		tok.Kind = TokOption
		tok.Speaker, tok.Text = speaker, text
		return tok, nil
	}

	if rest, ok := strings.CutPrefix(trim, TargetMarker); ok {
		label := strings.TrimSpace(rest)
		if !ValidLabel(label) {
			return malformed("invalid target label")
		}
		tok.Kind = TokTarget
		tok.Label = label
		return tok, nil
	}

	if rest, ok := strings.CutPrefix(trim, SetterOpen); ok {
		body, ok := strings.CutSuffix(rest, SetterClose)
		if !ok {
			return malformed("setter is not closed with " + SetterClose)
		}
		name, value, ok := strings.Cut(body, "=")
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)
		if !ok || !reVariable.MatchString(name) || value == "" {
			return malformed("setter needs \"name = value\"")
		}
		tok.Kind = TokSetter
		tok.Name, tok.Value = name, value
		return tok, nil
	}

	if speaker, text, ok := splitSpeaker(trim); ok {
		tok.Kind = TokLine
		tok.Speaker, tok.Text = speaker, text
		return tok, nil
	}
	return malformed("unrecognised statement")
}

// ValidLabel reports whether s can name a branch.
func ValidLabel(s string) bool { return reLabel.MatchString(s) }

// IsMarkerLine reports whether a trimmed line starts a statement of its own
// and so can never continue the text of a previous one.
func IsMarkerLine(trim string) bool {
	if _, ok := delimiterRun(trim); ok {
		return true
	}
	return strings.HasPrefix(trim, OptionMarker) ||
		strings.HasPrefix(trim, TargetMarker) ||
		strings.HasPrefix(trim, SetterOpen) ||
		strings.HasPrefix(trim, CommentMark)
}

func delimiterRun(trim string) (byte, bool) {
	if len(trim) < 3 || strings.IndexByte(delimiterSymbols, trim[0]) < 0 {
		return 0, false
	}
	for i := 1; i < len(trim); i++ {
		if trim[i] != trim[0] {
			return 0, false
		}
	}
	return trim[0], true
}

func splitSpeaker(s string) (string, string, bool) {
	speaker, text, ok := strings.Cut(s, ":")
	speaker, text = strings.TrimSpace(speaker), strings.TrimSpace(text)
	if !ok || speaker == "" || text == "" {
		return "", "", false
	}
	return speaker, text, true
}
