/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export turns built graphs into the structured record consumed by
// writers and renderers. The record is one-way: nothing reads it back into
// a Graph.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"scriptgraph/internal/graph"
	"scriptgraph/internal/script"
)

// Record is the serialized form of one file's graph.
type Record struct {
	File     string                      `json:"file"`
	Entry    graph.NodeID                `json:"entry"`
	Branches map[string]graph.NodeID     `json:"branches"`
	Speakers []string                    `json:"speakers"`
	Nodes    map[graph.NodeID]NodeRecord `json:"nodes"`
	Warnings []WarningRecord             `json:"warnings"`
}

// NodeRecord carries the kind-specific fields of one node.
type NodeRecord struct {
	Kind     string         `json:"kind"`
	Branch   string         `json:"branch"`
	Line     int            `json:"line"`
	Speaker  string         `json:"speaker,omitempty"`
	Text     string         `json:"text,omitempty"`
	Options  []OptionRecord `json:"options,omitempty"`
	Target   string         `json:"target,omitempty"`
	Variable string         `json:"variable,omitempty"`
	Value    string         `json:"value,omitempty"`
	Next     *Next          `json:"next,omitempty"`
}

// OptionRecord is one choice option. Target is the branch label and Next
// the resolved entry node of that branch.
type OptionRecord struct {
	Speaker string       `json:"speaker"`
	Text    string       `json:"text"`
	Target  string       `json:"target"`
	Next    graph.NodeID `json:"next"`
}

// WarningRecord is a non-fatal finding.
type WarningRecord struct {
	Kind   string `json:"kind"`
	Branch string `json:"branch"`
	Line   int    `json:"line"`
}

// Next is a successor: a single id for line, setter and goto nodes, a list
// of ids for choice nodes.
type Next struct {
	IDs   []graph.NodeID
	Multi bool
}

func (n Next) MarshalJSON() ([]byte, error) {
	if n.Multi {
		ids := n.IDs
		if ids == nil {
			ids = []graph.NodeID{}
		}
		return json.Marshal(ids)
	}
	if len(n.IDs) != 1 {
		return nil, fmt.Errorf("single successor with %d ids", len(n.IDs))
	}
	return json.Marshal(n.IDs[0])
}

// Serialize converts a built graph into its Record.
func Serialize(g *graph.Graph) Record {
	rec := Record{
		File:     g.File,
		Entry:    g.Entry,
		Branches: make(map[string]graph.NodeID, len(g.Labels)),
		Speakers: g.Speakers(),
		Nodes:    make(map[graph.NodeID]NodeRecord, len(g.Nodes)),
		Warnings: []WarningRecord{},
	}
	if rec.Speakers == nil {
		rec.Speakers = []string{}
	}
	for label, id := range g.Labels {
		rec.Branches[label] = id
	}
	for _, n := range g.Nodes {
		rec.Nodes[n.ID] = nodeRecord(n)
	}
	for _, w := range g.Warnings {
		rec.Warnings = append(rec.Warnings, WarningRecord{Kind: w.Kind.String(), Branch: w.Branch, Line: w.Line})
	}
	return rec
}

func nodeRecord(n graph.Node) NodeRecord {
	nr := NodeRecord{Kind: script.KindName(n.Stmt), Branch: n.Branch, Line: n.Stmt.Pos()}
	switch s := n.Stmt.(type) {
	case script.Line:
		nr.Speaker, nr.Text = s.Speaker, s.Text
	case script.Setter:
		nr.Variable, nr.Value = s.Name, s.Value
	case script.Goto:
		nr.Target = s.Target
	case script.Choice:
		nr.Options = make([]OptionRecord, len(s.Options))
		for i, o := range s.Options {
			nr.Options[i] = OptionRecord{Speaker: o.Speaker, Text: o.Text, Target: o.Target, Next: n.Edges[i].Target}
		}
		nr.Next = &Next{IDs: n.Successors(), Multi: true}
		return nr
	}
	if n.Next != "" {
		nr.Next = &Next{IDs: []graph.NodeID{n.Next}}
	}
	return nr
}

// Marshal encodes a Record as indented JSON with a trailing newline.
// Map keys are sorted by encoding/json, so equal records give equal bytes.
func Marshal(rec Record) ([]byte, error) {
	return encode(rec)
}

// MarshalMaster encodes the aggregate of all records keyed by file.
func MarshalMaster(records map[string]Record) ([]byte, error) {
	if records == nil {
		records = map[string]Record{}
	}
	return encode(records)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}
