/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// BuildEntry is one file's outcome within a scan pass.
type BuildEntry struct {
	PassID    string
	File      string
	Time      time.Time
	OK        bool
	ErrorKind string
	Error     string
	Nodes     int
	Warnings  int
}

// StoredRecord is the last good serialized record of a file.
type StoredRecord struct {
	File      string
	Hash      string
	Record    []byte
	UpdatedAt time.Time
}

// RecordBuild appends entries to the build history in one transaction.
func (x *Index) RecordBuild(ctx context.Context, entries ...BuildEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO builds(pass_id, file, ts, ok, error_kind, error, nodes, warnings) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		ts := e.Time
		if ts.IsZero() {
			ts = time.Now()
		}
		ok := 0
		if e.OK {
			ok = 1
		}
		if _, err := stmt.ExecContext(ctx, e.PassID, e.File, ts.UTC().Format(time.RFC3339Nano), ok,
			nullable(e.ErrorKind), nullable(e.Error), e.Nodes, e.Warnings); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert build %s: %w", e.File, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// History returns the newest build entries first. An empty file selects all
// files; limit <= 0 means no limit.
func (x *Index) History(ctx context.Context, file string, limit int) ([]BuildEntry, error) {
	q := `SELECT pass_id, file, ts, ok, COALESCE(error_kind,''), COALESCE(error,''), nodes, warnings FROM builds`
	var args []any
	if file != "" {
		q += ` WHERE file=?`
		args = append(args, file)
	}
	q += ` ORDER BY ts DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := x.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()
	var out []BuildEntry
	for rows.Next() {
		var e BuildEntry
		var ts string
		var ok int
		if err := rows.Scan(&e.PassID, &e.File, &ts, &ok, &e.ErrorKind, &e.Error, &e.Nodes, &e.Warnings); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.OK = ok != 0
		if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			e.Time = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveRecord stores rec as the last good record of file.
func (x *Index) SaveRecord(ctx context.Context, file, hash string, rec []byte) error {
	_, err := x.db.ExecContext(ctx, `INSERT INTO records(file, hash, record, updated_at) VALUES(?,?,?,?)
		ON CONFLICT(file) DO UPDATE SET hash=excluded.hash, record=excluded.record, updated_at=excluded.updated_at`,
		file, hash, string(rec), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save record %s: %w", file, err)
	}
	return nil
}

// LatestRecord returns the stored record of file; ok is false when none exists.
func (x *Index) LatestRecord(ctx context.Context, file string) (StoredRecord, bool, error) {
	var r StoredRecord
	var rec, ts string
	err := x.db.QueryRowContext(ctx, `SELECT file, hash, record, updated_at FROM records WHERE file=?`, file).Scan(&r.File, &r.Hash, &rec, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredRecord{}, false, nil
	}
	if err != nil {
		return StoredRecord{}, false, fmt.Errorf("read record %s: %w", file, err)
	}
	r.Record = []byte(rec)
	if t, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
		r.UpdatedAt = t
	}
	return r, true, nil
}

// DeleteRecord removes the stored record of file.
func (x *Index) DeleteRecord(ctx context.Context, file string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM records WHERE file=?`, file); err != nil {
		return fmt.Errorf("delete record %s: %w", file, err)
	}
	return nil
}

// RecordFiles lists files that have a stored record, sorted.
func (x *Index) RecordFiles(ctx context.Context) ([]string, error) {
	rows, err := x.db.QueryContext(ctx, `SELECT file FROM records ORDER BY file`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
