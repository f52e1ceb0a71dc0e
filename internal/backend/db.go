/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package backend publishes the master graph to PostgreSQL so other tools can
// query compiled scripts without reading the output files.
package backend

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"scriptgraph/internal/export"
	"scriptgraph/internal/master"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultTimeout bounds a single publish when the caller passes zero.
const DefaultTimeout = 15 * time.Second

// Publisher mirrors master snapshots into the scripts table.
type Publisher struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

// Open connects to dsn, overriding its password when one is given, and
// applies pending migrations.
func Open(ctx context.Context, dsn, password string, timeout time.Duration) (*Publisher, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("backend: empty dsn")
	}
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if password != "" {
		cfg.Password = password
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	db := stdlib.OpenDB(*cfg)
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := applyMigrations(pctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Publisher{db: db, timeout: timeout, logger: slog.Default()}, nil
}

// WithLogger replaces the logger used for publish diagnostics.
func (p *Publisher) WithLogger(l *slog.Logger) *Publisher {
	if l != nil {
		p.logger = l
	}
	return p
}

// Close releases the connection pool.
func (p *Publisher) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Publish upserts every record of snap and deletes rows for files the
// snapshot no longer contains. It runs in a single transaction.
func (p *Publisher) Publish(ctx context.Context, snap master.Snapshot) (err error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	files := snap.Files()
	for _, f := range files {
		data, err := export.Marshal(snap.Records[f])
		if err != nil {
			return fmt.Errorf("marshal %s: %w", f, err)
		}
		// dialect=PostgreSQL
		if _, err := tx.ExecContext(ctx, `INSERT INTO scripts(file, revision, record, updated_at)
			VALUES ($1, $2, $3::jsonb, now())
			ON CONFLICT (file) DO UPDATE SET revision = EXCLUDED.revision, record = EXCLUDED.record, updated_at = now()
			WHERE scripts.record IS DISTINCT FROM EXCLUDED.record`,
			f, int64(snap.Revision), string(data)); err != nil {
			return fmt.Errorf("upsert %s: %w", f, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM scripts WHERE NOT (file = ANY($1::text[]))`, files)
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	pruned, _ := res.RowsAffected()
	p.logger.Debug("published master graph", "revision", snap.Revision, "files", len(files), "pruned", pruned)
	return nil
}

// Files lists the published file names in order.
func (p *Publisher) Files(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT file FROM scripts ORDER BY file`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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

func applyMigrations(ctx context.Context, db *sql.DB) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(strings.ToLower(name), ".sql") {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	// dialect=PostgreSQL
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied := map[int64]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, fname := range files {
		version, err := parseVersion(fname)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", fname))
		if err != nil {
			return err
		}
		sqlText := string(b)
		if strings.TrimSpace(sqlText) == "" {
			continue
		}
		slog.Info("applying migration", "name", fname)
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return fmt.Errorf("apply %s: %w", fname, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations(version, name) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING`, version, fname); err != nil {
			return fmt.Errorf("record %s: %w", fname, err)
		}
	}
	return nil
}

func parseVersion(name string) (int64, error) {
	base := path.Base(name)
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, errors.New("invalid migration filename: " + name)
	}
	v, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}
