package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = FULL")

	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Snapshot(ctx context.Context, source string) ([]record.Record, error) {
	if err := validSource(source); err != nil {
		return nil, fail("read", source, err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, fields_json FROM snapshots WHERE source = ? ORDER BY position`, source)
	if err != nil {
		return nil, fail("read", source, err)
	}
	defer rows.Close()

	out := make([]record.Record, 0)
	for rows.Next() {
		var (
			pos int
			raw string
		)
		if err := rows.Scan(&pos, &raw); err != nil {
			return nil, fail("read", source, err)
		}
		r, err := decodeRecord(raw)
		if err != nil {
			return nil, corrupt("read", source, fmt.Errorf("position %d: %v", pos, err))
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("read", source, err)
	}
	return out, nil
}

// ReplaceSnapshot deletes and re-inserts the source's rows in one transaction.
func (s *sqliteStore) ReplaceSnapshot(ctx context.Context, source string, records []record.Record) error {
	if err := validSource(source); err != nil {
		return fail("replace", source, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("replace", source, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE source = ?`, source); err != nil {
		return fail("replace", source, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshots(source, position, fields_json) VALUES(?,?,?)`)
	if err != nil {
		return fail("replace", source, err)
	}
	defer stmt.Close()
	for i, r := range records {
		raw, err := encodeRecord(r)
		if err != nil {
			return fail("replace", source, err)
		}
		if _, err := stmt.ExecContext(ctx, source, i, raw); err != nil {
			return fail("replace", source, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sources(source, updated_at) VALUES(?,?)
		 ON CONFLICT(source) DO UPDATE SET updated_at=excluded.updated_at`,
		source, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fail("replace", source, err)
	}
	if err := tx.Commit(); err != nil {
		return fail("replace", source, err)
	}
	s.log.Debug("snapshot replaced", logx.String("source", source), logx.Int("records", len(records)))
	return nil
}

func (s *sqliteStore) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source FROM sources ORDER BY source`)
	if err != nil {
		return nil, fail("list", "", err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fail("list", "", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("list", "", err)
	}
	return out, nil
}
