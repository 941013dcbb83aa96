package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

//go:embed migrations_postgres.sql
var postgresSchema string

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout > 0 {
		pcfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	p, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	pingCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	if err := p.Ping(pingCtx); err != nil {
		p.Close()
		return nil, err
	}
	if _, err := p.Exec(ctx, postgresSchema); err != nil {
		p.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &postgresStore{pool: p, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) Snapshot(ctx context.Context, source string) ([]record.Record, error) {
	if err := validSource(source); err != nil {
		return nil, fail("read", source, err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT position, fields_json FROM monitor_snapshots WHERE source = $1 ORDER BY position`, source)
	if err != nil {
		return nil, fail("read", source, err)
	}
	defer rows.Close()

	out := make([]record.Record, 0)
	for rows.Next() {
		var (
			pos int32
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

// ReplaceSnapshot swaps the rows inside one transaction, bulk-loading the new
// sequence with COPY.
func (s *postgresStore) ReplaceSnapshot(ctx context.Context, source string, records []record.Record) error {
	if err := validSource(source); err != nil {
		return fail("replace", source, err)
	}
	rows := make([][]any, 0, len(records))
	for i, r := range records {
		raw, err := encodeRecord(r)
		if err != nil {
			return fail("replace", source, err)
		}
		rows = append(rows, []any{source, int32(i), raw})
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM monitor_snapshots WHERE source = $1`, source); err != nil {
			return err
		}
		if len(rows) > 0 {
			if _, err := tx.CopyFrom(ctx,
				pgx.Identifier{"monitor_snapshots"},
				[]string{"source", "position", "fields_json"},
				pgx.CopyFromRows(rows),
			); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO monitor_sources(source, updated_at) VALUES($1, now())
			 ON CONFLICT(source) DO UPDATE SET updated_at = excluded.updated_at`, source)
		return err
	})
	if err != nil {
		return fail("replace", source, err)
	}
	s.log.Debug("snapshot replaced", logx.String("source", source), logx.Int("records", len(records)))
	return nil
}

func (s *postgresStore) Sources(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT source FROM monitor_sources ORDER BY source`)
	if err != nil {
		return nil, fail("list", "", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fail("list", "", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}
