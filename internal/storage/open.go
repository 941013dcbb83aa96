package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

// Store persists the last successfully observed records of each source.
//
// Snapshot returns an empty, non-nil slice for a source that was never
// stored. ReplaceSnapshot swaps a source's snapshot in full and atomically:
// readers see either the old or the new sequence, never a mix, and the new
// one is durable once the call returns. All errors match ErrStorageFailure.
type Store interface {
	Snapshot(ctx context.Context, source string) ([]record.Record, error)
	ReplaceSnapshot(ctx context.Context, source string, records []record.Record) error
	Sources(ctx context.Context) ([]string, error)
	Close() error
}

// Open initializes the configured store. An empty driver selects "file".
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	var (
		st  Store
		err error
	)
	switch driver {
	case "", "file", "json":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pgx":
		st, err = openPostgres(ctx, cfg, log)
	case "redis":
		st, err = openRedis(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, fail("open", "", err)
	}
	log.Debug("store opened")
	return st, nil
}

func validSource(source string) error {
	if strings.TrimSpace(source) == "" {
		return errors.New("empty source id")
	}
	return nil
}

// encodeRecord and decodeRecord are the row format shared by the SQL and
// Redis drivers: one flat JSON object per record.
func encodeRecord(r record.Record) (string, error) {
	if r == nil {
		r = record.Record{}
	}
	b, err := json.Marshal(r)
	return string(b), err
}

func decodeRecord(s string) (record.Record, error) {
	var r record.Record
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.New("null record")
	}
	return r, nil
}
