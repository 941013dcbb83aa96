package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

// fileStore keeps every snapshot in one human-readable JSON document:
//
//	{ "<source>": [ {"field": "value", ...}, ... ], ... }
//
// A replace rewrites the whole document to a temp file in the same
// directory, fsyncs it and renames it over the old one.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool

	// beforeRename runs after the temp file is synced and before it is
	// renamed into place. Tests use it to simulate a crash mid-replace.
	beforeRename func(tmpPath string) error
}

type document map[string][]record.Record

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path}
	// Surface corruption at startup instead of on the first run.
	if _, err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) Snapshot(ctx context.Context, source string) ([]record.Record, error) {
	if err := validSource(source); err != nil {
		return nil, fail("read", source, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fail("read", source, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fail("read", source, ErrClosed)
	}
	doc, err := s.load()
	if err != nil {
		return nil, fail("read", source, err)
	}
	return record.CloneAll(doc[source]), nil
}

func (s *fileStore) ReplaceSnapshot(ctx context.Context, source string, records []record.Record) error {
	if err := validSource(source); err != nil {
		return fail("replace", source, err)
	}
	if err := ctx.Err(); err != nil {
		return fail("replace", source, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fail("replace", source, ErrClosed)
	}

	doc, err := s.load()
	if err != nil {
		return fail("replace", source, err)
	}
	snap := record.CloneAll(records)
	// load rejects null entries, so a nil record is stored as {} like the SQL drivers do.
	for i, r := range snap {
		if r == nil {
			snap[i] = record.Record{}
		}
	}
	doc[source] = snap
	if err := s.write(doc); err != nil {
		return fail("replace", source, err)
	}
	s.log.Debug("snapshot replaced", logx.String("source", source), logx.Int("records", len(records)))
	return nil
}

func (s *fileStore) Sources(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fail("list", "", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fail("list", "", ErrClosed)
	}
	doc, err := s.load()
	if err != nil {
		return nil, fail("list", "", err)
	}
	out := make([]string, 0, len(doc))
	for k := range doc {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// load reads the whole document. A missing or blank file is an empty
// document; anything that does not decode is ErrCorrupt.
func (s *fileStore) load() (document, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return document{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, corrupt("read", "", err)
	}
	if dec.More() {
		return nil, corrupt("read", "", errors.New("trailing data after document"))
	}
	if doc == nil {
		return nil, corrupt("read", "", errors.New("document is null"))
	}
	for src, recs := range doc {
		for i, r := range recs {
			if r == nil {
				return nil, corrupt("read", src, fmt.Errorf("null record at position %d", i))
			}
		}
	}
	return doc, nil
}

func (s *fileStore) write(doc document) (err error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	dir := filepath.Dir(s.path)
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp, 0o600); err != nil {
		return err
	}
	if s.beforeRename != nil {
		if err = s.beforeRename(tmp); err != nil {
			return err
		}
	}
	if err = os.Rename(tmp, s.path); err != nil {
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir persists the rename on filesystems that need it. Best-effort.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
