package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad json line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWriterFieldsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "pipeline"))

	log.Debug("hidden")
	log.Info("run finished",
		Int("new", 3),
		Strings("high", []string{"ohare"}),
		Duration("took", 1500*time.Millisecond),
		Err(errors.New("smtp down")),
		Err(nil),
	)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines = %d: %s", len(lines), buf.String())
	}
	got := lines[0]
	if got["comp"] != "pipeline" || got["message"] != "run finished" || got["new"] != float64(3) {
		t.Fatalf("line = %v", got)
	}
	if got["err"] != "smtp down" {
		t.Fatalf("err field = %v", got["err"])
	}
	if c, _ := got["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", got["caller"])
	}
}

func TestZeroAndNopLoggers(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	zero.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop is an explicit logger")
	}
	Nop().Error("dropped", String("k", "v"))
}

func TestParseLevel(t *testing.T) {
	for _, s := range []string{"", "debug", "INFO", "warning", " error "} {
		if _, ok := ParseLevel(s); !ok {
			t.Errorf("ParseLevel(%q) rejected", s)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Error("ParseLevel accepted an unknown level")
	}
}

func TestServiceFileSinkAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "monitor.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log.Info("first")
	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("suppressed after apply")
	log.Error("second")
	_ = svc.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if !strings.Contains(s, "first") || !strings.Contains(s, "second") || strings.Contains(s, "suppressed") {
		t.Fatalf("log file:\n%s", s)
	}
}
