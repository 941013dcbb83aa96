package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		kind    SpecKind
		spec    string
		wantErr bool
	}{
		{in: "0 7 * * *", kind: SpecCron, spec: "0 7 * * *"},
		{in: "@hourly", kind: SpecCron, spec: "@hourly"},
		{in: "cron:*/5 * * * *", kind: SpecCron, spec: "*/5 * * * *"},
		{in: "at:07:00", kind: SpecCron, spec: "0 7 * * *"},
		{in: "Daily:18:30", kind: SpecCron, spec: "30 18 * * *"},
		{in: "30m", kind: SpecInterval, spec: "@every 30m0s"},
		{in: "every 1h", kind: SpecInterval, spec: "@every 1h0m0s"},
		{in: "interval:02:30", kind: SpecInterval, spec: "@every 2h30m0s"},
		{in: "00:50", kind: SpecInterval, spec: "@every 50m0s"},
		{in: "", wantErr: true},
		{in: "at:24:00", wantErr: true},
		{in: "at:7", wantErr: true},
		{in: "00:00", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			ps, err := ParseSchedule(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", ps)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule: %v", err)
			}
			if ps.Kind != tt.kind || ps.Spec() != tt.spec {
				t.Fatalf("got kind=%v spec=%q, want kind=%v spec=%q", ps.Kind, ps.Spec(), tt.kind, tt.spec)
			}
		})
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	job := func(context.Context) error { return nil }
	if err := s.Add("", "30m", 0, job); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := s.Add("x", "30m", 0, nil); err == nil {
		t.Fatal("nil job accepted")
	}
	if err := s.Add("x", "cron:61 * * * *", 0, job); err == nil {
		t.Fatal("invalid cron accepted")
	}
}

func TestTriggerSkipsOverlappingRuns(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())

	started := make(chan struct{})
	release := make(chan struct{})
	var skipped atomic.Int32
	s.OnSkip = func(string) { skipped.Add(1) }

	if err := s.Add("full", "at:07:00", 0, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add("monitor", "30m", 0, func(ctx context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Trigger(context.Background(), "full") }()
	<-started

	if err := s.Trigger(context.Background(), "monitor"); !errors.Is(err, ErrBusy) {
		t.Fatalf("overlapping trigger err = %v, want ErrBusy", err)
	}
	if skipped.Load() != 1 {
		t.Fatalf("OnSkip calls = %d", skipped.Load())
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("full run: %v", err)
	}
	if err := s.Trigger(context.Background(), "monitor"); err != nil {
		t.Fatalf("trigger after release: %v", err)
	}
}

func TestTriggerRecoversPanicAndAppliesTimeout(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	_ = s.Add("boom", "1h", 0, func(context.Context) error { panic("bad") })
	_ = s.Add("slow", "1h", 20*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := s.Trigger(context.Background(), "boom"); err == nil {
		t.Fatal("panic not reported as error")
	}
	if err := s.Trigger(context.Background(), "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("slow err = %v", err)
	}
	if err := s.Trigger(context.Background(), "missing"); err == nil {
		t.Fatal("unknown schedule accepted")
	}
}

func TestStartStopNext(t *testing.T) {
	t.Parallel()
	s := New(time.UTC, logx.Nop())
	var runs atomic.Int32
	_ = s.Add("tick", "every 1h", 0, func(context.Context) error { runs.Add(1); return nil })
	if !s.Next("tick").IsZero() {
		t.Fatal("Next before Start should be zero")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	next := s.Next("tick")
	if next.IsZero() || next.Before(time.Now()) {
		t.Fatalf("Next = %v", next)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	if !s.Next("tick").IsZero() {
		t.Fatal("Next after Stop should be zero")
	}
}
