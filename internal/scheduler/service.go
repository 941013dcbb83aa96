// Package scheduler triggers monitor runs on cron or interval schedules.
//
// Runs never overlap: every schedule of a Service shares one run lock, and a
// trigger that fires while another run is in flight is skipped, not queued.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

// ErrBusy is returned by Trigger when another run holds the run lock.
var ErrBusy = errors.New("scheduler: a run is already in progress")

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

type Service struct {
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser

	mu   sync.Mutex
	c    *cron.Cron
	ctx  context.Context
	defs []*scheduleDef

	// runMu serializes job bodies across all schedules.
	runMu sync.Mutex

	// OnSkip, if set, is called when a trigger is dropped because a run is in flight.
	OnSkip func(name string)
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log: log,
		loc: loc,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Location is the timezone cron specs are evaluated in.
func (s *Service) Location() *time.Location { return s.loc }

// Add registers (or replaces, by name) a schedule. It may be called before
// or after Start.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("%s: invalid cron %q: %w", name, ps.Cron, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &scheduleDef{name: name, spec: ps, timeout: timeout, job: job}
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			return err
		}
	}
	s.log.Info("schedule registered",
		logx.String("name", name),
		logx.String("spec", ps.Spec()),
		logx.String("next", s.previewNextRunsLocked(ps, 3)),
	)
	return nil
}

// Start begins triggering. Jobs run with a context derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and waits for a running job until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Trigger runs the named schedule's job now, under the run lock. It returns
// ErrBusy instead of waiting when another run is in flight.
func (s *Service) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	var d *scheduleDef
	for _, x := range s.defs {
		if x.name == name {
			d = x
		}
	}
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("unknown schedule %q", name)
	}
	return s.run(ctx, d)
}

// Next reports the next fire time of a schedule, or zero if not started.
func (s *Service) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	for _, d := range s.defs {
		if d.name == name {
			return s.c.Entry(d.entryID).Next
		}
	}
	return time.Time{}
}

func (s *Service) run(ctx context.Context, d *scheduleDef) (err error) {
	if !s.runMu.TryLock() {
		s.log.Warn("run skipped: previous run still in progress", logx.String("name", d.name))
		if s.OnSkip != nil {
			s.OnSkip(d.name)
		}
		return ErrBusy
	}
	defer s.runMu.Unlock()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("job panicked",
				logx.String("name", d.name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	err = d.job(ctx)
	took := time.Since(start)
	if err != nil {
		s.log.Error("job failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
		return err
	}
	s.log.Debug("job done", logx.String("name", d.name), logx.Duration("took", took))
	return nil
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		_ = s.run(ctx, d)
	})

	if d.spec.Kind == SpecInterval {
		d.entryID = s.c.Schedule(cron.Every(d.spec.Every), job)
		return nil
	}
	eid, err := s.c.AddJob(d.spec.Cron, job)
	if err != nil {
		return err
	}
	d.entryID = eid
	return nil
}

func (s *Service) removeLocked(name string) {
	kept := s.defs[:0]
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil {
				s.c.Remove(d.entryID)
			}
			continue
		}
		kept = append(kept, d)
	}
	s.defs = kept
}

// previewNextRunsLocked lists the next n fire times for logging.
func (s *Service) previewNextRunsLocked(ps ParsedSpec, n int) string {
	var sched cron.Schedule
	if ps.Kind == SpecInterval {
		sched = cron.Every(ps.Every)
	} else {
		var err error
		if sched, err = s.parser.Parse(ps.Cron); err != nil {
			return ""
		}
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04"))
	}
	return strings.Join(parts, ", ")
}
