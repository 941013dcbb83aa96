// Package pipeline runs one monitoring pass: fetch every source, find new
// records, classify severity, compose a digest, apply the send policy and
// commit the new snapshots.
//
// A failing source never affects another source, the digest, or the
// snapshots of other sources. Its own snapshot is left untouched.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/detect"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/digest"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/metrics"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/notify"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/record"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/severity"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/source"
	"github.com/rdjerrouf/Chicago-Event-Monitor/internal/storage"
	logx "github.com/rdjerrouf/Chicago-Event-Monitor/pkg/logx"
)

// Mode selects the sources of a run and its send policy.
type Mode int

const (
	// ModeFull runs every configured source and always sends.
	ModeFull Mode = iota
	// ModeMonitor runs the sources flagged for monitoring and sends only
	// when one of them classifies as HIGH.
	ModeMonitor
)

func (m Mode) String() string {
	if m == ModeMonitor {
		return "monitor"
	}
	return "full"
}

// ParseMode maps a CLI or config string to a Mode. Empty means full.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return ModeFull, nil
	case "monitor":
		return ModeMonitor, nil
	}
	return ModeFull, fmt.Errorf("unknown mode %q (want full or monitor)", s)
}

// Policy decides whether a composed digest is sent.
type Policy int

const (
	PolicyAlways Policy = iota
	PolicyThreshold
)

func (m Mode) Policy() Policy {
	if m == ModeMonitor {
		return PolicyThreshold
	}
	return PolicyAlways
}

// Satisfied reports whether msg should be sent under p.
func (p Policy) Satisfied(msg digest.Message) bool {
	if p == PolicyThreshold {
		return msg.High()
	}
	return true
}

// Source is one configured upstream, in processing order.
type Source struct {
	ID      string
	Title   string
	Enabled bool
	Monitor bool
	// Adapter may be nil for a disabled source.
	Adapter source.Adapter
	Key     record.KeyFunc
}

// Options configures a Pipeline. Store and Channel are required; Sources are
// processed in slice order and their IDs must be unique.
type Options struct {
	Sources    []Source
	Store      storage.Store
	Channel    notify.Channel
	Thresholds severity.Thresholds
	Metrics    *metrics.Recorder
	Log        logx.Logger

	Title string
	// UpcomingDays is the "starting soon" window of full runs; negative disables it.
	UpcomingDays int
	Location     *time.Location
	// DryRun composes and logs the digest but neither sends it nor commits snapshots.
	DryRun bool
	Now    func() time.Time
}

// Pipeline runs one fetch, detect, classify, compose and notify pass per Run.
// A Pipeline is immutable after New; a config reload builds a fresh one.
type Pipeline struct {
	opts Options
	log  logx.Logger
}

// New validates opts and fills defaults. A nil Key becomes record.FieldsKey,
// nil Thresholds become severity.DefaultThresholds, and Location falls back to time.Local.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if opts.Channel == nil {
		return nil, errors.New("pipeline: notification channel is required")
	}
	seen := map[string]bool{}
	opts.Sources = append([]Source(nil), opts.Sources...)
	for i := range opts.Sources {
		s := &opts.Sources[i]
		if s.Key == nil {
			s.Key = record.FieldsKey()
		}
		if strings.TrimSpace(s.ID) == "" {
			return nil, errors.New("pipeline: source with empty id")
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("pipeline: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Enabled && s.Adapter == nil {
			return nil, fmt.Errorf("pipeline: enabled source %q has no adapter", s.ID)
		}
	}
	if opts.Thresholds == nil {
		opts.Thresholds = severity.DefaultThresholds()
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{opts: opts, log: log.With(logx.String("comp", "pipeline"))}, nil
}

// SourceOutcome is what happened to one processed source.
type SourceOutcome struct {
	ID          string
	Status      digest.Status
	New         int
	Fetched     int
	HasSeverity bool
	Severity    severity.Level
	Err         error
}

// Report summarizes a run.
type Report struct {
	RunID      string
	Mode       Mode
	StartedAt  time.Time
	Duration   time.Duration
	Sources    []SourceOutcome
	Digest     digest.Message
	Sent       bool
	NotifyErr  error
	Committed  []string
	StorageErr error
}

type staged struct {
	id      string
	records []record.Record
}

// Run executes one pass in the given mode. The returned error is non-nil
// only for a storage failure; it then matches storage.ErrStorageFailure.
// Adapter and notification failures are reported in the Report and logged.
func (p *Pipeline) Run(ctx context.Context, mode Mode) (Report, error) {
	start := p.opts.Now()
	began := time.Now()
	rep := Report{RunID: uuid.NewString(), Mode: mode, StartedAt: start}
	log := p.log.With(logx.String("run_id", rep.RunID), logx.String("mode", mode.String()))
	log.Info("run started")

	var (
		results    = make([]digest.SourceResult, 0, len(p.opts.Sources))
		commits    = make([]staged, 0, len(p.opts.Sources))
		known      = make([]digest.SourceRecords, 0, len(p.opts.Sources))
		storageErr error
	)

	for _, src := range p.selectSources(mode) {
		res, out, stage, rs, serr := p.processSource(ctx, log, src)
		results = append(results, res)
		rep.Sources = append(rep.Sources, out)
		if stage != nil {
			commits = append(commits, *stage)
		}
		if rs != nil {
			known = append(known, *rs)
		}
		if serr != nil {
			storageErr = errors.Join(storageErr, serr)
		}
	}

	in := digest.Input{Title: p.opts.Title, GeneratedAt: start.In(p.opts.Location), Sources: results}
	if mode == ModeFull && p.opts.UpcomingDays >= 0 {
		in.Upcoming = digest.Upcoming(known, start.In(p.opts.Location), p.opts.UpcomingDays)
	}
	msg := digest.Compose(in)
	rep.Digest = msg

	p.deliver(ctx, log, mode, msg, &rep)

	if p.opts.DryRun {
		log.Info("dry run: snapshots not committed", logx.Int("staged", len(commits)))
	} else if err := p.commit(ctx, log, commits, &rep); err != nil {
		storageErr = errors.Join(storageErr, err)
	}

	rep.Duration = time.Since(began)
	p.opts.Metrics.Run(mode.String(), rep.Duration, p.opts.Now())
	if storageErr != nil {
		p.opts.Metrics.StorageFailure()
		rep.StorageErr = storageErr
		log.Error("run finished with storage failure", logx.Err(storageErr), logx.Duration("took", rep.Duration))
		return rep, storageErr
	}
	log.Info("run finished",
		logx.Int("new", msg.TotalNew),
		logx.Strings("high", msg.HighSources),
		logx.Bool("sent", rep.Sent),
		logx.Duration("took", rep.Duration),
	)
	return rep, nil
}

func (p *Pipeline) selectSources(mode Mode) []Source {
	if mode == ModeFull {
		return p.opts.Sources
	}
	out := make([]Source, 0, len(p.opts.Sources))
	for _, s := range p.opts.Sources {
		if s.Monitor {
			out = append(out, s)
		}
	}
	return out
}

// processSource runs the per-source step. It returns the digest entry, the
// report outcome, the snapshot to commit (nil unless the fetch succeeded
// with records), the records known for the "starting soon" block, and a
// storage error from reading the previous snapshot.
func (p *Pipeline) processSource(ctx context.Context, log logx.Logger, src Source) (digest.SourceResult, SourceOutcome, *staged, *digest.SourceRecords, error) {
	log = log.With(logx.String("source", src.ID))
	res := digest.SourceResult{SourceID: src.ID, Title: src.Title}
	out := SourceOutcome{ID: src.ID}

	finish := func(status digest.Status, err error) {
		res.Status, res.Err = status, err
		out.Status, out.Err = status, err
		p.opts.Metrics.Fetch(src.ID, outcomeLabel(status))
	}

	if !src.Enabled || src.Adapter == nil {
		log.Debug("source disabled")
		finish(digest.StatusUnavailable, nil)
		return res, out, nil, nil, nil
	}

	previous, err := p.opts.Store.Snapshot(ctx, src.ID)
	if err != nil {
		log.Error("snapshot read failed; source skipped", logx.Err(err))
		finish(digest.StatusFailed, err)
		return res, out, nil, nil, err
	}

	fetchStart := time.Now()
	fr, err := src.Adapter.Fetch(ctx)
	if err != nil {
		prior := &digest.SourceRecords{SourceID: src.ID, Title: src.Title, Records: previous}
		if errors.Is(err, source.ErrUnavailable) {
			log.Debug("source unavailable", logx.Err(err))
			finish(digest.StatusUnavailable, err)
			return res, out, nil, prior, nil
		}
		log.Warn("fetch failed; previous snapshot kept", logx.Err(err), logx.Duration("took", time.Since(fetchStart)))
		finish(digest.StatusFailed, err)
		return res, out, nil, prior, nil
	}

	res.New = detect.ComputeNew(fr.Records, previous, src.Key)
	out.New = len(res.New)
	out.Fetched = len(fr.Records)
	if len(fr.Metrics) > 0 {
		res.HasSeverity = true
		res.Severity = severity.Classify(fr.Metrics, p.opts.Thresholds)
		res.Metrics = fr.Metrics
		out.HasSeverity, out.Severity = true, res.Severity
		p.opts.Metrics.Severity(src.ID, int(res.Severity))
	}
	res.Details = fr.Details
	finish(digest.StatusOK, nil)
	p.opts.Metrics.NewRecords(src.ID, out.New)

	fields := []logx.Field{
		logx.Int("fetched", out.Fetched),
		logx.Int("new", out.New),
		logx.Duration("took", time.Since(fetchStart)),
	}
	if res.HasSeverity {
		fields = append(fields, logx.String("severity", res.Severity.String()))
	}
	log.Info("source processed", fields...)

	var stage *staged
	if fr.Records != nil {
		stage = &staged{id: src.ID, records: fr.Records}
	}
	return res, out, stage, &digest.SourceRecords{SourceID: src.ID, Title: src.Title, Records: fr.Records}, nil
}

func (p *Pipeline) deliver(ctx context.Context, log logx.Logger, mode Mode, msg digest.Message, rep *Report) {
	if !mode.Policy().Satisfied(msg) {
		log.Info("digest suppressed: no HIGH severity", logx.Int("new", msg.TotalNew))
		p.opts.Metrics.Digest(mode.String(), metrics.DigestSuppressed)
		return
	}
	if p.opts.DryRun {
		log.Info("dry run: digest not sent", logx.String("subject", msg.Subject))
		return
	}
	if err := p.opts.Channel.Send(ctx, msg); err != nil {
		if !errors.Is(err, notify.ErrNotification) {
			err = fmt.Errorf("%w: %s: %v", notify.ErrNotification, p.opts.Channel.Name(), err)
		}
		rep.NotifyErr = err
		log.Error("digest delivery failed", logx.String("channel", p.opts.Channel.Name()), logx.Err(err))
		p.opts.Metrics.Digest(mode.String(), metrics.DigestFailed)
		return
	}
	rep.Sent = true
	p.opts.Metrics.Digest(mode.String(), metrics.DigestSent)
}

// commit replaces staged snapshots in processing order. The first failure
// stops the commit phase.
func (p *Pipeline) commit(ctx context.Context, log logx.Logger, commits []staged, rep *Report) error {
	for i, c := range commits {
		if err := p.opts.Store.ReplaceSnapshot(ctx, c.id, c.records); err != nil {
			skipped := make([]string, 0, len(commits)-i-1)
			for _, rest := range commits[i+1:] {
				skipped = append(skipped, rest.id)
			}
			log.Error("snapshot commit failed",
				logx.String("source", c.id),
				logx.Strings("not_committed", skipped),
				logx.Err(err),
			)
			return fmt.Errorf("commit %s: %w", c.id, err)
		}
		rep.Committed = append(rep.Committed, c.id)
	}
	return nil
}

func outcomeLabel(s digest.Status) string {
	switch s {
	case digest.StatusOK:
		return metrics.OutcomeOK
	case digest.StatusUnavailable:
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeFailed
	}
}
