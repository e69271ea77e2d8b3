// Package schedule parses schedule strings and runs named jobs on robfig/cron.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "lovepush/pkg/logx"
)

// Job runs on each trigger. ctx is cancelled when the runner stops.
type Job func(ctx context.Context)

type entry struct {
	spec string
	fn   Job
	id   cron.EntryID
}

// Runner owns one cron instance. Jobs never overlap with themselves.
type Runner struct {
	log    logx.Logger
	parser cron.Parser

	mu     sync.Mutex
	loc    *time.Location
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[string]*entry
}

func NewRunner(loc *time.Location, log logx.Logger) *Runner {
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		log:    log.With(logx.String("comp", "schedule")),
		parser: specParser,
		loc:    loc,
		jobs:   map[string]*entry{},
	}
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether raw is a schedule a Runner accepts.
func Validate(raw string) error {
	_, err := cronSpec(specParser, raw)
	return err
}

func (r *Runner) Validate(raw string) error {
	_, err := r.cronSpec(raw)
	return err
}

func (r *Runner) cronSpec(raw string) (string, error) { return cronSpec(r.parser, raw) }

func cronSpec(parser cron.Parser, raw string) (string, error) {
	ps, err := ParseSchedule(raw)
	if err != nil {
		return "", err
	}
	spec := ps.CronSpec()
	if _, err := parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return spec, nil
}

// Set registers or replaces the named job. It takes effect immediately when running.
func (r *Runner) Set(name, raw string, fn Job) error {
	spec, err := r.cronSpec(raw)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.jobs[name]; ok && r.c != nil {
		r.c.Remove(old.id)
	}
	e := &entry{spec: spec, fn: fn}
	r.jobs[name] = e
	if r.c != nil {
		return r.addLocked(name, e)
	}
	return nil
}

// Remove drops the named job.
func (r *Runner) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.jobs[name]; ok {
		if r.c != nil {
			r.c.Remove(e.id)
		}
		delete(r.jobs, name)
	}
}

// Next returns the next activation of the named job, or zero when not scheduled.
func (r *Runner) Next(name string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[name]
	if !ok || r.c == nil {
		return time.Time{}
	}
	return r.c.Entry(e.id).Next
}

func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.startLocked()
	r.log.Info("runner started", logx.String("tz", r.loc.String()), logx.Int("jobs", len(r.jobs)))
}

func (r *Runner) startLocked() {
	cl := cronLogger{log: r.log}
	r.c = cron.New(
		cron.WithParser(r.parser),
		cron.WithLocation(r.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for name, e := range r.jobs {
		if err := r.addLocked(name, e); err != nil {
			r.log.Error("job not scheduled", logx.String("job", name), logx.Err(err))
		}
	}
	r.c.Start()
}

func (r *Runner) addLocked(name string, e *entry) error {
	ctx := r.ctx
	fn := e.fn
	id, err := r.c.AddFunc(e.spec, func() {
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	e.id = id
	return nil
}

// SetLocation switches the timezone, restarting cron if it is running.
func (r *Runner) SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loc.String() == loc.String() {
		return
	}
	r.loc = loc
	if r.c == nil {
		return
	}
	old := r.c
	r.startLocked()
	old.Stop()
	r.log.Info("runner restarted for new timezone", logx.String("tz", loc.String()))
}

// Stop halts future triggers and waits for running jobs until ctx expires.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c, cancel := r.c, r.cancel
	r.c, r.cancel = nil, nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	r.log.Info("runner stopped")
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, _ := kv[i].(string)
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
