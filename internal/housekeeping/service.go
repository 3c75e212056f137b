package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/eventbus"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

// EventJobRun is published after every job run with a JobStatus payload.
const EventJobRun = "housekeeping.run"

const defaultJobTimeout = 30 * time.Second

type Config struct {
	Enabled  bool
	Timezone string
}

// Job is a named periodic maintenance task.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// JobStatus reports the last run of a job.
type JobStatus struct {
	Name     string        `json:"name"`
	Schedule string        `json:"schedule"`
	Runs     uint64        `json:"runs"`
	Failures uint64        `json:"failures"`
	LastRun  time.Time     `json:"last_run,omitzero"`
	LastErr  string        `json:"last_error,omitempty"`
	Took     time.Duration `json:"took,omitempty"`
	Next     time.Time     `json:"next,omitzero"`
}

type entry struct {
	job    Job
	spec   string
	id     cron.EntryID
	status JobStatus
}

// Service runs registered jobs on a robfig/cron scheduler. Overlapping runs
// of the same job are skipped and panics are recovered.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	c    *cron.Cron
	ctx  context.Context
	jobs map[string]*entry
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, bus: bus, jobs: map[string]*entry{}}
}

// Register adds or replaces a job. An empty schedule removes it.
func (s *Service) Register(job Job) error {
	name := strings.TrimSpace(job.Name)
	if name == "" || job.Run == nil {
		return errors.New("housekeeping: job needs a name and a run function")
	}
	job.Name = name

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[name]; ok {
		if s.c != nil {
			s.c.Remove(old.id)
		}
		delete(s.jobs, name)
	}
	if strings.TrimSpace(job.Schedule) == "" {
		return nil
	}

	spec, _, err := ParseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("housekeeping job %s: %w", name, err)
	}
	e := &entry{job: job, spec: spec, status: JobStatus{Name: name, Schedule: spec}}
	s.jobs[name] = e
	if s.c != nil {
		return s.addLocked(e)
	}
	return nil
}

// Apply updates the config. A timezone change restarts the scheduler;
// disabling stops it.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	old := s.cfg
	s.cfg = cfg
	running := s.c != nil
	ctx := s.ctx
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(context.Background())
	case !running && cfg.Enabled && ctx != nil:
		s.Start(ctx)
	case running && strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone):
		s.Stop(context.Background())
		s.Start(ctx)
	}
}

// Start begins triggering jobs. Jobs receive contexts derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	if s.c != nil || !s.cfg.Enabled {
		return
	}

	loc := s.location()
	logger := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	for _, e := range s.jobs {
		if err := s.addLocked(e); err != nil {
			s.log.Warn("job not scheduled", logx.String("job", e.job.Name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("housekeeping started", logx.String("tz", loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Stop halts triggering and waits for running jobs until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("housekeeping stopped")
}

// RunNow runs a job synchronously, outside the schedule.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("housekeeping: unknown job %q", name)
	}
	return s.run(ctx, e)
}

// Status lists jobs sorted by name.
func (s *Service) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, e := range s.jobs {
		st := e.status
		if s.c != nil && e.id != 0 {
			st.Next = s.c.Entry(e.id).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) addLocked(e *entry) error {
	id, err := s.c.AddFunc(e.spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		_ = s.run(ctx, e)
	})
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

func (s *Service) run(parent context.Context, e *entry) error {
	timeout := e.job.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	err := e.job.Run(ctx)
	took := time.Since(start)

	s.mu.Lock()
	e.status.Runs++
	e.status.LastRun = start
	e.status.Took = took
	e.status.LastErr = ""
	if err != nil {
		e.status.Failures++
		e.status.LastErr = err.Error()
	}
	st := e.status
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("housekeeping job failed", logx.String("job", e.job.Name), logx.Duration("took", took), logx.Err(err))
	} else {
		s.log.Debug("housekeeping job done", logx.String("job", e.job.Name), logx.Duration("took", took))
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventJobRun, Time: start, Data: st})
	}
	return err
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's internal logging to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", keysAndValues))
}
