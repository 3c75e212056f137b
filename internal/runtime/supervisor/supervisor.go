// Package supervisor runs the daemon's long-lived goroutines (the dispatch
// worker, the journal writer, the HTTP listener, the config watcher) under
// one cancellable context, recovering panics and restarting the ones that
// are allowed to fail.
package supervisor

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"

	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

// healthyRun is how long a restartable task must run before its backoff is
// reset.
const healthyRun = 30 * time.Second

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg      sync.WaitGroup
	started atomic.Uint64
	active  atomic.Int64

	firstErr atomic.Pointer[error]

	waitOnce sync.Once
	done     chan struct{}

	mu    sync.Mutex
	tasks map[string]*TaskStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first task error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

// Counters are approximate and meant for status output.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// TaskStats aggregates every run of one named task.
type TaskStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Runs        uint64    `json:"runs"`
	Restarts    uint64    `json:"restarts"`
	Panics      uint64    `json:"panics"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
}

type Snapshot struct {
	Counters   Counters    `json:"counters"`
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		done:   make(chan struct{}),
		tasks:  make(map[string]*TaskStats),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context and returns immediately.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first task error, or nil.
func (s *Supervisor) Err() error {
	if p := s.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.started.Load()}
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Counters: s.Counters(), Tasks: []TaskStats{}}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.mu.Lock()
	for _, st := range s.tasks {
		snap.Tasks = append(snap.Tasks, *st)
	}
	s.mu.Unlock()
	slices.SortFunc(snap.Tasks, func(a, b TaskStats) int { return cmp.Compare(a.Name, b.Name) })
	return snap
}

func (s *Supervisor) update(name string, fn func(st *TaskStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tasks[name]
	if !ok {
		st = &TaskStats{Name: name}
		s.tasks[name] = st
	}
	fn(st)
}

// spawn tracks one goroutine in the wait group and the counters.
func (s *Supervisor) spawn(fn func()) {
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		fn()
	}()
}

// run executes one attempt of a task and returns its error, with panics
// converted to errors and context cancellation treated as a clean exit.
func (s *Supervisor) run(ctx context.Context, name string, restart bool, fn func(context.Context) error) error {
	s.update(name, func(st *TaskStats) {
		st.Active++
		st.Runs++
		st.LastStartAt = time.Now()
		if restart {
			st.Restarts++
		}
	})
	defer s.update(name, func(st *TaskStats) { st.Active-- })

	err := guard(ctx, fn)
	var p *panicError
	if errors.As(err, &p) {
		s.update(name, func(st *TaskStats) { st.Panics++ })
		s.log.Error("task panicked", logx.String("task", name), logx.Any("panic", p.value), logx.String("stack", p.stack))
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	err = fmt.Errorf("%s: %w", name, err)
	s.update(name, func(st *TaskStats) { st.LastErr = err.Error() })
	return err
}

func (s *Supervisor) fail(err error) {
	s.firstErr.CompareAndSwap(nil, &err)
	if s.cancelOnErr {
		s.cancel()
	}
}

// Go runs fn once. A returned error (or panic) is recorded and, with
// WithCancelOnError, stops every other task.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(func() {
		if err := s.run(s.ctx, name, false, fn); err != nil {
			s.fail(err)
		}
		s.log.Debug("task exited", logx.String("task", name))
	})
}

// Go0 is Go for tasks that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type restartCfg struct {
	min, max    time.Duration
	maxRestarts int // 0 = unlimited
}

type RestartOption func(*restartCfg)

// WithRestartBackoff bounds the jittered exponential delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.min = min
		}
		if max > 0 {
			c.max = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. The first run does not count.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

// GoRestart runs fn until it returns nil or the context is canceled,
// restarting it after errors and panics. Errors are recorded but never
// cancel the other tasks, except when the restart limit is reached.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.max = max(cfg.max, cfg.min)

	counter := backoff.Counter{
		Strategy: backoff.WithTransforms(
			backoff.Exponential(cfg.min),
			linger.FullJitter,
			linger.Limiter(cfg.min, cfg.max),
		),
	}

	s.spawn(func() {
		ctx := s.ctx
		for restarts := 0; ; restarts++ {
			began := time.Now()
			err := s.run(ctx, name, restarts > 0, fn)
			if err == nil || ctx.Err() != nil {
				return
			}
			s.firstErr.CompareAndSwap(nil, &err)

			if cfg.maxRestarts > 0 && restarts >= cfg.maxRestarts {
				s.log.Error("task gave up", logx.String("task", name), logx.Int("restarts", restarts), logx.Err(err))
				if s.cancelOnErr {
					s.cancel()
				}
				return
			}
			if time.Since(began) >= healthyRun {
				counter.Reset()
			}
			s.log.Warn("task restarting", logx.String("task", name), logx.Err(err))
			if counter.Sleep(ctx, err) != nil {
				return
			}
		}
	})
}

type panicError struct {
	value any
	stack string
}

func (p *panicError) Error() string { return fmt.Sprintf("panic: %v", p.value) }

func guard(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: string(debug.Stack())}
		}
	}()
	return fn(ctx)
}

// Stop cancels the shared context and waits for every task.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task has exited or ctx is done. It returns the
// first task error once all tasks are gone.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
