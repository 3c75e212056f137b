package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/eventbus"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/metrics"
	rtsup "github.com/Aaditya1273/InsightMeet-sub000/internal/runtime/supervisor"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/storage"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	journalBuffer  = 256
	journalTimeout = 2 * time.Second
	stopGrace      = time.Second
)

// Service is the dispatch queue: a priority scheduler drained by a single
// worker, gated by a per-minute rate limiter, with retries for transient
// transport failures.
//
// Enqueue, EnqueueBulk, Snapshot and ListPending are safe for concurrent use
// and never block on delivery.
type Service struct {
	// mu guards every field below up to the collaborators block: scheduler,
	// limiter, retry policy, dedup cache and counters share one lock.
	mu       sync.Mutex
	cfg      Config
	sched    *scheduler
	limiter  *RateLimiter
	retry    RetryPolicy
	dedup    *dedupCache
	state    State
	totals   Totals
	failures []Outcome // ring, oldest first

	transport transport.Transport
	log       logx.Logger
	bus       eventbus.Bus
	store     storage.Store
	now       func() time.Time
	newID     func() string

	pacer   *rate.Limiter
	wake    chan struct{}
	journal chan journalOp

	runMu      sync.Mutex
	sup        *rtsup.Supervisor
	stopCh     chan struct{}
	workerDone chan struct{}
}

type Option func(*Service)

// WithClock replaces time.Now for scheduling and rate-limit decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator replaces the uuid v4 message id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

type journalOp struct {
	outcome *storage.OutcomeRecord
	dedup   *storage.DedupEntry
}

// New builds a stopped service. bus and store may be nil.
func New(cfg Config, tr transport.Transport, log logx.Logger, bus eventbus.Bus, store storage.Store, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:       cfg,
		sched:     newScheduler(),
		limiter:   NewRateLimiter(cfg.RateLimitPerMinute),
		retry:     NewRetryPolicy(cfg.RetryStrategy, cfg.RetryDelay, cfg.RetryMaxDelay),
		dedup:     newDedupCache(cfg.DedupWindow, cfg.DedupMaxEntries),
		state:     StateStopped,
		transport: tr,
		log:       log,
		bus:       bus,
		store:     store,
		now:       time.Now,
		newID:     uuid.NewString,
		pacer:     rate.NewLimiter(pacingLimit(cfg.PacingGap), 1),
		wake:      make(chan struct{}, 1),
		journal:   make(chan journalOp, journalBuffer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func pacingLimit(gap time.Duration) rate.Limit {
	if gap <= 0 {
		return rate.Inf
	}
	return rate.Every(gap)
}

// Apply hot-reloads limits and policies. Messages already queued keep their
// MaxAttempts; the new default applies to later enqueues.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.limiter.SetLimit(cfg.RateLimitPerMinute)
	s.retry = NewRetryPolicy(cfg.RetryStrategy, cfg.RetryDelay, cfg.RetryMaxDelay)
	s.dedup.configure(cfg.DedupWindow, cfg.DedupMaxEntries)
	if len(s.failures) > cfg.RecentFailures {
		s.failures = append([]Outcome(nil), s.failures[len(s.failures)-cfg.RecentFailures:]...)
	}
	s.mu.Unlock()

	s.pacer.SetLimit(pacingLimit(cfg.PacingGap))
	s.signal()
	s.log.Debug("dispatch config applied",
		logx.Int("rate_limit_per_minute", cfg.RateLimitPerMinute),
		logx.Int("max_attempts", cfg.MaxAttempts),
		logx.String("retry_strategy", cfg.RetryStrategy),
		logx.Duration("retry_delay", cfg.RetryDelay),
	)
}

// Enqueue validates p, queues it and returns its id. When opt.DedupKey was
// accepted within the dedup window the earlier id is returned instead.
func (s *Service) Enqueue(p transport.Payload, opt Options) (string, error) {
	ids, err := s.enqueue([]Request{{Payload: p, Options: opt}})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// EnqueueBulk validates every request before queueing any of them, then
// inserts the batch under one lock so it keeps submission order and cannot
// interleave with other callers.
func (s *Service) EnqueueBulk(reqs []Request) ([]string, error) {
	if len(reqs) == 0 {
		return nil, ErrEmptyBatch
	}
	return s.enqueue(reqs)
}

type queuedNote struct {
	id          string
	priority    Priority
	scheduledAt time.Time
	deduped     bool
	dedupKey    string
	until       time.Time
}

func (s *Service) enqueue(reqs []Request) ([]string, error) {
	for i, r := range reqs {
		if err := validate(r); err != nil {
			if len(reqs) > 1 {
				return nil, fmt.Errorf("request %d: %w", i, err)
			}
			return nil, err
		}
	}

	ids := make([]string, len(reqs))
	notes := make([]queuedNote, 0, len(reqs))

	s.mu.Lock()
	now := s.now()
	for i, r := range reqs {
		key := strings.TrimSpace(r.Options.DedupKey)
		if key != "" {
			if id, ok := s.dedup.lookup(key, now); ok {
				ids[i] = id
				s.totals.Deduped++
				notes = append(notes, queuedNote{id: id, deduped: true, dedupKey: key})
				continue
			}
		}

		m := s.newMessage(r, now)
		m.dedupKey = key
		s.sched.Insert(m)
		s.totals.Enqueued++
		ids[i] = m.ID

		n := queuedNote{id: m.ID, priority: m.Priority, scheduledAt: m.ScheduledAt, dedupKey: key}
		if key != "" {
			n.until = s.dedup.remember(key, m.ID, now)
		}
		notes = append(notes, n)
	}
	depth := s.sched.Len() + s.sched.InFlight()
	s.mu.Unlock()

	metrics.SetQueueDepth(depth)
	for _, n := range notes {
		s.noteQueued(n)
	}
	s.signal()
	return ids, nil
}

func (s *Service) newMessage(r Request, now time.Time) *Message {
	opt := r.Options
	prio := opt.Priority
	if prio == 0 {
		prio = PriorityMedium
	}
	at := opt.ScheduledAt
	if at.IsZero() {
		at = now
	}
	maxAttempts := opt.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}
	p := r.Payload
	p.To = p.Recipients()
	return &Message{
		ID:          s.newID(),
		Payload:     p,
		Priority:    prio,
		ScheduledAt: at,
		EnqueuedAt:  now,
		MaxAttempts: maxAttempts,
		Metadata:    cloneMeta(opt.Metadata),
	}
}

func validate(r Request) error {
	if len(r.Payload.Recipients()) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(r.Payload.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidPayload)
	}
	if p := r.Options.Priority; p != 0 && !p.valid() {
		return fmt.Errorf("%w: unknown priority %d", ErrInvalidOptions, int(p))
	}
	return nil
}

func (s *Service) noteQueued(n queuedNote) {
	if n.deduped {
		metrics.MessagesDeduped.Add(1)
		s.publish(EventDeduped, QueuedEvent{ID: n.id, DedupKey: n.dedupKey, Deduped: true})
		s.log.Debug("enqueue deduplicated", logx.String("id", n.id), logx.String("dedup_key", n.dedupKey))
		return
	}
	metrics.MessagesEnqueued.Add(1)
	s.publish(EventQueued, QueuedEvent{ID: n.id, Priority: n.priority, ScheduledAt: n.scheduledAt, DedupKey: n.dedupKey})
	s.log.Debug("message queued",
		logx.String("id", n.id),
		logx.String("priority", n.priority.String()),
		logx.Time("scheduled_at", n.scheduledAt),
	)
	if n.dedupKey != "" && s.store != nil {
		s.toJournal(journalOp{dedup: &storage.DedupEntry{Key: n.dedupKey, MessageID: n.id, Until: n.until}})
	}
}

// Snapshot returns a point-in-time view of the queue.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	snap := Snapshot{
		Pending:            s.sched.Len(),
		InFlight:           s.sched.InFlight(),
		State:              s.state,
		Processing:         s.state == StateDraining || s.state == StateThrottled,
		SentThisWindow:     s.limiter.SentInWindow(now),
		RateLimitPerMinute: s.limiter.Limit(),
		WindowResetsInMS:   s.limiter.WindowRemaining(now).Milliseconds(),
		Totals:             s.totals,
	}
	snap.QueueLength = snap.Pending + snap.InFlight
	if at, ok := s.sched.NextWake(); ok {
		snap.NextWake = at
	}
	if len(s.failures) > 0 {
		snap.RecentFailures = make([]Outcome, len(s.failures))
		copy(snap.RecentFailures, s.failures)
	}
	return snap
}

// ListPending previews up to limit queued messages in dispatch order, the
// in-flight one first. It never mutates the queue.
func (s *Service) ListPending(limit int) []PendingItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched.Pending(limit)
}

// PruneDedup drops expired dedup keys and reports how many were removed.
func (s *Service) PruneDedup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dedup.prune(s.now())
}

// Start launches the worker and journal goroutines. It is a no-op when
// already running. Remembered dedup keys are restored from the store.
func (s *Service) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.sup != nil {
		return
	}

	if s.store != nil {
		lctx, cancel := context.WithTimeout(ctx, journalTimeout)
		entries, err := s.store.LoadDedup(lctx, s.now())
		cancel()
		if err != nil {
			s.log.Warn("dedup restore failed", logx.Err(err))
		}
		s.mu.Lock()
		for _, e := range entries {
			s.dedup.put(e.Key, e.MessageID, e.Until)
		}
		s.mu.Unlock()
		if len(entries) > 0 {
			s.log.Info("dedup keys restored", logx.Int("count", len(entries)))
		}
	}

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.stopCh = make(chan struct{})
	s.workerDone = make(chan struct{})
	stop, done := s.stopCh, s.workerDone

	s.setState(StateIdle)

	s.sup.Go0("dispatch.journal", s.journalLoop)
	s.sup.GoRestart("dispatch.worker", func(c context.Context) error {
		s.run(c, stop)
		close(done)
		return nil
	}, rtsup.WithRestartBackoff(100*time.Millisecond, 5*time.Second))

	s.signal()
	s.log.Info("dispatch started",
		logx.Int("rate_limit_per_minute", s.limiter.Limit()),
		logx.String("transport", s.transportName()),
	)
}

// Stop lets any in-flight attempt finish, then halts the worker. Pending
// messages stay queued and inspectable. If ctx expires first the attempt is
// interrupted and its message re-queued without consuming an attempt.
func (s *Service) Stop(ctx context.Context) error {
	s.runMu.Lock()
	sup, stop, done := s.sup, s.stopCh, s.workerDone
	s.sup, s.stopCh, s.workerDone = nil, nil, nil
	s.runMu.Unlock()
	if sup == nil {
		return nil
	}

	close(stop)
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("dispatch stop: %w", ctx.Err())
		s.log.Warn("dispatch stop deadline reached; interrupting in-flight attempt")
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	if werr := sup.Wait(wctx); werr != nil && !errors.Is(werr, context.Canceled) && err == nil {
		err = werr
	}

	s.setState(StateStopped)
	snap := s.Snapshot()
	s.log.Info("dispatch stopped", logx.Int("queue_length", snap.QueueLength))
	return err
}

// Runtime reports the worker goroutines. It is empty while stopped.
func (s *Service) Runtime() rtsup.Snapshot {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.sup.Snapshot()
}

func (s *Service) transportName() string {
	if s.transport == nil {
		return "none"
	}
	return s.transport.Name()
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	changed := s.setStateLocked(st)
	s.mu.Unlock()
	if changed {
		s.publish(EventState, StateEvent{State: st})
	}
}

func (s *Service) setStateLocked(st State) bool {
	if s.state == st {
		return false
	}
	s.state = st
	return true
}

func (s *Service) toJournal(op journalOp) {
	select {
	case s.journal <- op:
	default:
		s.log.Warn("journal buffer full; dropping record")
	}
}

func (s *Service) journalLoop(ctx context.Context) {
	if s.store == nil {
		return
	}
	write := func(c context.Context, op journalOp) {
		wctx, cancel := context.WithTimeout(c, journalTimeout)
		defer cancel()
		var err error
		switch {
		case op.outcome != nil:
			err = s.store.AppendOutcome(wctx, *op.outcome)
		case op.dedup != nil:
			err = s.store.PutDedup(wctx, *op.dedup)
		}
		if err != nil {
			s.log.Warn("journal write failed", logx.Err(err))
		}
	}
	for {
		select {
		case op := <-s.journal:
			write(ctx, op)
		case <-ctx.Done():
			// Flush what is already buffered so terminal outcomes survive a clean shutdown.
			for {
				select {
				case op := <-s.journal:
					write(context.Background(), op)
				default:
					return
				}
			}
		}
	}
}
