package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/metrics"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/storage"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

// stepResult is what one pass of the worker loop did.
type stepResult struct {
	state   State
	outcome *Outcome
	// wait is how long to sleep before the next pass when nothing was sent.
	// Negative means "until woken".
	wait time.Duration
	// interrupted is set when the run context ended mid-attempt; the message
	// was re-queued without consuming an attempt.
	interrupted bool
}

// step performs at most one delivery attempt:
//
//  1. no eligible message: Idle, wait for the earliest ScheduledAt (or a wake-up)
//  2. rate limit reached: Throttled, wait for the window to reset
//  3. otherwise reserve the next message and send it outside the lock
//  4. success: count it against the window and drop the message
//  5. failure: retry later if allowed, else drop it as permanently failed
func (s *Service) step(ctx context.Context) stepResult {
	s.mu.Lock()
	now := s.now()
	if !s.sched.HasEligible(now) {
		wait := time.Duration(-1)
		if at, ok := s.sched.NextWake(); ok {
			wait = max(at.Sub(now), 0)
		}
		changed := s.setStateLocked(StateIdle)
		s.mu.Unlock()
		s.stateChanged(changed, StateIdle)
		return stepResult{state: StateIdle, wait: wait}
	}
	if !s.limiter.CanSend(now) {
		wait := s.limiter.TimeUntilAvailable(now)
		changed := s.setStateLocked(StateThrottled)
		s.mu.Unlock()
		s.stateChanged(changed, StateThrottled)
		if changed {
			metrics.ThrottleWaits.Add(1)
			s.log.Debug("rate limit reached; waiting for window", logx.Duration("wait", wait))
		}
		return stepResult{state: StateThrottled, wait: wait}
	}
	msg, _ := s.sched.NextEligible(now)
	changed := s.setStateLocked(StateDraining)
	payload, timeout := msg.Payload, s.cfg.SendTimeout
	s.mu.Unlock()
	s.stateChanged(changed, StateDraining)
	metrics.SetInFlight(1)

	err := s.send(ctx, payload, timeout)
	metrics.SetInFlight(0)

	s.mu.Lock()
	defer s.mu.Unlock()
	now = s.now()

	if err != nil && ctx.Err() != nil {
		s.sched.Requeue(msg)
		return stepResult{state: StateDraining, interrupted: true}
	}

	msg.Attempts++
	out := Outcome{
		MessageID:   msg.ID,
		Priority:    msg.Priority,
		Recipients:  msg.Payload.To,
		Subject:     msg.Payload.Subject,
		Attempts:    msg.Attempts,
		MaxAttempts: msg.MaxAttempts,
		Metadata:    cloneMeta(msg.Metadata),
		At:          now,
	}

	switch {
	case err == nil:
		s.limiter.RecordSuccess()
		s.sched.Remove(msg.ID)
		s.totals.Sent++
		out.Kind = OutcomeSent

	case s.retry.Retryable(err) && s.retry.ShouldRetry(msg.Attempts, msg.MaxAttempts):
		msg.LastError = err.Error()
		msg.ScheduledAt = now.Add(s.retry.NextDelay(err, msg.Attempts))
		s.sched.Insert(msg)
		s.totals.Retried++
		out.Kind = OutcomeRetry
		out.Error = msg.LastError
		out.NextAttempt = msg.ScheduledAt

	default:
		msg.LastError = err.Error()
		s.sched.Remove(msg.ID)
		s.totals.Failed++
		out.Kind = OutcomeFailed
		out.Error = msg.LastError
		out.Permanent = transport.IsNoRetry(err)
		s.failures = append(s.failures, out)
		if over := len(s.failures) - s.cfg.RecentFailures; over > 0 {
			s.failures = append(s.failures[:0], s.failures[over:]...)
		}
	}
	return stepResult{state: StateDraining, outcome: &out}
}

// send performs one transport call. Panics are converted to errors so a
// misbehaving transport can't take down the worker.
func (s *Service) send(ctx context.Context, p transport.Payload, timeout time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	if s.transport == nil {
		return transport.NoRetry(fmt.Errorf("no transport configured"))
	}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.transport.Send(sctx, p)
}

// run drives step until stop is closed or ctx ends. The attempt in progress
// when stop closes is always completed first.
func (s *Service) run(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		res := s.step(ctx)
		if res.interrupted {
			return
		}
		if res.outcome != nil {
			s.report(*res.outcome)
			if !s.sleep(ctx, stop, s.pacer.Reserve().Delay(), false) {
				return
			}
			continue
		}
		if !s.sleep(ctx, stop, res.wait, true) {
			return
		}
	}
}

// sleep waits for d (forever when negative). When wakeable, an enqueue or
// config change cuts the wait short. It returns false when the loop must exit.
func (s *Service) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration, wakeable bool) bool {
	if d == 0 {
		return true
	}
	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}
	var wake <-chan struct{}
	if wakeable {
		wake = s.wake
	}
	select {
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	case <-timeout:
	case <-wake:
	}
	return true
}

// report fans an outcome out to the bus, metrics, logs and the journal.
func (s *Service) report(o Outcome) {
	s.mu.Lock()
	depth := s.sched.Len() + s.sched.InFlight()
	sent := s.limiter.SentInWindow(s.now())
	s.mu.Unlock()
	metrics.SetQueueDepth(depth)
	metrics.SetSentThisWindow(sent)

	fields := []logx.Field{
		logx.String("id", o.MessageID),
		logx.String("priority", o.Priority.String()),
		logx.Int("attempts", o.Attempts),
		logx.Int("max_attempts", o.MaxAttempts),
	}

	switch o.Kind {
	case OutcomeSent:
		metrics.MessagesDelivered.Add(1)
		s.publish(EventSent, o)
		s.log.Info("message delivered", fields...)
	case OutcomeRetry:
		metrics.DeliveryRetries.Add(1)
		s.publish(EventRetry, o)
		s.log.Warn("delivery failed; retry scheduled", append(fields,
			logx.String("err", o.Error),
			logx.Time("next_attempt", o.NextAttempt),
		)...)
		return
	case OutcomeFailed:
		metrics.DeliveryFailures.Add(1)
		s.publish(EventFailed, o)
		s.log.Error("delivery failed permanently", append(fields,
			logx.String("err", o.Error),
			logx.Bool("permanent", o.Permanent),
			logx.Recipients("recipients", o.Recipients),
		)...)
	}

	if s.store != nil {
		s.toJournal(journalOp{outcome: &storage.OutcomeRecord{
			MessageID:  o.MessageID,
			Kind:       string(o.Kind),
			Priority:   o.Priority.String(),
			Recipients: o.Recipients,
			Subject:    o.Subject,
			Attempts:   o.Attempts,
			Error:      o.Error,
			Metadata:   o.Metadata,
			At:         o.At,
		}})
	}
}
