package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Aaditya1273/InsightMeet-sub000/internal/dispatch"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/housekeeping"
	rtsup "github.com/Aaditya1273/InsightMeet-sub000/internal/runtime/supervisor"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/storage"
	"github.com/Aaditya1273/InsightMeet-sub000/internal/transport"
	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

const (
	defaultMaxBody   = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 1000
	maxBulk          = 1000
)

// Dispatcher is the queue surface exposed over HTTP.
type Dispatcher interface {
	Enqueue(p transport.Payload, opt dispatch.Options) (string, error)
	EnqueueBulk(reqs []dispatch.Request) ([]string, error)
	Snapshot() dispatch.Snapshot
	ListPending(limit int) []dispatch.PendingItem
}

// OutcomeReader reads the outcome journal.
type OutcomeReader interface {
	RecentOutcomes(ctx context.Context, limit int) ([]storage.OutcomeRecord, error)
}

// JobLister reports housekeeping jobs.
type JobLister interface {
	Status() []housekeeping.JobStatus
}

// RuntimeReporter reports supervised goroutines, keyed by component.
type RuntimeReporter interface {
	Runtime() map[string]rtsup.Snapshot
}

// Deps are the components behind the API. Outcomes, Jobs and Runtime may
// be nil.
type Deps struct {
	Dispatch     Dispatcher
	Outcomes     OutcomeReader
	Jobs         JobLister
	Runtime      RuntimeReporter
	Log          logx.Logger
	MaxBodyBytes int64
}

// MessageRequest is the JSON body of POST /v1/messages.
type MessageRequest struct {
	To          []string          `json:"to"`
	Subject     string            `json:"subject"`
	Text        string            `json:"text,omitempty"`
	HTML        string            `json:"html,omitempty"`
	From        string            `json:"from,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	Delay       string            `json:"delay,omitempty"` // Go duration, relative to receipt
	MaxAttempts int               `json:"max_attempts,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	DedupKey    string            `json:"dedup_key,omitempty"`
}

type bulkRequest struct {
	Messages []MessageRequest `json:"messages"`
}

type apiError struct {
	Error string `json:"error"`
}

// toRequest converts the wire form. now anchors Delay.
func (m MessageRequest) toRequest(now time.Time) (dispatch.Request, error) {
	prio, err := dispatch.ParsePriority(m.Priority)
	if err != nil {
		return dispatch.Request{}, err
	}
	opt := dispatch.Options{
		Priority:    prio,
		MaxAttempts: m.MaxAttempts,
		Metadata:    m.Metadata,
		DedupKey:    m.DedupKey,
	}
	switch {
	case m.ScheduledAt != nil && m.Delay != "":
		return dispatch.Request{}, fmt.Errorf("%w: scheduled_at and delay are mutually exclusive", dispatch.ErrInvalidOptions)
	case m.ScheduledAt != nil:
		opt.ScheduledAt = *m.ScheduledAt
	case m.Delay != "":
		d, err := time.ParseDuration(m.Delay)
		if err != nil || d < 0 {
			return dispatch.Request{}, fmt.Errorf("%w: invalid delay %q", dispatch.ErrInvalidOptions, m.Delay)
		}
		opt.ScheduledAt = now.Add(d)
	}
	return dispatch.Request{
		Payload: transport.Payload{
			To:      m.To,
			Subject: m.Subject,
			Text:    m.Text,
			HTML:    m.HTML,
			From:    m.From,
			ReplyTo: m.ReplyTo,
		},
		Options: opt,
	}, nil
}

// NewHandler builds the API mux.
func NewHandler(d Deps) http.Handler {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = defaultMaxBody
	}
	h := &handler{Deps: d}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /v1/queue", h.queue)
	mux.HandleFunc("GET /v1/queue/pending", h.pending)
	mux.HandleFunc("GET /v1/outcomes", h.outcomes)
	mux.HandleFunc("GET /v1/housekeeping", h.jobs)
	mux.HandleFunc("GET /v1/runtime", h.runtime)
	mux.HandleFunc("POST /v1/messages", h.enqueue)
	mux.HandleFunc("POST /v1/messages/bulk", h.enqueueBulk)
	mux.Handle("GET /debug/vars", expvar.Handler())
	return mux
}

type handler struct {
	Deps
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	snap := h.Dispatch.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"state":        snap.State,
		"queue_length": snap.QueueLength,
	})
}

func (h *handler) queue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Dispatch.Snapshot())
}

func (h *handler) pending(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	items := h.Dispatch.ListPending(limit)
	if items == nil {
		items = []dispatch.PendingItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *handler) outcomes(w http.ResponseWriter, r *http.Request) {
	if h.Outcomes == nil {
		writeError(w, http.StatusNotFound, storage.ErrDisabled)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := h.Outcomes.RecentOutcomes(r.Context(), limit)
	if err != nil {
		h.Log.Warn("outcome query failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []storage.OutcomeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs})
}

func (h *handler) jobs(w http.ResponseWriter, _ *http.Request) {
	if h.Jobs == nil {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []housekeeping.JobStatus{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.Jobs.Status()})
}

func (h *handler) runtime(w http.ResponseWriter, _ *http.Request) {
	if h.Runtime == nil {
		writeJSON(w, http.StatusOK, map[string]rtsup.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, h.Runtime.Runtime())
}

func (h *handler) enqueue(w http.ResponseWriter, r *http.Request) {
	var body MessageRequest
	if status, err := h.decode(w, r, &body); err != nil {
		writeError(w, status, err)
		return
	}
	req, err := body.toRequest(time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := h.Dispatch.Enqueue(req.Payload, req.Options)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *handler) enqueueBulk(w http.ResponseWriter, r *http.Request) {
	var body bulkRequest
	if status, err := h.decode(w, r, &body); err != nil {
		writeError(w, status, err)
		return
	}
	if len(body.Messages) > maxBulk {
		writeError(w, http.StatusBadRequest, fmt.Errorf("at most %d messages per batch", maxBulk))
		return
	}
	now := time.Now()
	reqs := make([]dispatch.Request, 0, len(body.Messages))
	for i, m := range body.Messages {
		req, err := m.toRequest(now)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("request %d: %w", i, err))
			return
		}
		reqs = append(reqs, req)
	}
	ids, err := h.Dispatch.EnqueueBulk(reqs)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ids": ids})
}

// decode reads a single strict JSON document from the body.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) (int, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return http.StatusRequestEntityTooLarge, err
		}
		return http.StatusBadRequest, fmt.Errorf("invalid json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return http.StatusBadRequest, errors.New("invalid json: trailing data")
	}
	return 0, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrInvalidPayload),
		errors.Is(err, dispatch.ErrInvalidOptions),
		errors.Is(err, dispatch.ErrEmptyBatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, maxListLimit), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apiError{Error: err.Error()})
}
