package transport

import (
	"context"
	"strings"
)

// Payload is a fully rendered outbound message. The dispatch queue never
// inspects it beyond the enqueue-time validation in Validate.
type Payload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
	From    string   `json:"from,omitempty"` // sender override
	ReplyTo string   `json:"reply_to,omitempty"`
}

// Recipients returns To with blank entries removed.
func (p Payload) Recipients() []string {
	out := make([]string, 0, len(p.To))
	for _, r := range p.To {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Transport performs a single synchronous delivery attempt.
//
// Implementations wrap failures that will never succeed on retry with NoRetry,
// and may attach a provider delay hint with RetryAfter. Any other error is
// treated as transient.
type Transport interface {
	Name() string
	Send(ctx context.Context, p Payload) error
}

// Func adapts a plain function to Transport. Mostly useful in tests.
type Func func(ctx context.Context, p Payload) error

func (f Func) Name() string { return "func" }

func (f Func) Send(ctx context.Context, p Payload) error { return f(ctx, p) }
