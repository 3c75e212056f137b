package dispatch

import "errors"

var (
	// ErrInvalidPayload is returned synchronously by Enqueue/EnqueueBulk when a
	// payload has no recipients or no subject. Such messages never enter the queue.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrInvalidOptions reports unusable enqueue options (e.g. unknown priority).
	ErrInvalidOptions = errors.New("invalid options")
	// ErrEmptyBatch is returned by EnqueueBulk for an empty request list.
	ErrEmptyBatch = errors.New("empty batch")
)
