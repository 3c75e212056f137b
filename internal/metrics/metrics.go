// Package metrics publishes dispatch and event bus counters through expvar
// (/debug/vars).
package metrics

import "expvar"

var (
	MessagesEnqueued  = expvar.NewInt("dispatch_messages_enqueued_total")
	MessagesDeduped   = expvar.NewInt("dispatch_messages_deduped_total")
	MessagesDelivered = expvar.NewInt("dispatch_messages_delivered_total")
	DeliveryRetries   = expvar.NewInt("dispatch_delivery_retries_total")
	DeliveryFailures  = expvar.NewInt("dispatch_delivery_failures_total")
	ThrottleWaits     = expvar.NewInt("dispatch_throttle_waits_total")
	EventsDropped     = expvar.NewInt("eventbus_events_dropped_total")
	queueDepth        = expvar.NewInt("dispatch_queue_depth")
	inFlight          = expvar.NewInt("dispatch_in_flight")
	sentThisWindow    = expvar.NewInt("dispatch_sent_this_window")
)

// SetQueueDepth records the number of messages held by the queue (pending + in flight).
func SetQueueDepth(n int) {
	queueDepth.Set(int64(n))
}

// SetInFlight records whether a delivery attempt is running (0 or 1).
func SetInFlight(n int) {
	inFlight.Set(int64(n))
}

// SetSentThisWindow records the rate limiter's counter for the current window.
func SetSentThisWindow(n int) {
	sentThisWindow.Set(int64(n))
}

// ResetForTests clears counters; intended for use in tests only.
func ResetForTests() {
	for _, v := range []*expvar.Int{
		MessagesEnqueued, MessagesDeduped, MessagesDelivered, DeliveryRetries,
		DeliveryFailures, ThrottleWaits, EventsDropped, queueDepth, inFlight, sentThisWindow,
	} {
		v.Set(0)
	}
}
