package metrics

import (
	"expvar"
	"testing"
)

func TestMetricsCounters(t *testing.T) {
	ResetForTests()
	if MessagesEnqueued.Value() != 0 {
		t.Fatalf("expected zero initial MessagesEnqueued")
	}

	MessagesEnqueued.Add(2)
	SetQueueDepth(5)
	SetInFlight(1)
	if MessagesEnqueued.Value() != 2 {
		t.Fatalf("expected MessagesEnqueued=2, got %d", MessagesEnqueued.Value())
	}
	if v := expvar.Get("dispatch_queue_depth"); v == nil || v.String() != "5" {
		t.Fatalf("expected published queue depth 5, got %v", v)
	}

	ResetForTests()
	if queueDepth.Value() != 0 || inFlight.Value() != 0 {
		t.Fatalf("expected gauges reset to 0")
	}
}
