package stats

import "testing"

// A nil *Reporter must behave as a no-op so callers can hold one
// unconditionally without a separate enabled check at every call site.
func TestNilReporterIsNoOp(t *testing.T) {
	var r *Reporter
	r.EventReceived()
	r.EventDropped()
	r.PendingEvents(3)
	r.RingOccupancy(2)
	r.CheckpointAdvanced(1, 100)
	r.DeliveryError()
	r.BackpressureStall()
}

func TestZeroValueReporterIsNoOp(t *testing.T) {
	r := &Reporter{}
	r.EventReceived()
	r.PendingEvents(1)
}
