package stats

import "github.com/segmentio/stats"

// Reporter records pipeline counters under its engine's prefix. The zero
// value and a nil *Reporter are both valid no-ops, so dispatcher,
// checkpoint and backpressure can hold one unconditionally whether or not
// a stats Service was ever wired up.
type Reporter struct {
	engine *stats.Engine
}

func (r *Reporter) incr(name string) {
	if r == nil || r.engine == nil {
		return
	}
	r.engine.Incr(name)
}

func (r *Reporter) set(name string, value float64) {
	if r == nil || r.engine == nil {
		return
	}
	r.engine.Set(name, value)
}

// EventReceived records one ingest callback (insert/update/delete) seen
// off the replication stream, before any drop/keyedness check.
func (r *Reporter) EventReceived() { r.incr("events.received") }

// EventDropped records one ingest callback dropped without reaching Kafka:
// an unkeyed insert/update with --allow-unkeyed unset, or any unkeyed
// delete.
func (r *Reporter) EventDropped() { r.incr("events.dropped") }

// PendingEvents reports the ring head's current outstanding-delivery
// count after an enqueue or a delivery callback.
func (r *Reporter) PendingEvents(n uint64) { r.set("events.pending", float64(n)) }

// RingOccupancy reports the number of in-flight transactions currently
// held by the ring.
func (r *Reporter) RingOccupancy(n int) { r.set("ring.occupancy", float64(n)) }

// CheckpointAdvanced records a checkpoint pass that drained at least one
// closed transaction, alongside the fsync_lsn it advanced to.
func (r *Reporter) CheckpointAdvanced(advanced int, fsyncLSN uint64) {
	if advanced == 0 {
		return
	}
	r.incr("checkpoint.advanced")
	r.set("checkpoint.fsync_lsn", float64(fsyncLSN))
}

// DeliveryError records a Kafka delivery failure reaching the error
// policy.
func (r *Reporter) DeliveryError() { r.incr("delivery.errors") }

// BackpressureStall records one backpressure loop iteration triggered by a
// full ring or a full producer queue.
func (r *Reporter) BackpressureStall() { r.incr("backpressure.stalls") }
