// Package checkpoint implements the checkpoint engine: after
// every commit and every successful delivery ack, it drains closed records
// off the tail of the transaction ring and advances the replication
// connection's durable restart position.
package checkpoint

import (
	"github.com/bottledwater/bwkafka/internal/logging"
	"github.com/bottledwater/bwkafka/internal/ring"
	"github.com/bottledwater/bwkafka/internal/stats"
)

// State is the subset of replication-connection state the checkpoint
// engine advances. fsync_lsn is what gets reported on the next standby
// status update and becomes the restart LSN after a crash.
type State interface {
	FsyncLSN() uint64
	SetFsyncLSN(lsn uint64)
	ClearTakingSnapshot()
}

type Engine struct {
	ring   *ring.Ring
	state  State
	stats  *stats.Reporter
	logger *logging.Logger
}

func New(r *ring.Ring, state State, reporter *stats.Reporter) *Engine {
	return &Engine{ring: r, state: state, stats: reporter, logger: logging.NewLogger("Checkpoint")}
}

// Run drains every closed record off the ring's tail, in order, and
// returns how many were advanced. Stops at the first record that is not
// yet closed, or when the ring empties.
func (e *Engine) Run() int {
	advanced := 0
	for {
		rec, ok := e.ring.Advance()
		if !ok {
			break
		}

		current := e.state.FsyncLSN()
		if current > rec.CommitLSN {
			e.logger.Warnf("commits-out-of-order: fsync_lsn %d already ahead of commit_lsn %d for xid %d", current, rec.CommitLSN, rec.Xid)
		}
		if rec.CommitLSN > current {
			e.state.SetFsyncLSN(rec.CommitLSN)
		}

		if rec.Xid == 0 && rec.CommitLSN > 0 {
			e.state.ClearTakingSnapshot()
		}

		advanced++
	}
	e.stats.CheckpointAdvanced(advanced, e.state.FsyncLSN())
	e.stats.RingOccupancy(e.ring.Len())
	return advanced
}
