// Package backpressure implements the backpressure loop: it
// stalls the ingest path without starving the Kafka driver's delivery
// callbacks or letting PostgreSQL time out the replication connection.
package backpressure

import (
	"fmt"
	"time"

	"github.com/bottledwater/bwkafka/internal/logging"
	"github.com/bottledwater/bwkafka/internal/stats"
)

// pollInterval is the per-iteration Kafka poll budget.
const pollInterval = 200 * time.Millisecond

// ErrShuttingDown is returned by RunOnce/RunUntil once a shutdown signal
// has been observed, so the caller can begin graceful shutdown instead of
// retrying the blocked operation.
var ErrShuttingDown = fmt.Errorf("backpressure: shutdown observed")

// KafkaPoller drains delivery callbacks for up to the given timeout.
type KafkaPoller interface {
	Poll(timeout time.Duration) int
}

// Keepaliver sends a standby status update reporting the current
// fsync_lsn. A failure here is fatal.
type Keepaliver interface {
	SendStandbyStatusUpdate() error
}

// ShutdownSignal reports whether the process has begun shutting down.
type ShutdownSignal interface {
	ShuttingDown() bool
}

type Loop struct {
	kafka    KafkaPoller
	conn     Keepaliver
	shutdown ShutdownSignal
	stats    *stats.Reporter
	logger   *logging.Logger
}

func New(kafka KafkaPoller, conn Keepaliver, shutdown ShutdownSignal, reporter *stats.Reporter) *Loop {
	return &Loop{kafka: kafka, conn: conn, shutdown: shutdown, stats: reporter, logger: logging.NewLogger("Backpressure")}
}

// RunOnce executes a single iteration: poll the Kafka driver, check for a
// shutdown signal, then send a keepalive.
func (l *Loop) RunOnce() error {
	l.stats.BackpressureStall()
	l.kafka.Poll(pollInterval)

	if l.shutdown.ShuttingDown() {
		return ErrShuttingDown
	}

	if err := l.conn.SendStandbyStatusUpdate(); err != nil {
		return fmt.Errorf("backpressure: standby status update failed: %w", err)
	}
	return nil
}

// RunUntil repeats RunOnce while cond returns true, stopping as soon as it
// returns false (the blocking condition cleared) or RunOnce errors.
func (l *Loop) RunUntil(cond func() bool) error {
	for cond() {
		if err := l.RunOnce(); err != nil {
			return err
		}
	}
	return nil
}
