// Package dispatcher implements the ingest dispatcher:
// the eight callbacks invoked by the frame reader, and the send_kafka_msg
// enqueue path they share. Every method runs on the single event-loop
// goroutine; none of it is safe to call concurrently.
package dispatcher

import (
	"fmt"

	"github.com/bottledwater/bwkafka/internal/backpressure"
	"github.com/bottledwater/bwkafka/internal/checkpoint"
	"github.com/bottledwater/bwkafka/internal/encoding"
	"github.com/bottledwater/bwkafka/internal/errpolicy"
	"github.com/bottledwater/bwkafka/internal/kafka"
	"github.com/bottledwater/bwkafka/internal/logging"
	"github.com/bottledwater/bwkafka/internal/mapper"
	"github.com/bottledwater/bwkafka/internal/ring"
	"github.com/bottledwater/bwkafka/internal/stats"
)

// ErrSyncPending is returned by Keepalive when the ring is non-empty, so
// the frame reader defers advancing its client-side LSN.
var ErrSyncPending = fmt.Errorf("dispatcher: sync pending")

// Producer is the subset of the Kafka driver the dispatcher depends on.
type Producer interface {
	Produce(topic mapper.TopicHandle, key, value []byte, onDelivery kafka.DeliveryFunc) error
}

// Dispatcher wires the ring, table mapper, encoder, Kafka producer,
// backpressure loop, checkpoint engine and error policy into the eight
// frame-reader callbacks.
type Dispatcher struct {
	ring         *ring.Ring
	mapper       *mapper.Mapper
	encoder      encoding.Encoder
	producer     Producer
	backpressure *backpressure.Loop
	checkpoint   *checkpoint.Engine
	errPolicy    *errpolicy.Handler
	allowUnkeyed bool
	stats        *stats.Reporter
	logger       *logging.Logger
}

func New(
	r *ring.Ring,
	m *mapper.Mapper,
	encoder encoding.Encoder,
	producer Producer,
	bp *backpressure.Loop,
	ckpt *checkpoint.Engine,
	errPolicy *errpolicy.Handler,
	allowUnkeyed bool,
	reporter *stats.Reporter,
) *Dispatcher {
	return &Dispatcher{
		ring:         r,
		mapper:       m,
		encoder:      encoder,
		producer:     producer,
		backpressure: bp,
		checkpoint:   ckpt,
		errPolicy:    errPolicy,
		allowUnkeyed: allowUnkeyed,
		stats:        reporter,
		logger:       logging.NewLogger("Dispatcher"),
	}
}

// Begin handles the begin(wal_pos, xid) callback.
func (d *Dispatcher) Begin(walPos uint64, xid uint32) error {
	if xid == 0 && !d.ring.Fresh() {
		return errpolicy.NewFatal(errpolicy.RingInvariantViolation,
			fmt.Errorf("unexpected-snapshot-position: snapshot transaction began with a non-empty ring"))
	}

	for d.ring.Full() {
		if err := d.backpressure.RunOnce(); err != nil {
			return err
		}
	}

	if _, err := d.ring.Begin(xid); err != nil {
		return errpolicy.NewFatal(errpolicy.RingInvariantViolation, err)
	}
	d.stats.RingOccupancy(d.ring.Len())
	return nil
}

// Commit handles the commit(wal_pos, xid) callback.
func (d *Dispatcher) Commit(walPos uint64, xid uint32) error {
	head := d.ring.Head()
	if head == nil || head.Xid != xid {
		return errpolicy.NewFatal(errpolicy.CommitBeginMismatch,
			fmt.Errorf("xid-mismatch: commit for xid %d does not match head xid", xid))
	}
	head.CommitLSN = walPos
	d.checkpoint.Run()
	d.stats.RingOccupancy(d.ring.Len())
	return nil
}

// TableSchema handles the table_schema(relid, ...) callback. A mapper
// failure is logged but does not terminate - the frame reader's callback
// context cannot safely propagate an error from here.
func (d *Dispatcher) TableSchema(relid uint32, keySchemaJSON, rowSchemaJSON []byte) {
	if _, err := d.mapper.Update(relid, rowSchemaJSON, keySchemaJSON); err != nil {
		d.logger.Errorf("failed to update table metadata for relation %d: %v", relid, err)
	}
}

// Insert handles the insert(relid, key_bin, key_val, new_bin, new_val)
// callback. A nil key means the relation has no replica identity; unless
// --allow-unkeyed permits capturing such tables, the insert is dropped
// rather than produced with a nil key.
func (d *Dispatcher) Insert(relid uint32, key, value []byte) error {
	d.stats.EventReceived()
	if key == nil && !d.allowUnkeyed {
		d.logger.Warnf("dropping insert for unkeyed relation %d (allow-unkeyed disabled)", relid)
		d.stats.EventDropped()
		return nil
	}
	return d.sendKafkaMsg(relid, key, value)
}

// Update handles the update(relid, ...) callback. The old row image is
// ignored by the core pipeline; it exists only for an optional debug sink.
// Like Insert, an unkeyed update is dropped unless --allow-unkeyed is set.
func (d *Dispatcher) Update(relid uint32, key, value []byte, _, _ []byte) error {
	d.stats.EventReceived()
	if key == nil && !d.allowUnkeyed {
		d.logger.Warnf("dropping update for unkeyed relation %d (allow-unkeyed disabled)", relid)
		d.stats.EventDropped()
		return nil
	}
	return d.sendKafkaMsg(relid, key, value)
}

// Delete handles the delete(relid, key_bin, key_val, old_bin, old_val)
// callback. An unkeyed delete cannot be represented as a tombstone and is
// always dropped, regardless of --allow-unkeyed.
func (d *Dispatcher) Delete(relid uint32, key []byte, _ []byte) error {
	d.stats.EventReceived()
	if key == nil {
		d.logger.Warnf("dropping delete for unkeyed relation %d", relid)
		d.stats.EventDropped()
		return nil
	}
	return d.sendKafkaMsg(relid, key, nil)
}

// Keepalive handles the keepalive(wal_pos) callback.
func (d *Dispatcher) Keepalive(walPos uint64) error {
	if d.ring.Empty() {
		return nil
	}
	return ErrSyncPending
}

// Error handles the error(err, message) callback, forwarding to the error
// policy under the given driver-reported code.
func (d *Dispatcher) Error(code string, message string) error {
	return d.errPolicy.Handle(code, fmt.Errorf("%s", message))
}

// sendKafkaMsg is the enqueue path shared by insert/update/delete.
func (d *Dispatcher) sendKafkaMsg(relid uint32, rawKey, rawValue []byte) error {
	head := d.ring.Head()
	if head == nil {
		return errpolicy.NewFatal(errpolicy.RingInvariantViolation,
			fmt.Errorf("enqueue with no open transaction for relation %d", relid))
	}
	head.ReceivedEvents++
	head.PendingEvents++
	d.stats.PendingEvents(head.PendingEvents)

	meta, ok := d.mapper.Lookup(relid)
	if !ok {
		head.PendingEvents--
		return errpolicy.NewFatal(errpolicy.UnknownRelID,
			fmt.Errorf("unknown-relid: relation %d has no table metadata", relid))
	}

	key, err := d.encoder.EncodeKey(meta, rawKey)
	if err != nil {
		head.PendingEvents--
		return fmt.Errorf("encoding key for relation %d: %w", relid, err)
	}
	value, err := d.encoder.EncodeValue(meta, rawValue)
	if err != nil {
		head.PendingEvents--
		return fmt.Errorf("encoding value for relation %d: %w", relid, err)
	}

	for {
		err := d.producer.Produce(meta.Topic, key, value, func(deliveryErr error) {
			d.onDelivery(head, meta.TopicName, deliveryErr)
		})
		if err == nil {
			return nil
		}
		if err != kafka.ErrQueueFull {
			head.PendingEvents--
			return fmt.Errorf("enqueueing to topic %s: %w", meta.TopicName, err)
		}
		if bpErr := d.backpressure.RunOnce(); bpErr != nil {
			head.PendingEvents--
			return bpErr
		}
	}
}

// onDelivery is the Kafka driver's delivery callback.
func (d *Dispatcher) onDelivery(rec *ring.Record, topicName string, deliveryErr error) {
	if deliveryErr != nil {
		d.stats.DeliveryError()
		if err := d.errPolicy.Handle(topicName, deliveryErr); err != nil {
			d.logger.Fatalf("delivery to %s failed fatally: %v", topicName, err)
		}
	}
	rec.PendingEvents--
	d.stats.PendingEvents(rec.PendingEvents)
	d.checkpoint.Run()
}
