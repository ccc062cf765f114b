package dispatcher

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottledwater/bwkafka/internal/backpressure"
	"github.com/bottledwater/bwkafka/internal/checkpoint"
	jsonenc "github.com/bottledwater/bwkafka/internal/encoding/json"
	"github.com/bottledwater/bwkafka/internal/errpolicy"
	"github.com/bottledwater/bwkafka/internal/kafka"
	"github.com/bottledwater/bwkafka/internal/mapper"
	"github.com/bottledwater/bwkafka/internal/ring"
)

type fakeTopic struct{ name string }

func (f *fakeTopic) Name() string { return f.name }

type fakeTopicCreator struct{}

func (fakeTopicCreator) CreateTopic(name string, _ map[string]string) (mapper.TopicHandle, error) {
	return &fakeTopic{name: name}, nil
}

type fakeProduced struct {
	key, value []byte
	onDelivery kafka.DeliveryFunc
}

type fakeProducer struct {
	produced  []fakeProduced
	queueFull int // number of times to return ErrQueueFull before succeeding
}

func (f *fakeProducer) Produce(_ mapper.TopicHandle, key, value []byte, onDelivery kafka.DeliveryFunc) error {
	if f.queueFull > 0 {
		f.queueFull--
		return kafka.ErrQueueFull
	}
	f.produced = append(f.produced, fakeProduced{key: key, value: value, onDelivery: onDelivery})
	return nil
}

type fakeCheckpointState struct{ fsyncLSN uint64 }

func (f *fakeCheckpointState) FsyncLSN() uint64       { return f.fsyncLSN }
func (f *fakeCheckpointState) SetFsyncLSN(lsn uint64) { f.fsyncLSN = lsn }
func (f *fakeCheckpointState) ClearTakingSnapshot()   {}

type fakePoller struct{}

func (fakePoller) Poll(_ time.Duration) int { return 0 }

type fakeKeepaliver struct{}

func (fakeKeepaliver) SendStandbyStatusUpdate() error { return nil }

type fakeShutdown struct{}

func (fakeShutdown) ShuttingDown() bool { return false }

func newTestDispatcher(t *testing.T, capacity int, allowUnkeyed bool) (*Dispatcher, *ring.Ring, *fakeProducer, *mapper.Mapper) {
	t.Helper()
	r := ring.New(capacity)
	m := mapper.New(mapper.Config{Format: mapper.FormatJSON}, fakeTopicCreator{}, nil, nil)
	producer := &fakeProducer{}
	bp := backpressure.New(fakePoller{}, fakeKeepaliver{}, fakeShutdown{}, nil)
	ckpt := checkpoint.New(r, &fakeCheckpointState{}, nil)
	errPolicy := errpolicy.New(errpolicy.Exit)

	d := New(r, m, jsonenc.New(), producer, bp, ckpt, errPolicy, allowUnkeyed, nil)
	return d, r, producer, m
}

func TestDispatcher_BeginRejectsSnapshotOnNonEmptyRing(t *testing.T) {
	d, r, _, _ := newTestDispatcher(t, 4, false)
	_, err := r.Begin(1)
	require.NoError(t, err)

	err = d.Begin(100, 0)
	assert.Error(t, err)
}

func TestDispatcher_CommitMismatchIsFatal(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, 4, false)
	require.NoError(t, d.Begin(10, 1))

	err := d.Commit(20, 2)
	assert.Error(t, err)
}

func TestDispatcher_CommitSetsCommitLSN(t *testing.T) {
	d, r, _, _ := newTestDispatcher(t, 4, false)
	require.NoError(t, d.Begin(10, 1))

	err := d.Commit(20, 1)
	require.NoError(t, err)
	// The checkpoint engine already drained the now-closed record.
	assert.True(t, r.Empty())
}

func TestDispatcher_InsertUnknownRelationIsFatal(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, 4, false)
	require.NoError(t, d.Begin(1, 1))

	err := d.Insert(999, []byte("k"), []byte("v"))
	assert.Error(t, err)
}

func TestDispatcher_InsertEnqueuesAndDeliverySuccessClosesTransaction(t *testing.T) {
	d, r, producer, m := newTestDispatcher(t, 4, false)
	_, err := m.Update(5, []byte(`{"type":"record","name":"widgets","namespace":"public","fields":[]}`), []byte(`{"type":"record","name":"widgets_key","namespace":"public","fields":[]}`))
	require.NoError(t, err)

	require.NoError(t, d.Begin(1, 1))
	require.NoError(t, d.Insert(5, []byte("k"), []byte("v")))
	require.Len(t, producer.produced, 1)

	require.NoError(t, d.Commit(2, 1))
	assert.False(t, r.Empty(), "commit alone cannot close the record while a delivery is still pending")

	producer.produced[0].onDelivery(nil)
	assert.True(t, r.Empty(), "successful delivery plus commit must close and checkpoint the transaction")
}

func TestDispatcher_InsertWithoutKeyIsDroppedWhenUnkeyedNotAllowed(t *testing.T) {
	d, _, producer, m := newTestDispatcher(t, 4, false)
	_, err := m.Update(5, []byte(`{"type":"record","name":"widgets","namespace":"public","fields":[]}`), []byte(`{"type":"record","name":"widgets_key","namespace":"public","fields":[]}`))
	require.NoError(t, err)
	require.NoError(t, d.Begin(1, 1))

	require.NoError(t, d.Insert(5, nil, []byte("v")))
	assert.Empty(t, producer.produced, "unkeyed insert must not reach the producer unless --allow-unkeyed is set")
}

func TestDispatcher_InsertWithoutKeyEnqueuesWhenUnkeyedAllowed(t *testing.T) {
	d, _, producer, m := newTestDispatcher(t, 4, true)
	_, err := m.Update(5, []byte(`{"type":"record","name":"widgets","namespace":"public","fields":[]}`), []byte(`{"type":"record","name":"widgets_key","namespace":"public","fields":[]}`))
	require.NoError(t, err)
	require.NoError(t, d.Begin(1, 1))

	require.NoError(t, d.Insert(5, nil, []byte("v")))
	require.Len(t, producer.produced, 1)
	assert.Nil(t, producer.produced[0].key)
}

func TestDispatcher_UpdateWithoutKeyIsDroppedWhenUnkeyedNotAllowed(t *testing.T) {
	d, _, producer, m := newTestDispatcher(t, 4, false)
	_, err := m.Update(5, []byte(`{"type":"record","name":"widgets","namespace":"public","fields":[]}`), []byte(`{"type":"record","name":"widgets_key","namespace":"public","fields":[]}`))
	require.NoError(t, err)
	require.NoError(t, d.Begin(1, 1))

	require.NoError(t, d.Update(5, nil, []byte("v"), nil, nil))
	assert.Empty(t, producer.produced, "unkeyed update must not reach the producer unless --allow-unkeyed is set")
}

func TestDispatcher_UpdateWithoutKeyEnqueuesWhenUnkeyedAllowed(t *testing.T) {
	d, _, producer, m := newTestDispatcher(t, 4, true)
	_, err := m.Update(5, []byte(`{"type":"record","name":"widgets","namespace":"public","fields":[]}`), []byte(`{"type":"record","name":"widgets_key","namespace":"public","fields":[]}`))
	require.NoError(t, err)
	require.NoError(t, d.Begin(1, 1))

	require.NoError(t, d.Update(5, nil, []byte("v"), nil, nil))
	require.Len(t, producer.produced, 1)
}

func TestDispatcher_DeleteWithoutKeyIsDroppedRegardlessOfAllowUnkeyed(t *testing.T) {
	d, _, producer, m := newTestDispatcher(t, 4, true)
	_, err := m.Update(5, []byte(`{"type":"record","name":"widgets","namespace":"public","fields":[]}`), []byte(`{"type":"record","name":"widgets_key","namespace":"public","fields":[]}`))
	require.NoError(t, err)
	require.NoError(t, d.Begin(1, 1))

	err = d.Delete(5, nil, []byte("old"))
	assert.NoError(t, err)
	assert.Empty(t, producer.produced, "a delete cannot be a tombstone without a key, --allow-unkeyed or not")
}

func TestDispatcher_DeleteWithoutKeyIsDroppedNotEnqueued(t *testing.T) {
	d, _, producer, m := newTestDispatcher(t, 4, false)
	_, err := m.Update(5, []byte(`{"type":"record","name":"widgets","namespace":"public","fields":[]}`), []byte(`{"type":"record","name":"widgets_key","namespace":"public","fields":[]}`))
	require.NoError(t, err)
	require.NoError(t, d.Begin(1, 1))

	err = d.Delete(5, nil, []byte("old"))
	assert.NoError(t, err)
	assert.Empty(t, producer.produced)
}

func TestDispatcher_DeleteWithKeyEnqueuesTombstone(t *testing.T) {
	d, _, producer, m := newTestDispatcher(t, 4, false)
	_, err := m.Update(5, []byte(`{"type":"record","name":"widgets","namespace":"public","fields":[]}`), []byte(`{"type":"record","name":"widgets_key","namespace":"public","fields":[]}`))
	require.NoError(t, err)
	require.NoError(t, d.Begin(1, 1))

	err = d.Delete(5, []byte("k"), []byte("old"))
	require.NoError(t, err)
	require.Len(t, producer.produced, 1)
	assert.Nil(t, producer.produced[0].value, "tombstone must carry a nil value")
}

func TestDispatcher_KeepaliveReflectsRingOccupancy(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, 4, false)
	assert.NoError(t, d.Keepalive(1))

	require.NoError(t, d.Begin(1, 1))
	assert.ErrorIs(t, d.Keepalive(2), ErrSyncPending)
}

func TestDispatcher_EnqueueRetriesThroughBackpressureOnQueueFull(t *testing.T) {
	d, _, producer, m := newTestDispatcher(t, 4, false)
	producer.queueFull = 2
	_, err := m.Update(5, []byte(`{"type":"record","name":"widgets","namespace":"public","fields":[]}`), []byte(`{"type":"record","name":"widgets_key","namespace":"public","fields":[]}`))
	require.NoError(t, err)
	require.NoError(t, d.Begin(1, 1))

	err = d.Insert(5, []byte("k"), []byte("v"))
	require.NoError(t, err)
	assert.Len(t, producer.produced, 1)
}

func TestDispatcher_ErrorForwardsToErrorPolicy(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, 4, false)
	err := d.Error("broker-unreachable", fmt.Sprintf("connection refused"))
	assert.Error(t, err, "default exit policy must propagate the error")
}
