package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottledwater/bwkafka/internal/ring"
)

type fakeState struct {
	fsyncLSN           uint64
	takingSnapshot      bool
	clearSnapshotCalled bool
}

func (f *fakeState) FsyncLSN() uint64        { return f.fsyncLSN }
func (f *fakeState) SetFsyncLSN(lsn uint64)  { f.fsyncLSN = lsn }
func (f *fakeState) ClearTakingSnapshot() {
	f.takingSnapshot = false
	f.clearSnapshotCalled = true
}

func TestEngine_AdvancesMonotonicallyAndStopsAtOpenRecord(t *testing.T) {
	r := ring.New(4)
	tx1, err := r.Begin(1)
	require.NoError(t, err)
	tx1.CommitLSN = 100

	tx2, err := r.Begin(2)
	require.NoError(t, err)
	tx2.PendingEvents = 1 // still open

	state := &fakeState{}
	eng := New(r, state, nil)

	advanced := eng.Run()
	assert.Equal(t, 1, advanced)
	assert.Equal(t, uint64(100), state.fsyncLSN)
	assert.True(t, r.Len() == 1, "open record must remain in the ring")
}

func TestEngine_ClearsSnapshotFlagOnSnapshotCommit(t *testing.T) {
	r := ring.New(4)
	snapshot, err := r.Begin(0)
	require.NoError(t, err)
	snapshot.CommitLSN = 50

	state := &fakeState{takingSnapshot: true}
	eng := New(r, state, nil)
	eng.Run()

	assert.True(t, state.clearSnapshotCalled)
}

func TestEngine_OutOfOrderCommitLogsButStillAdvances(t *testing.T) {
	r := ring.New(4)
	tx, err := r.Begin(1)
	require.NoError(t, err)
	tx.CommitLSN = 10

	state := &fakeState{fsyncLSN: 999} // already ahead
	eng := New(r, state, nil)

	advanced := eng.Run()
	assert.Equal(t, 1, advanced)
	assert.Equal(t, uint64(999), state.fsyncLSN, "fsync_lsn must never move backward")
}

func TestEngine_DrainsMultipleClosedRecordsInOneRun(t *testing.T) {
	r := ring.New(4)
	tx1, _ := r.Begin(1)
	tx1.CommitLSN = 10
	tx2, _ := r.Begin(2)
	tx2.CommitLSN = 20

	state := &fakeState{}
	eng := New(r, state, nil)

	advanced := eng.Run()
	assert.Equal(t, 2, advanced)
	assert.Equal(t, uint64(20), state.fsyncLSN)
	assert.True(t, r.Empty())
}
