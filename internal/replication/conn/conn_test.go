package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConn_FsyncLSNStateTransitions(t *testing.T) {
	c := &Conn{takingSnapshot: true}

	assert.Equal(t, uint64(0), c.FsyncLSN())
	c.SetFsyncLSN(42)
	assert.Equal(t, uint64(42), c.FsyncLSN())

	assert.True(t, c.TakingSnapshot())
	c.ClearTakingSnapshot()
	assert.False(t, c.TakingSnapshot())
}
