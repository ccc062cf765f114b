package errpolicy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	p, err := Parse("exit")
	require.NoError(t, err)
	assert.Equal(t, Exit, p)

	p, err = Parse("log")
	require.NoError(t, err)
	assert.Equal(t, Log, p)

	p, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, Exit, p, "default policy is exit")

	_, err = Parse("bogus")
	assert.Error(t, err)
}

func TestHandler_LogPolicySwallowsOrdinaryErrors(t *testing.T) {
	h := New(Log)
	err := h.Handle("delivery to topic orders", fmt.Errorf("broker unreachable"))
	assert.NoError(t, err, "log policy must swallow ordinary errors")
}

func TestHandler_ExitPolicyPropagatesOrdinaryErrors(t *testing.T) {
	h := New(Exit)
	err := h.Handle("delivery to topic orders", fmt.Errorf("broker unreachable"))
	assert.Error(t, err)
}

func TestHandler_StructurallyFatalAlwaysPropagatesUnderLogPolicy(t *testing.T) {
	h := New(Log)
	err := h.Handle("enqueue", NewFatal(UnknownRelID, fmt.Errorf("relid 77 never seen")))
	assert.Error(t, err, "structurally fatal errors bypass log policy")
}
