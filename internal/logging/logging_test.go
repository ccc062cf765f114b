package logging

import (
	"fmt"
	"os"
	"testing"

	"github.com/gookit/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_WritesToTraceFile(t *testing.T) {
	path := fmt.Sprintf("/tmp/bwkafka-logtest-%d", os.Getpid())
	defer os.Remove(path)

	err := Configure("info", false, path)
	require.NoError(t, err)
	assert.NotNil(t, defaultFile)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestConfigure_RejectsUnwritablePath(t *testing.T) {
	err := Configure("info", false, "/no/such/directory/trace.log")
	assert.Error(t, err)
}

func TestNameToLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"fatal":   slog.FatalLevel,
		"error":   slog.ErrorLevel,
		"warn":    slog.WarnLevel,
		"verbose": VerboseLevel,
		"debug":   slog.DebugLevel,
		"trace":   slog.TraceLevel,
		"info":    slog.InfoLevel,
		"bogus":   slog.InfoLevel,
	}
	for name, want := range cases {
		assert.Equal(t, want, nameToLevel(name), name)
	}
}

func TestNewLogger_VerboseGateFollowsGlobalFlag(t *testing.T) {
	require.NoError(t, Configure("info", false, ""))
	l := NewLogger("Test")

	WithVerbose = false
	assert.False(t, l.enabled(VerboseLevel))

	WithVerbose = true
	defer func() { WithVerbose = false }()
	assert.True(t, l.enabled(VerboseLevel))
}
