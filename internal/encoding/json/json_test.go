package json

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bottledwater/bwkafka/internal/mapper"
)

func TestEncoder_PassesBytesThroughUnchanged(t *testing.T) {
	e := New()
	meta := &mapper.TableMetadata{}

	value, err := e.EncodeValue(meta, []byte(`{"id":1}`))
	assert.NoError(t, err)
	assert.Equal(t, []byte(`{"id":1}`), value)

	key, err := e.EncodeKey(meta, nil)
	assert.NoError(t, err)
	assert.Nil(t, key)
}
