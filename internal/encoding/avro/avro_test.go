package avro

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bottledwater/bwkafka/internal/mapper"
)

func TestEncoder_FramingRoundTrips(t *testing.T) {
	e := New()
	meta := &mapper.TableMetadata{RowSchemaID: 7, KeySchemaID: 3}

	value, err := e.EncodeValue(meta, []byte("payload"))
	require.NoError(t, err)
	assert.Len(t, value, headerSize+len("payload"))

	schemaID, payload, err := Decode(value)
	require.NoError(t, err)
	assert.Equal(t, int32(7), schemaID)
	assert.Equal(t, []byte("payload"), payload)

	key, err := e.EncodeKey(meta, []byte("k"))
	require.NoError(t, err)
	schemaID, payload, err = Decode(key)
	require.NoError(t, err)
	assert.Equal(t, int32(3), schemaID)
	assert.Equal(t, []byte("k"), payload)
}

func TestEncoder_NilInputsPassThroughAsNil(t *testing.T) {
	e := New()
	meta := &mapper.TableMetadata{RowSchemaID: 1, KeySchemaID: 1}

	value, err := e.EncodeValue(meta, nil)
	require.NoError(t, err)
	assert.Nil(t, value, "tombstone values must stay nil after encoding")

	key, err := e.EncodeKey(meta, nil)
	require.NoError(t, err)
	assert.Nil(t, key, "unkeyed rows must stay nil after encoding")
}

func TestEncoder_MissingSchemaIDIsError(t *testing.T) {
	e := New()
	meta := &mapper.TableMetadata{RowSchemaID: -1, KeySchemaID: -1}

	_, err := e.EncodeValue(meta, []byte("x"))
	assert.Error(t, err)
}

func TestDecode_RejectsShortOrBadlyTaggedFrames(t *testing.T) {
	_, _, err := Decode([]byte{0x00, 0x01})
	assert.Error(t, err)

	bad := make([]byte, headerSize)
	bad[0] = 0x01
	_, _, err = Decode(bad)
	assert.Error(t, err)
}
