// Package encoding defines the wire-encoder contract: given raw
// key/value bytes handed up by the frame reader and the table metadata the
// mapper assigned, produce the buffers actually sent to Kafka. A nil input
// buffer is passed through as a nil output buffer so tombstone and
// null-key semantics survive encoding untouched.
package encoding

import "github.com/bottledwater/bwkafka/internal/mapper"

// Encoder is implemented by the avro and json sub-packages.
type Encoder interface {
	// EncodeKey produces the wire bytes for a row's key. raw may be nil,
	// meaning the row carries no replica identity; the result is then nil too.
	EncodeKey(meta *mapper.TableMetadata, raw []byte) ([]byte, error)
	// EncodeValue produces the wire bytes for a row's value. raw is nil
	// for a delete (tombstone); the result is then nil too.
	EncodeValue(meta *mapper.TableMetadata, raw []byte) ([]byte, error)
}
