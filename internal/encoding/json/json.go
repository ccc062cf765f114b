// Package json implements the JSON wire encoder: it passes the
// frame reader's already-serialized JSON bytes straight through. No schema
// registry involvement, no framing header.
package json

import "github.com/bottledwater/bwkafka/internal/mapper"

type Encoder struct{}

func New() *Encoder { return &Encoder{} }

func (e *Encoder) EncodeKey(_ *mapper.TableMetadata, raw []byte) ([]byte, error) {
	return raw, nil
}

func (e *Encoder) EncodeValue(_ *mapper.TableMetadata, raw []byte) ([]byte, error) {
	return raw, nil
}
