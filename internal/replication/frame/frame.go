// Package frame implements the upstream frame reader: it drives the
// pgoutput logical replication stream and translates Relation/Begin/
// Commit/Insert/Update/Delete messages into the eight-callback surface the
// ingest dispatcher implements. Row and key values are encoded
// against a schema generated from each relation's column metadata; the
// schema's JSON text is also what the table mapper uses to derive topic
// names, independent of which wire encoder is in use.
package frame

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goavro "github.com/hamba/avro/v2"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/samber/lo"

	"github.com/bottledwater/bwkafka/internal/logging"
	"github.com/bottledwater/bwkafka/internal/replication/conn"
)

// Format selects how row/key tuples are serialized before being handed to
// the dispatcher's enqueue path.
type Format int

const (
	FormatAvro Format = iota
	FormatJSON
)

// standbyMessageTimeout bounds how long ReceiveMessage blocks before the
// caller gets a chance to send a keepalive.
const standbyMessageTimeout = 10 * time.Second

// Handler is the ingest dispatcher's callback surface, as seen by the
// frame reader.
type Handler interface {
	Begin(walPos uint64, xid uint32) error
	Commit(walPos uint64, xid uint32) error
	TableSchema(relid uint32, keySchemaJSON, rowSchemaJSON []byte)
	Insert(relid uint32, key, value []byte) error
	Update(relid uint32, key, value, oldKey, oldValue []byte) error
	Delete(relid uint32, key, oldValue []byte) error
	Keepalive(walPos uint64) error
	Error(code, message string) error
}

// KafkaPoller drains delivery callbacks without blocking. The main loop
// calls this every iteration so Successes()/Errors() get drained, and
// onDelivery/checkpoint advancement happen under normal load rather than
// only when the dispatcher's ring or producer queue is full.
type KafkaPoller interface {
	Poll(timeout time.Duration) int
}

// ShutdownSignal reports whether the process has begun shutting down.
type ShutdownSignal interface {
	ShuttingDown() bool
}

type relation struct {
	msg           *pglogrepl.RelationMessage
	keySchema     goavro.Schema
	rowSchema     goavro.Schema
	keyColumnIdx  []int
	allColumnIdx  []int
}

// Reader drives a single replication connection's message stream.
type Reader struct {
	conn      *conn.Conn
	handler   Handler
	format    Format
	namespace string
	kafka     KafkaPoller
	shutdown  ShutdownSignal

	relations map[uint32]*relation
	currentXid uint32

	logger *logging.Logger
}

func New(
	c *conn.Conn, handler Handler, format Format, generatedNamespace string,
	kafka KafkaPoller, shutdown ShutdownSignal,
) *Reader {
	return &Reader{
		conn:      c,
		handler:   handler,
		format:    format,
		namespace: generatedNamespace,
		kafka:     kafka,
		shutdown:  shutdown,
		relations: make(map[uint32]*relation),
		logger:    logging.NewLogger("FrameReader"),
	}
}

// Run streams messages until ctx is cancelled, a shutdown signal is
// observed, or a fatal error occurs. Every iteration unconditionally
// drains Kafka delivery callbacks and checks for shutdown, independent of
// whether the dispatcher's ring or producer queue is ever full - mirroring
// the original's unconditional rd_kafka_poll() every trip around its main
// loop, rather than relying solely on the backpressure path.
func (r *Reader) Run(ctx context.Context) error {
	deadline := time.Now().Add(standbyMessageTimeout)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		r.kafka.Poll(0)
		if r.shutdown.ShuttingDown() {
			return nil
		}

		if time.Now().After(deadline) {
			if err := r.conn.SendStandbyStatusUpdate(); err != nil {
				return fmt.Errorf("sending standby status update: %w", err)
			}
			deadline = time.Now().Add(standbyMessageTimeout)
		}

		raw, err := r.conn.ReceiveMessage(deadline)
		if err != nil {
			return err
		}
		if raw == nil {
			continue // deadline reached, loop back around to the keepalive check
		}

		if errMsg, ok := raw.(*pgproto3.ErrorResponse); ok {
			if hErr := r.handler.Error(errMsg.Code, errMsg.Message); hErr != nil {
				return hErr
			}
			continue
		}

		copyData, ok := raw.(*pgproto3.CopyData)
		if !ok {
			r.logger.Warnf("received unexpected message type %T", raw)
			continue
		}
		if len(copyData.Data) == 0 {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pka, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				return fmt.Errorf("parsing primary keepalive message: %w", err)
			}
			if keepErr := r.handler.Keepalive(uint64(pka.ServerWALEnd)); keepErr != nil {
				// sync-pending: defer the reply deadline rather than acking early
				continue
			}
			if pka.ReplyRequested {
				deadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				return fmt.Errorf("parsing XLogData: %w", err)
			}
			if err := r.handleXLogData(xld); err != nil {
				return err
			}
		}
	}
}

func (r *Reader) handleXLogData(xld pglogrepl.XLogData) error {
	msg, err := pglogrepl.Parse(xld.WALData)
	if err != nil {
		return fmt.Errorf("parsing logical replication message: %w", err)
	}

	switch m := msg.(type) {
	case *pglogrepl.RelationMessage:
		return r.handleRelation(m)

	case *pglogrepl.BeginMessage:
		r.currentXid = m.Xid
		return r.handler.Begin(uint64(m.FinalLSN), m.Xid)

	case *pglogrepl.CommitMessage:
		return r.handler.Commit(uint64(m.CommitLSN), r.currentXid)

	case *pglogrepl.InsertMessage:
		rel, err := r.relationFor(m.RelationID)
		if err != nil {
			return err // unknown relid before its Relation message arrived is fatal
		}
		key, err := r.encodeTuple(rel, m.Tuple, rel.keyColumnIdx, rel.keySchema)
		if err != nil {
			return fmt.Errorf("encoding insert key for relation %d: %w", m.RelationID, err)
		}
		value, err := r.encodeTuple(rel, m.Tuple, rel.allColumnIdx, rel.rowSchema)
		if err != nil {
			return fmt.Errorf("encoding insert value for relation %d: %w", m.RelationID, err)
		}
		return r.handler.Insert(m.RelationID, key, value)

	case *pglogrepl.UpdateMessage:
		rel, err := r.relationFor(m.RelationID)
		if err != nil {
			return err
		}
		key, err := r.encodeTuple(rel, m.NewTuple, rel.keyColumnIdx, rel.keySchema)
		if err != nil {
			return fmt.Errorf("encoding update key for relation %d: %w", m.RelationID, err)
		}
		value, err := r.encodeTuple(rel, m.NewTuple, rel.allColumnIdx, rel.rowSchema)
		if err != nil {
			return fmt.Errorf("encoding update value for relation %d: %w", m.RelationID, err)
		}
		oldKey, err := r.encodeTuple(rel, m.OldTuple, rel.keyColumnIdx, rel.keySchema)
		if err != nil {
			return fmt.Errorf("encoding update old key for relation %d: %w", m.RelationID, err)
		}
		oldValue, err := r.encodeTuple(rel, m.OldTuple, rel.allColumnIdx, rel.rowSchema)
		if err != nil {
			return fmt.Errorf("encoding update old value for relation %d: %w", m.RelationID, err)
		}
		return r.handler.Update(m.RelationID, key, value, oldKey, oldValue)

	case *pglogrepl.DeleteMessage:
		rel, err := r.relationFor(m.RelationID)
		if err != nil {
			return err
		}
		key, err := r.encodeTuple(rel, m.OldTuple, rel.keyColumnIdx, rel.keySchema)
		if err != nil {
			return fmt.Errorf("encoding delete key for relation %d: %w", m.RelationID, err)
		}
		oldValue, err := r.encodeTuple(rel, m.OldTuple, rel.allColumnIdx, rel.rowSchema)
		if err != nil {
			return fmt.Errorf("encoding delete old value for relation %d: %w", m.RelationID, err)
		}
		return r.handler.Delete(m.RelationID, key, oldValue)

	default:
		return nil // Truncate, Type, Origin: no bridge-level effect
	}
}

func (r *Reader) relationFor(relID uint32) (*relation, error) {
	rel, ok := r.relations[relID]
	if !ok {
		return nil, fmt.Errorf("relation %d never announced", relID)
	}
	return rel, nil
}

func (r *Reader) handleRelation(m *pglogrepl.RelationMessage) error {
	namespace := r.namespace + "." + m.Namespace

	allColumnIdx := lo.Range(len(m.Columns))
	keyColumnIdx := lo.Filter(allColumnIdx, func(i int, _ int) bool {
		return m.Columns[i].Flags&1 != 0
	})

	rowSchemaJSON := buildSchemaJSON(namespace, m.RelationName, m.Columns, allColumnIdx)
	keySchemaJSON := buildSchemaJSON(namespace, m.RelationName+"_key", m.Columns, keyColumnIdx)

	rowSchema, err := goavro.Parse(rowSchemaJSON)
	if err != nil {
		return fmt.Errorf("parsing generated row schema for relation %d: %w", m.RelationID, err)
	}
	keySchema, err := goavro.Parse(keySchemaJSON)
	if err != nil {
		return fmt.Errorf("parsing generated key schema for relation %d: %w", m.RelationID, err)
	}

	r.relations[m.RelationID] = &relation{
		msg:          m,
		keySchema:    keySchema,
		rowSchema:    rowSchema,
		keyColumnIdx: keyColumnIdx,
		allColumnIdx: allColumnIdx,
	}

	r.handler.TableSchema(m.RelationID, []byte(keySchemaJSON), []byte(rowSchemaJSON))
	return nil
}

// encodeTuple serializes the selected columns of tuple into the reader's
// configured wire format. A nil tuple (no replica identity captured, or no
// old/new image for this message type) yields a nil buffer, preserving
// null-key/tombstone semantics through to the encoder.
func (r *Reader) encodeTuple(rel *relation, tuple *pglogrepl.TupleData, columns []int, schema goavro.Schema) ([]byte, error) {
	if tuple == nil || len(columns) == 0 {
		return nil, nil
	}

	values := make(map[string]any, len(columns))
	for _, idx := range columns {
		col := rel.msg.Columns[idx]
		data := tuple.Columns[idx]
		switch data.DataType {
		case 'n':
			values[col.Name] = nil
		case 'u':
			// unchanged TOAST column: omit, neither format requires it present
		default:
			values[col.Name] = string(data.Data)
		}
	}

	if r.format == FormatJSON {
		return json.Marshal(values)
	}
	return goavro.Marshal(schema, values)
}

// buildSchemaJSON derives an Avro record schema from a relation's column
// metadata, restricted to the given column indices. Column types map to a
// conservative set of Avro types; anything not explicitly recognized is
// carried as a nullable string, which keeps unusual PostgreSQL types
// representable without a full pg_type catalog lookup.
func buildSchemaJSON(namespace, name string, columns []*pglogrepl.RelationMessageColumn, indices []int) string {
	fields := make([]map[string]any, 0, len(indices))
	for _, idx := range indices {
		col := columns[idx]
		fields = append(fields, map[string]any{
			"name": col.Name,
			"type": []string{"null", avroTypeForOID(col.DataType)},
			"default": nil,
		})
	}
	doc := map[string]any{
		"type":      "record",
		"name":      avroSafeName(name),
		"namespace": namespace,
		"fields":    fields,
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

// avroTypeForOID maps common PostgreSQL type OIDs to Avro primitive type
// names. OIDs are from pg_type and kept as literals here rather than
// importing pgtype's OID table, since only a handful of scalar kinds need
// distinct Avro representations.
func avroTypeForOID(oid uint32) string {
	switch oid {
	case 16: // bool
		return "boolean"
	case 21, 23: // int2, int4
		return "int"
	case 20: // int8
		return "long"
	case 700: // float4
		return "float"
	case 701: // float8
		return "double"
	case 17: // bytea
		return "bytes"
	default:
		return "string"
	}
}

func avroSafeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, c := range name {
		if c == '.' || c == '-' || c == ' ' {
			out = append(out, '_')
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
