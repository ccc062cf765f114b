// Package mapper implements the table-to-topic/schema mapper:
// given a relation id and the schemas the frame reader observed for it, it
// derives a topic name, lazily creates the Kafka topic, and - in Avro mode -
// registers the key/row schemas with the schema registry, caching the
// result for the lifetime of the process.
package mapper

import (
	"fmt"
	"strings"

	"github.com/go-errors/errors"
	avroschema "github.com/hamba/avro/v2"

	"github.com/bottledwater/bwkafka/internal/logging"
)

// topicNameMaxBytes mirrors the original bottledwater extension's
// TOPIC_NAME_LENGTH buffer, which includes the NUL terminator.
const topicNameMaxBytes = 128

// Format selects which wire encoder a table's messages are produced with.
type Format int

const (
	FormatAvro Format = iota
	FormatJSON
)

// TopicHandle is the opaque handle the Kafka driver returns for a topic.
type TopicHandle interface {
	Name() string
}

// TopicCreator is the subset of the Kafka driver the mapper depends on.
type TopicCreator interface {
	CreateTopic(name string, topicConfig map[string]string) (TopicHandle, error)
}

// SchemaRegistrar is the capability the mapper depends on to assign schema
// ids. JSON mode is served by a no-op implementation.
type SchemaRegistrar interface {
	Register(subject string, schemaJSON []byte) (int32, error)
}

// TableMetadata is the per-relation state the mapper owns exclusively.
type TableMetadata struct {
	RelID       uint32
	TopicName   string
	Topic       TopicHandle
	KeySchemaID int32 // -1 outside Avro mode
	RowSchemaID int32 // -1 outside Avro mode
}

// Config controls topic-name derivation and wire format selection.
type Config struct {
	// Prefix is prepended to every derived topic name, separated by '.'.
	Prefix string
	// GeneratedNamespace is the base Avro namespace this bridge's own schema
	// generation emits, to which the PostgreSQL schema name is appended;
	// only schemas whose namespace is "<GeneratedNamespace>.<schema>" get the
	// "<schema>.<table>" topic form.
	GeneratedNamespace string
	Format             Format
}

// Mapper owns table metadata and topic handles for the lifetime of the
// process.
type Mapper struct {
	cfg         Config
	topics      TopicCreator
	registrar   SchemaRegistrar
	topicConfig map[string]string
	tables      map[uint32]*TableMetadata
	logger      *logging.Logger
}

func New(cfg Config, topics TopicCreator, registrar SchemaRegistrar, topicConfig map[string]string) *Mapper {
	return &Mapper{
		cfg:         cfg,
		topics:      topics,
		registrar:   registrar,
		topicConfig: topicConfig,
		tables:      make(map[uint32]*TableMetadata),
		logger:      logging.NewLogger("Mapper"),
	}
}

// Lookup returns the cached metadata for relID, if any.
func (m *Mapper) Lookup(relID uint32) (*TableMetadata, bool) {
	meta, ok := m.tables[relID]
	return meta, ok
}

// Update creates or refreshes the metadata for relID. On first sight of a
// relation it creates the topic and (Avro mode) registers both schemas; on
// later calls - schemas may evolve across a table's lifetime - it only
// re-registers the schemas and refreshes their ids, keeping the topic and
// handle stable.
func (m *Mapper) Update(relID uint32, rowSchemaJSON, keySchemaJSON []byte) (*TableMetadata, error) {
	topicName, tableName, err := m.deriveTopicName(rowSchemaJSON)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}

	existing, known := m.tables[relID]

	keyID, rowID := int32(-1), int32(-1)
	if m.cfg.Format == FormatAvro {
		subject := topicName
		if rowID, err = m.registrar.Register(subject+"-value", rowSchemaJSON); err != nil {
			return nil, errors.Wrap(fmt.Errorf("registering row schema for %s: %w", tableName, err), 0)
		}
		if keyID, err = m.registrar.Register(subject+"-key", keySchemaJSON); err != nil {
			return nil, errors.Wrap(fmt.Errorf("registering key schema for %s: %w", tableName, err), 0)
		}
	}

	if known {
		existing.KeySchemaID = keyID
		existing.RowSchemaID = rowID
		return existing, nil
	}

	topic, err := m.topics.CreateTopic(topicName, m.topicConfig)
	if err != nil {
		return nil, errors.Wrap(fmt.Errorf("creating topic %s: %w", topicName, err), 0)
	}

	meta := &TableMetadata{
		RelID:       relID,
		TopicName:   topicName,
		Topic:       topic,
		KeySchemaID: keyID,
		RowSchemaID: rowID,
	}
	m.tables[relID] = meta
	m.logger.Infof("mapped relation %d to topic %q", relID, topicName)
	return meta, nil
}

// deriveTopicName derives a topic name as a pure
// function of the row Avro schema (name + namespace) and the configured
// prefix. The frame reader supplies the generated Avro row schema in both
// wire formats, so JSON mode derives topic names the same way as Avro mode.
func (m *Mapper) deriveTopicName(rowSchemaJSON []byte) (topicName, tableName string, err error) {
	schema, err := avroschema.Parse(string(rowSchemaJSON))
	if err != nil {
		return "", "", fmt.Errorf("parsing row schema: %w", err)
	}
	named, ok := schema.(avroschema.NamedSchema)
	if !ok {
		return "", "", fmt.Errorf("row schema has no name/namespace")
	}
	tableName = named.Name()
	return DeriveTopicName(named.Namespace(), tableName, m.cfg.Prefix, m.cfg.GeneratedNamespace), tableName, nil
}

// DeriveTopicName is the pure function backing the topic name rule,
// exposed standalone so round-trip/idempotence tests don't need a Mapper.
func DeriveTopicName(namespace, tableName, prefix, generatedNamespace string) string {
	var name string
	if strings.HasPrefix(namespace, generatedNamespace+".") && trailingSegment(namespace) != "public" {
		name = trailingSegment(namespace) + "." + tableName
	} else {
		name = tableName
	}
	if prefix != "" {
		name = prefix + "." + name
	}
	return truncateTopicName(name)
}

func trailingSegment(namespace string) string {
	idx := strings.LastIndexByte(namespace, '.')
	if idx < 0 {
		return namespace
	}
	return namespace[idx+1:]
}

// truncateTopicName enforces the 128-byte-including-terminator buffer bound
// inherited from the original bottledwater extension.
func truncateTopicName(name string) string {
	const maxContentBytes = topicNameMaxBytes - 1
	if len(name) <= maxContentBytes {
		return name
	}
	return name[:maxContentBytes]
}
