// Package kafka implements the Kafka driver: an async
// producer wrapper around IBM/sarama, a topic handle type satisfying
// internal/mapper's TopicCreator, and the delivery-callback draining loop
// the backpressure loop invokes.
package kafka

import (
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-errors/errors"
	"github.com/google/uuid"

	"github.com/bottledwater/bwkafka/internal/logging"
	"github.com/bottledwater/bwkafka/internal/mapper"
)

// ErrQueueFull is returned by Produce when the driver's internal queue has
// no room; callers must run the backpressure loop and retry.
var ErrQueueFull = fmt.Errorf("kafka: producer queue full")

// Config mirrors the CLI's kafka-config property bag (-C flags).
type Config struct {
	Brokers       []string
	ClientID      string
	RequiredAcks  string // "none", "local", "all"
	Idempotent    bool
	MaxInFlight   int
	SASLEnabled   bool
	SASLUser      string
	SASLPassword  string
	SASLMechanism string
	TLSEnabled    bool
	TLSSkipVerify bool
}

func (c Config) requiredAcks() sarama.RequiredAcks {
	switch c.RequiredAcks {
	case "none":
		return sarama.NoResponse
	case "all":
		return sarama.WaitForAll
	default:
		return sarama.WaitForLocal
	}
}

// Topic is the TopicHandle the mapper stores; it carries only the name
// since sarama's AsyncProducer addresses topics by string.
type Topic struct {
	name string
}

func (t *Topic) Name() string { return t.name }

// DeliveryFunc is invoked exactly once per produced message, from Poll,
// with a non-nil err on driver-reported failure.
type DeliveryFunc func(err error)

// envelope is stashed in ProducerMessage.Metadata. token guards against a
// stale callback surfacing after Close/reopen: Poll ignores any envelope
// whose token does not match the driver's current generation.
type envelope struct {
	token    uuid.UUID
	onResult DeliveryFunc
}

// Driver wraps a sarama AsyncProducer. It is driven exclusively from the
// single event-loop goroutine; Produce and Poll must not be called
// concurrently from different goroutines.
type Driver struct {
	producer sarama.AsyncProducer
	client   sarama.Client
	logger   *logging.Logger

	generation atomic.Value // uuid.UUID, bumped on Close
}

func NewDriver(cfg Config) (*Driver, error) {
	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	} else {
		sc.ClientID = "bwkafka"
	}
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = cfg.requiredAcks()
	sc.Producer.Idempotent = cfg.Idempotent
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	if cfg.Idempotent {
		sc.Net.MaxOpenRequests = 1
		sc.Producer.Retry.Max = 10
	}
	if cfg.MaxInFlight > 0 {
		sc.Net.MaxOpenRequests = cfg.MaxInFlight
	}

	if cfg.SASLEnabled {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User = cfg.SASLUser
		sc.Net.SASL.Password = cfg.SASLPassword
		if cfg.SASLMechanism != "" {
			sc.Net.SASL.Mechanism = sarama.SASLMechanism(cfg.SASLMechanism)
		}
	}
	if cfg.TLSEnabled {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify}
	}

	brokers := cfg.Brokers
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	client, err := sarama.NewClient(brokers, sc)
	if err != nil {
		return nil, errors.Wrap(fmt.Errorf("connecting to brokers %v: %w", brokers, err), 0)
	}
	producer, err := sarama.NewAsyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(fmt.Errorf("creating producer: %w", err), 0)
	}

	d := &Driver{producer: producer, client: client, logger: logging.NewLogger("Kafka")}
	d.generation.Store(uuid.New())
	return d, nil
}

// newDriverWithProducer builds a Driver around an already-constructed
// sarama.AsyncProducer, bypassing broker dialing. Used by tests to drive
// the delivery-callback and generation-token logic against sarama/mocks.
func newDriverWithProducer(producer sarama.AsyncProducer) *Driver {
	d := &Driver{producer: producer, logger: logging.NewLogger("Kafka")}
	d.generation.Store(uuid.New())
	return d
}

// CreateTopic satisfies mapper.TopicCreator. Sarama's AsyncProducer has no
// explicit topic-creation call; topics are created on first produce (or
// pre-created by the broker's auto.create.topics.enable). topicConfig is
// accepted for interface compatibility and to document where a future
// admin-client based creation call would plug in.
func (d *Driver) CreateTopic(name string, _ map[string]string) (mapper.TopicHandle, error) {
	return &Topic{name: name}, nil
}

// Produce enqueues a message for async delivery. onDelivery is invoked from
// Poll once the broker acknowledges (or the driver reports failure).
// Produce copies nothing: value is owned by the driver until onDelivery
// runs, key is released by the caller immediately after this call returns.
func (d *Driver) Produce(topic mapper.TopicHandle, key, value []byte, onDelivery DeliveryFunc) error {
	msg := &sarama.ProducerMessage{
		Topic: topic.Name(),
		Value: byteEncoder(value),
	}
	if key != nil {
		msg.Key = byteEncoder(key)
	}
	msg.Metadata = &envelope{
		token:    d.generation.Load().(uuid.UUID),
		onResult: onDelivery,
	}

	select {
	case d.producer.Input() <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Poll drains delivery results for up to timeout, invoking each message's
// callback. It returns the number of results processed.
func (d *Driver) Poll(timeout time.Duration) int {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	count := 0
	for {
		select {
		case success, ok := <-d.producer.Successes():
			if !ok {
				return count
			}
			d.deliver(success.Metadata, nil)
			count++
		case fail, ok := <-d.producer.Errors():
			if !ok {
				return count
			}
			d.deliver(fail.Msg.Metadata, fail.Err)
			count++
		case <-deadline.C:
			return count
		}
	}
}

func (d *Driver) deliver(metadata any, deliveryErr error) {
	env, ok := metadata.(*envelope)
	if !ok || env == nil {
		return
	}
	if env.token != d.generation.Load().(uuid.UUID) {
		d.logger.Warnf("dropping stale delivery callback from a prior generation")
		return
	}
	env.onResult(deliveryErr)
}

// Close bumps the generation token, invalidating any callback still in
// flight, then closes the underlying producer and client.
func (d *Driver) Close() error {
	d.generation.Store(uuid.New())
	if err := d.producer.Close(); err != nil {
		return err
	}
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

func byteEncoder(b []byte) sarama.Encoder {
	if b == nil {
		return nil
	}
	return sarama.ByteEncoder(b)
}
