package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/samber/do"

	"github.com/bottledwater/bwkafka/internal/backpressure"
	"github.com/bottledwater/bwkafka/internal/checkpoint"
	"github.com/bottledwater/bwkafka/internal/config"
	"github.com/bottledwater/bwkafka/internal/dispatcher"
	"github.com/bottledwater/bwkafka/internal/encoding"
	avroenc "github.com/bottledwater/bwkafka/internal/encoding/avro"
	jsonenc "github.com/bottledwater/bwkafka/internal/encoding/json"
	"github.com/bottledwater/bwkafka/internal/errpolicy"
	"github.com/bottledwater/bwkafka/internal/kafka"
	"github.com/bottledwater/bwkafka/internal/logging"
	"github.com/bottledwater/bwkafka/internal/mapper"
	"github.com/bottledwater/bwkafka/internal/replication/conn"
	"github.com/bottledwater/bwkafka/internal/replication/frame"
	"github.com/bottledwater/bwkafka/internal/ring"
	"github.com/bottledwater/bwkafka/internal/schemaregistry"
	"github.com/bottledwater/bwkafka/internal/stats"
)

// generatedNamespace is the base Avro namespace this bridge's own schema
// generation emits; the frame reader appends the PostgreSQL schema name.
const generatedNamespace = "io.bwkafka.generated"

// ringCapacity bounds the number of concurrently in-flight transactions.
const ringCapacity = 1000

// drainTimeout bounds how long producer shutdown waits for in-flight
// deliveries.
const drainTimeout = 2 * time.Second

// Run executes the full startup → main loop → shutdown sequence,
// wiring every component through a samber/do injector.
func Run(ctx context.Context, cfg config.Config) error {
	logger := logging.NewLogger("Lifecycle")
	injector := do.New()
	defer injector.Shutdown()

	pidfile, err := Acquire(cfg.Slot)
	if err != nil {
		return errpolicy.NewFatal(errpolicy.InvalidConfig, err)
	}
	defer pidfile.Release()

	signals := NewSignals()
	signals.Watch()
	do.ProvideValue(injector, signals)

	statsService := stats.NewService(cfg.StatsAddr, cfg.StatsRuntimeMetrics)
	if err := statsService.Start(); err != nil {
		return fmt.Errorf("starting stats server: %w", err)
	}
	defer statsService.Stop()
	reporter := statsService.NewReporter("pipeline")
	do.ProvideValue(injector, statsService)

	kafkaDriver, err := kafka.NewDriver(kafka.Config{
		Brokers:       cfg.BrokerList(),
		RequiredAcks:  cfg.KafkaProperties.GetOr("acks", ""),
		Idempotent:    cfg.KafkaProperties.BoolOr("enable.idempotence", false),
		SASLEnabled:   cfg.KafkaProperties.BoolOr("sasl.enabled", false),
		SASLUser:      cfg.KafkaProperties.GetOr("sasl.username", ""),
		SASLPassword:  cfg.KafkaProperties.GetOr("sasl.password", ""),
		SASLMechanism: cfg.KafkaProperties.GetOr("sasl.mechanism", ""),
		TLSEnabled:    cfg.KafkaProperties.BoolOr("security.protocol.tls", false),
	})
	if err != nil {
		return fmt.Errorf("creating kafka producer: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		closed := make(chan struct{})
		go func() { kafkaDriver.Close(); close(closed) }()
		select {
		case <-closed:
		case <-closeCtx.Done():
			logger.Warnf("kafka producer drain exceeded %s, closing anyway", drainTimeout)
		}
	}()
	do.ProvideValue(injector, kafkaDriver)

	var registrar mapper.SchemaRegistrar
	var enc encoding.Encoder
	format := mapper.FormatAvro
	frameFormat := frame.FormatAvro
	if cfg.OutputFormat == "json" {
		format = mapper.FormatJSON
		frameFormat = frame.FormatJSON
		registrar = schemaregistry.NoOp{}
		enc = jsonenc.New()
	} else {
		registrar = schemaregistry.New(cfg.SchemaRegistry, 10*time.Second)
		enc = avroenc.New()
	}

	tableMapper := mapper.New(mapper.Config{
		Prefix:             cfg.TopicPrefix,
		GeneratedNamespace: generatedNamespace,
		Format:             format,
	}, kafkaDriver, registrar, cfg.TopicProperties.AsMap())
	do.ProvideValue(injector, tableMapper)

	replConn, err := conn.New(ctx, cfg.Postgres, cfg.Slot, true, true)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer replConn.Close()
	do.ProvideValue(injector, replConn)

	_, _, created, err := replConn.CreateReplicationSlot(ctx)
	if err != nil {
		return errpolicy.NewFatal(errpolicy.InvalidConfig, err)
	}
	if created && cfg.SkipSnapshot {
		replConn.ClearTakingSnapshot()
	}

	if err := replConn.StartReplication(ctx, pglogrepl.LSN(replConn.FsyncLSN()), []string{
		"proto_version '1'",
		fmt.Sprintf("publication_names '%s'", "bwkafka_" + cfg.Slot),
	}); err != nil {
		return fmt.Errorf("starting replication: %w", err)
	}

	txRing := ring.New(ringCapacity)
	ckptEngine := checkpoint.New(txRing, replConn, reporter)

	policy, err := errpolicy.Parse(cfg.OnError)
	if err != nil {
		return errpolicy.NewFatal(errpolicy.InvalidConfig, err)
	}
	errHandler := errpolicy.New(policy)

	bpLoop := backpressure.New(kafkaDriver, replConn, signals, reporter)

	disp := dispatcher.New(txRing, tableMapper, enc, kafkaDriver, bpLoop, ckptEngine, errHandler, cfg.AllowUnkeyed, reporter)

	reader := frame.New(replConn, disp, frameFormat, generatedNamespace, kafkaDriver, signals)

	runErr := reader.Run(ctx)

	if created && replConn.TakingSnapshot() && runErr != nil {
		if dropErr := replConn.DropReplicationSlot(); dropErr != nil {
			logger.Errorf("failed to drop replication slot after failed snapshot: %v", dropErr)
		}
	}

	return runErr
}
