package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/bottledwater/bwkafka/internal/config"
	"github.com/bottledwater/bwkafka/internal/lifecycle"
	"github.com/bottledwater/bwkafka/internal/logging"
	"github.com/bottledwater/bwkafka/internal/version"
)

var (
	postgres       string
	slot           string
	broker         string
	schemaRegistry string
	outputFormat   string
	allowUnkeyed   bool
	topicPrefix    string
	onError        string
	skipSnapshot   bool
	statsAddr      string
	statsRuntime   bool
	kafkaConfig    cli.StringSlice
	topicConfig    cli.StringSlice
	configHelp     bool
	verbose        bool
)

func main() {
	app := &cli.App{
		Name:    version.BinName,
		Usage:   "PostgreSQL logical replication to Kafka bridge",
		Version: version.Version,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:        "postgres, d",
				Usage:       "PostgreSQL connection `URI`",
				Destination: &postgres,
			},
			cli.StringFlag{
				Name:        "slot, s",
				Value:       "bottledwater",
				Usage:       "replication slot `NAME`",
				Destination: &slot,
			},
			cli.StringFlag{
				Name:        "broker, b",
				Value:       "localhost:9092",
				Usage:       "Kafka broker `LIST`",
				Destination: &broker,
			},
			cli.StringFlag{
				Name:        "schema-registry, r",
				Value:       "http://localhost:8081",
				Usage:       "schema registry `URL`, Avro mode only",
				Destination: &schemaRegistry,
			},
			cli.StringFlag{
				Name:        "output-format, f",
				Value:       "avro",
				Usage:       "wire format: avro|json",
				Destination: &outputFormat,
			},
			cli.BoolFlag{
				Name:        "allow-unkeyed, u",
				Usage:       "permit tables without a primary key",
				Destination: &allowUnkeyed,
			},
			cli.StringFlag{
				Name:        "topic-prefix, p",
				Usage:       "prefix prepended to every topic name",
				Destination: &topicPrefix,
			},
			cli.StringFlag{
				Name:        "on-error, e",
				Value:       "exit",
				Usage:       "error policy: log|exit",
				Destination: &onError,
			},
			cli.BoolFlag{
				Name:        "skip-snapshot, x",
				Usage:       "skip the initial snapshot if the slot is new",
				Destination: &skipSnapshot,
			},
			cli.StringFlag{
				Name:        "stats-addr",
				Value:       ":9102",
				Usage:       "Prometheus /metrics listen `ADDR`, empty disables the server",
				Destination: &statsAddr,
			},
			cli.BoolTFlag{
				Name:        "stats-runtime-metrics",
				Usage:       "collect Go runtime metrics (GC, goroutines, memory) into the stats engine",
				Destination: &statsRuntime,
			},
			cli.StringSliceFlag{
				Name:  "kafka-config, C",
				Usage: "repeatable Kafka producer `PROP=VAL`",
				Value: &kafkaConfig,
			},
			cli.StringSliceFlag{
				Name:  "topic-config, T",
				Usage: "repeatable Kafka topic `PROP=VAL`",
				Value: &topicConfig,
			},
			cli.BoolFlag{
				Name:        "config-help",
				Usage:       "print the effective configuration and exit",
				Destination: &configHelp,
			},
			cli.BoolFlag{
				Name:        "verbose",
				Usage:       "enable verbose logging",
				Destination: &verbose,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Error())
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if err := logging.Configure("info", true, ""); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	logging.WithVerbose = verbose

	cfg := config.Defaults()
	cfg.Postgres = postgres
	cfg.Slot = slot
	cfg.Brokers = broker
	cfg.SchemaRegistry = schemaRegistry
	cfg.SchemaRegistrySet = c.IsSet("schema-registry")
	cfg.OutputFormat = outputFormat
	cfg.AllowUnkeyed = allowUnkeyed
	cfg.TopicPrefix = topicPrefix
	cfg.OnError = onError
	cfg.SkipSnapshot = skipSnapshot
	cfg.StatsAddr = statsAddr
	cfg.StatsRuntimeMetrics = statsRuntime

	for _, prop := range kafkaConfig {
		if err := cfg.KafkaProperties.Set(prop); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
	}
	for _, prop := range topicConfig {
		if err := cfg.TopicProperties.Set(prop); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	if configHelp {
		return cfg.DumpTOML(os.Stdout)
	}

	if err := lifecycle.Run(context.Background(), cfg); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	return nil
}
