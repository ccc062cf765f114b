// Package config parses the CLI surface into a validated Config,
// including the repeatable PROP=VAL property bags used for -C/--kafka-config
// and -T/--topic-config.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
)

// Config is the fully parsed, validated set of options the lifecycle
// wiring consumes to build every other component.
type Config struct {
	Postgres       string
	Slot           string
	Brokers        string
	SchemaRegistry string
	// SchemaRegistrySet records whether --schema-registry was explicitly
	// passed, since its default value alone must not trip the
	// avro/json mutual-exclusion check.
	SchemaRegistrySet bool
	OutputFormat      string // "avro" | "json"
	AllowUnkeyed    bool
	TopicPrefix     string
	OnError         string // "log" | "exit"
	SkipSnapshot    bool
	// StatsAddr is the listen address for the Prometheus /metrics endpoint.
	// Empty disables the HTTP server; pipeline counters are still recorded
	// into the stats engine either way.
	StatsAddr           string
	StatsRuntimeMetrics bool
	KafkaProperties     PropertyBag
	TopicProperties     PropertyBag
}

// PropertyBag is a repeatable PROP=VAL flag collected into an ordered map.
// Later values for the same key win, matching how most Kafka client
// libraries treat repeated config entries.
type PropertyBag struct {
	keys   []string
	values map[string]string
}

func (b *PropertyBag) Set(propEqualsVal string) error {
	idx := strings.IndexByte(propEqualsVal, '=')
	if idx <= 0 {
		return fmt.Errorf("config: malformed property %q, want PROP=VAL", propEqualsVal)
	}
	key, val := propEqualsVal[:idx], propEqualsVal[idx+1:]
	if b.values == nil {
		b.values = make(map[string]string)
	}
	if _, exists := b.values[key]; !exists {
		b.keys = append(b.keys, key)
	}
	b.values[key] = val
	return nil
}

// AsMap returns the collected properties as a plain map.
func (b PropertyBag) AsMap() map[string]string {
	out := make(map[string]string, len(b.keys))
	for _, k := range b.keys {
		out[k] = b.values[k]
	}
	return out
}

func (b PropertyBag) Get(key string) (string, bool) {
	v, ok := b.values[key]
	return v, ok
}

// GetOr returns the property's value, or fallback if it was never set.
func (b PropertyBag) GetOr(key, fallback string) string {
	if v, ok := b.values[key]; ok {
		return v
	}
	return fallback
}

// BoolOr returns the property parsed as a bool ("true"/"1" are true), or
// fallback if it was never set or does not parse.
func (b PropertyBag) BoolOr(key string, fallback bool) bool {
	v, ok := b.values[key]
	if !ok {
		return fallback
	}
	switch v {
	case "true", "1":
		return true
	case "false", "0":
		return false
	default:
		return fallback
	}
}

// Defaults returns a Config pre-populated with the CLI's documented
// defaults, before flag values are applied on top.
func Defaults() Config {
	return Config{
		Slot:           "bottledwater",
		Brokers:        "localhost:9092",
		SchemaRegistry:      "http://localhost:8081",
		OutputFormat:        "avro",
		OnError:             "exit",
		StatsAddr:           ":9102",
		StatsRuntimeMetrics: true,
	}
}

// Validate enforces the configuration-error rules:
// missing conninfo and mutually exclusive options are always fatal at
// startup.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Postgres) == "" {
		return fmt.Errorf("config: --postgres is required")
	}
	switch c.OutputFormat {
	case "avro", "json":
	default:
		return fmt.Errorf("config: --output-format must be \"avro\" or \"json\", got %q", c.OutputFormat)
	}
	if c.OutputFormat == "json" && c.SchemaRegistrySet {
		return fmt.Errorf("config: --schema-registry cannot be combined with --output-format=json")
	}
	switch c.OnError {
	case "log", "exit":
	default:
		return fmt.Errorf("config: --on-error must be \"log\" or \"exit\", got %q", c.OnError)
	}
	return nil
}

// DumpTOML writes the effective configuration as TOML, for the
// --config-help diagnostic path.
func (c Config) DumpTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(struct {
		Postgres       string
		Slot           string
		Brokers        string
		SchemaRegistry string
		OutputFormat        string
		AllowUnkeyed        bool
		TopicPrefix         string
		OnError             string
		SkipSnapshot        bool
		StatsAddr           string
		StatsRuntimeMetrics bool
		KafkaConfig         map[string]string
		TopicConfig         map[string]string
	}{
		Postgres:            c.Postgres,
		Slot:                c.Slot,
		Brokers:             c.Brokers,
		SchemaRegistry:      c.SchemaRegistry,
		OutputFormat:        c.OutputFormat,
		AllowUnkeyed:        c.AllowUnkeyed,
		TopicPrefix:         c.TopicPrefix,
		OnError:             c.OnError,
		SkipSnapshot:        c.SkipSnapshot,
		StatsAddr:           c.StatsAddr,
		StatsRuntimeMetrics: c.StatsRuntimeMetrics,
		KafkaConfig:         c.KafkaProperties.AsMap(),
		TopicConfig:         c.TopicProperties.AsMap(),
	})
}

// BrokerList splits the comma-separated broker flag into individual
// host:port entries.
func (c Config) BrokerList() []string {
	trimmed := lo.Map(strings.Split(c.Brokers, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	})
	return lo.Filter(trimmed, func(p string, _ int) bool {
		return p != ""
	})
}
