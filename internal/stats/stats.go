// Package stats wires the pipeline's counters and gauges - ring occupancy,
// received/dropped/pending events, checkpoint advancement, delivery and
// backpressure outcomes - to a segmentio/stats engine exposed over HTTP as
// Prometheus metrics, the same engine/handler pairing the donor's own
// internal/stats uses for its pipeline.
package stats

import (
	"context"
	"net/http"

	"github.com/go-errors/errors"
	"github.com/segmentio/stats"
	"github.com/segmentio/stats/procstats"
	"github.com/segmentio/stats/prometheus"

	"github.com/bottledwater/bwkafka/internal/logging"
	"github.com/bottledwater/bwkafka/internal/version"
)

// Service owns the process-wide stats engine and the HTTP server exposing
// it to Prometheus. An empty addr disables the server; the engine and the
// Reporters it mints still work, they just have nowhere being scraped.
type Service struct {
	enabled bool
	handler *prometheus.Handler
	engine  *stats.Engine
	server  *http.Server
	logger  *logging.Logger
}

func NewService(addr string, runtimeMetrics bool) *Service {
	handler := &prometheus.Handler{TrimPrefix: version.BinName}
	engine := stats.NewEngine(version.BinName, handler)
	if runtimeMetrics {
		procstats.StartCollector(procstats.NewGoMetricsWith(engine))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", handler.ServeHTTP)

	return &Service{
		enabled: addr != "",
		handler: handler,
		engine:  engine,
		server:  &http.Server{Addr: addr, Handler: mux},
		logger:  logging.NewLogger("Stats"),
	}
}

func (s *Service) Start() error {
	if !s.enabled {
		return nil
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("stats server stopped: %v", err)
		}
	}()
	return nil
}

func (s *Service) Stop() error {
	if !s.enabled {
		return nil
	}
	return s.server.Shutdown(context.Background())
}

// NewReporter mints a Reporter scoped under prefix. Safe to call even when
// the server is disabled - metrics are still recorded into the engine,
// they're just unscraped.
func (s *Service) NewReporter(prefix string) *Reporter {
	return &Reporter{engine: s.engine.WithPrefix(prefix)}
}
