// Package lifecycle wires every component into the startup/shutdown
// sequence, and owns process-signal handling: SIGINT/SIGTERM latch a
// shutdown flag, SIGUSR2 latches a reload flag.
package lifecycle

import (
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/bottledwater/bwkafka/internal/logging"
	"github.com/bottledwater/bwkafka/internal/waiting"
)

// Signals owns the latched shutdown/reload flags the main loop and the
// backpressure loop poll. It implements backpressure.ShutdownSignal.
type Signals struct {
	shuttingDown atomic.Bool
	reload       atomic.Bool
	awaiter      *waiting.ShutdownAwaiter
	logger       *logging.Logger
}

func NewSignals() *Signals {
	return &Signals{
		awaiter: waiting.NewShutdownAwaiter(),
		logger:  logging.NewLogger("Lifecycle"),
	}
}

// Watch installs OS signal handlers and returns immediately; signals
// latch flags polled by ShuttingDown/ReloadRequested rather than acting
// directly, so the main loop controls exactly when shutdown begins.
func (s *Signals) Watch() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR2)
	go func() {
		for sig := range ch {
			switch sig {
			case syscall.SIGUSR2:
				s.logger.Infoln("received SIGUSR2, latching reload flag")
				s.reload.Store(true)
			default:
				s.logger.Infof("received %s, latching shutdown flag", sig)
				s.shuttingDown.Store(true)
				s.awaiter.SignalShutdown()
			}
		}
	}()
}

// ShuttingDown implements backpressure.ShutdownSignal.
func (s *Signals) ShuttingDown() bool { return s.shuttingDown.Load() }

// ReloadRequested reports and clears the SIGUSR2 reload flag.
func (s *Signals) ReloadRequested() bool { return s.reload.Swap(false) }

// TriggerShutdown latches the shutdown flag programmatically, for fatal
// errors encountered outside of a signal handler.
func (s *Signals) TriggerShutdown() { s.shuttingDown.Store(true) }
