// Package logging wires the process-wide leveled logger used by every
// component of the bridge. It follows the donor project's console/file
// handler split, trimmed to what this bridge needs: a console handler
// always on, and an optional plain file handler for the operator-enabled
// debug trace (out of scope for its content, in scope for its plumbing).
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gookit/slog"
	"github.com/gookit/slog/handler"
)

// VerboseLevel sits between Info and Debug, matching the donor's habit of
// giving operators a "chatty but not noisy" tier.
const VerboseLevel slog.Level = 650

var (
	WithVerbose = false
	WithCaller  = false

	mutex              sync.Mutex
	defaultConsole     slog.Handler
	defaultFile        slog.Handler
	defaultLevel       = slog.InfoLevel
	consoleInitialized bool
)

func init() {
	slog.LevelNames[VerboseLevel] = "VERBOSE"
}

// Configure must be called once at startup before any Logger is constructed.
func Configure(level string, logToStderr bool, traceFilePath string) error {
	mutex.Lock()
	defer mutex.Unlock()

	defaultLevel = nameToLevel(level)

	ch := handler.NewConsoleHandler(slog.AllLevels)
	if WithCaller {
		ch.TextFormatter().SetTemplate("[{{datetime}}] [{{level}}] [{{caller}}] {{message}} {{data}}\n")
	} else {
		ch.TextFormatter().SetTemplate("[{{datetime}}] [{{level}}] {{message}} {{data}}\n")
	}
	if logToStderr {
		ch.Output = os.Stderr
	}
	defaultConsole = ch
	consoleInitialized = true

	if traceFilePath != "" {
		fh, err := handler.NewBuffFileHandler(traceFilePath, 1024, func(c *handler.Config) {
			c.Levels = slog.AllLevels
		})
		if err != nil {
			return fmt.Errorf("failed to open trace file %q: %w", traceFilePath, err)
		}
		defaultFile = fh
	}
	return nil
}

// Logger is a named handle into the shared slog instance; every component
// constructs its own so log lines carry a stable `[name]` prefix.
type Logger struct {
	slogger *slog.Logger
	level   slog.Level
	name    string
}

func NewLogger(name string) *Logger {
	mutex.Lock()
	if !consoleInitialized {
		defaultConsole = handler.NewConsoleHandler(slog.AllLevels)
		consoleInitialized = true
	}
	console, file, level := defaultConsole, defaultFile, defaultLevel
	mutex.Unlock()

	slogger := slog.NewWithName(name, func(l *slog.Logger) {
		l.ReportCaller = WithCaller
		l.CallerSkip += 2
		l.AddHandler(console)
		if file != nil {
			l.AddHandler(file)
		}
	})

	return &Logger{slogger: slogger, level: level, name: name}
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(slog.DebugLevel, format, args) }
func (l *Logger) Debugln(args ...any)                { l.log(slog.DebugLevel, args) }

func (l *Logger) Verbosef(format string, args ...any) { l.logf(VerboseLevel, format, args) }
func (l *Logger) Verboseln(args ...any)                { l.log(VerboseLevel, args) }

func (l *Logger) Infof(format string, args ...any) { l.logf(slog.InfoLevel, format, args) }
func (l *Logger) Infoln(args ...any)                { l.log(slog.InfoLevel, args) }

func (l *Logger) Warnf(format string, args ...any) { l.logf(slog.WarnLevel, format, args) }
func (l *Logger) Warnln(args ...any)                { l.log(slog.WarnLevel, args) }

func (l *Logger) Errorf(format string, args ...any) { l.logf(slog.ErrorLevel, format, args) }
func (l *Logger) Errorln(args ...any)                { l.log(slog.ErrorLevel, args) }

// Fatalf logs at fatal level. It does not exit the process - callers route
// through the lifecycle shutdown controller so cleanup still runs.
func (l *Logger) Fatalf(format string, args ...any) { l.logf(slog.FatalLevel, format, args) }
func (l *Logger) Fatalln(args ...any)                { l.log(slog.FatalLevel, args) }

func (l *Logger) logf(level slog.Level, format string, args []any) {
	if l.enabled(level) {
		l.slogger.Logf(level, fmt.Sprintf("[%s] %s", l.name, format), args...)
	}
}

func (l *Logger) log(level slog.Level, args []any) {
	if l.enabled(level) {
		args = append([]any{fmt.Sprintf("[%s]", l.name)}, args...)
		l.slogger.Log(level, args...)
	}
}

func (l *Logger) enabled(level slog.Level) bool {
	if level == VerboseLevel {
		return WithVerbose || l.level >= VerboseLevel
	}
	return l.level >= level
}

func nameToLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "fatal":
		return slog.FatalLevel
	case "error", "err":
		return slog.ErrorLevel
	case "warn", "warning":
		return slog.WarnLevel
	case "verbose":
		return VerboseLevel
	case "debug":
		return slog.DebugLevel
	case "trace":
		return slog.TraceLevel
	default:
		return slog.InfoLevel
	}
}
