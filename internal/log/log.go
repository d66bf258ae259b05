// Package log provides structured logging for forkpool.
// It writes leveled, categorized lines to a log file shared by the parent and
// every child it spawns, and is a no-op until Init is called.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/forkpool/internal/pubsub"
)

// Environment variables used to hand the log sink to child processes.
const (
	EnvLogFile  = "FORKPOOL_LOG_FILE"
	EnvLogLevel = "FORKPOOL_LOG_LEVEL"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string ("debug", "info", ...) into a Level.
// Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Category groups related log messages.
type Category string

const (
	CatProc   Category = "proc"   // Process spawning, signals, reaping
	CatShm    Category = "shm"    // Shared memory segments and slots
	CatWorker Category = "worker" // Worker lifecycle inside a child
	CatTask   Category = "task"   // Task execution
	CatPool   Category = "pool"   // Harvest loop
	CatConfig Category = "config" // Configuration loading/saving
	CatDB     Category = "db"     // Run history database
	CatCache  Category = "cache"  // Cache operations
	CatTrace  Category = "trace"  // Tracing setup
)

// Logger provides structured logging.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	writer   io.Writer
	enabled  bool
	minLevel Level
	pid      int
	broker   *pubsub.Broker[string] // Pub/sub for log events
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the global logger.
// Returns a cleanup function to close the log file.
func Init(path string) (func(), error) {
	var initErr error
	once.Do(func() {
		defaultLogger, initErr = newLogger(path)
	})
	if initErr != nil {
		return nil, initErr
	}
	// Check if logger was initialized (handles case where once.Do already ran)
	if defaultLogger == nil {
		return nil, fmt.Errorf("logger initialization failed or already attempted")
	}
	return func() {
		if defaultLogger != nil && defaultLogger.file != nil {
			_ = defaultLogger.file.Close()
		}
	}, nil
}

// InitFromEnv initializes the logger from the variables set by Environ.
// It is a no-op returning a nil-safe cleanup when no log file was handed down.
func InitFromEnv() (func(), error) {
	path := os.Getenv(EnvLogFile)
	if path == "" {
		return func() {}, nil
	}
	cleanup, err := Init(path)
	if err != nil {
		return nil, err
	}
	SetMinLevel(ParseLevel(os.Getenv(EnvLogLevel)))
	return cleanup, nil
}

// Environ returns the environment entries a child needs to log into the same
// file at the same level. Empty when logging is not initialized.
func Environ() []string {
	if defaultLogger == nil || defaultLogger.path == "" {
		return nil
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	return []string{
		EnvLogFile + "=" + defaultLogger.path,
		EnvLogLevel + "=" + strings.ToLower(defaultLogger.minLevel.String()),
	}
}

func newLogger(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec // G304: path is user-controlled log path
	if err != nil {
		return nil, err
	}

	return &Logger{
		file:     f,
		path:     path,
		writer:   f,
		enabled:  true,
		minLevel: LevelDebug,
		pid:      os.Getpid(),
		broker:   pubsub.NewBroker[string](),
	}, nil
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.enabled = enabled
		defaultLogger.mu.Unlock()
	}
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.minLevel = level
		defaultLogger.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	log(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	log(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	log(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	log(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	log(LevelError, cat, msg, fields...)
}

func log(level Level, cat Category, msg string, fields ...any) {
	if defaultLogger == nil || !defaultLogger.enabled {
		return
	}
	if level < defaultLogger.minLevel {
		return
	}

	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()

	// Format: 2025-12-06T10:45:00 [ERROR] [shm] pid=4242 message key=value key2=value2
	timestamp := time.Now().Format("2006-01-02T15:04:05.000")
	entry := fmt.Sprintf("%s [%s] [%s] pid=%d %s", timestamp, level, cat, defaultLogger.pid, msg)

	// Append fields (key=value pairs)
	for i := 0; i+1 < len(fields); i += 2 {
		entry += fmt.Sprintf(" %v=%v", fields[i], fields[i+1])
	}
	// Handle odd field count - append orphan key with no value
	if len(fields)%2 != 0 {
		entry += fmt.Sprintf(" %v=<missing>", fields[len(fields)-1])
	}
	entry += "\n"

	// One write per line keeps lines from parent and children intact under O_APPEND.
	if defaultLogger.writer != nil {
		_, _ = defaultLogger.writer.Write([]byte(entry))
	}

	if defaultLogger.broker != nil {
		defaultLogger.broker.Publish(pubsub.CreatedEvent, entry)
	}
}

// LogEvent is a pubsub event containing a log entry.
type LogEvent = pubsub.Event[string]

// Subscribe returns a channel receiving every log line written by this
// process. Returns nil when logging is not initialized.
func Subscribe(ctx context.Context) <-chan LogEvent {
	if defaultLogger == nil || defaultLogger.broker == nil {
		return nil
	}
	return defaultLogger.broker.Subscribe(ctx)
}
