package pkg

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Component identifies a subsystem for log filtering.
type Component string

// Router component identifiers.
const (
	ComponentDevice   Component = "device"
	ComponentRouter   Component = "router"
	ComponentDispatch Component = "dispatch"
	ComponentCDC      Component = "cdc"
	ComponentMSC      Component = "msc"
	ComponentHAL      Component = "hal"
	ComponentEndpoint Component = "endpoint"
	ComponentConfig   Component = "config"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

var (
	// DefaultLogger is the default logger used by the router.
	DefaultLogger *logrus.Logger

	// logMutex protects logger configuration.
	logMutex sync.RWMutex
)

func init() {
	DefaultLogger = NewLogger(os.Stderr)
	DefaultLogger.SetLevel(logrus.WarnLevel)
}

// SetLogLevel sets the minimum log level.
func SetLogLevel(level logrus.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger.SetLevel(level)
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() logrus.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return DefaultLogger.GetLevel()
}

// ParseLogLevel wraps logrus.ParseLevel for configuration strings.
func ParseLogLevel(s string) (logrus.Level, error) {
	return logrus.ParseLevel(s)
}

// SetLogger replaces the default logger.
func SetLogger(logger *logrus.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// SetLogFormat switches the default logger's formatter.
func SetLogFormat(format LogFormat) {
	logMutex.Lock()
	defer logMutex.Unlock()
	switch format {
	case LogFormatJSON:
		DefaultLogger.SetFormatter(&logrus.JSONFormatter{})
	default:
		DefaultLogger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
}

// SetLogOutput redirects the default logger.
func SetLogOutput(w io.Writer) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger.SetOutput(w)
}

// NewLogger creates a new text logger writing to w at the current level.
func NewLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return l
}

// NewJSONLogger creates a new JSON logger writing to w.
func NewJSONLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	return l
}

// entry builds a logrus entry from alternating key/value arguments.
// A trailing key without a value is recorded under "!BADKEY".
func entry(component Component, args []any) *logrus.Entry {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()

	fields := make(logrus.Fields, len(args)/2+1)
	fields["component"] = string(component)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			continue
		}
		fields[key] = args[i+1]
	}
	return logger.WithFields(fields)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	entry(component, args).Debug(msg)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	entry(component, args).Info(msg)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	entry(component, args).Warn(msg)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	entry(component, args).Error(msg)
}
