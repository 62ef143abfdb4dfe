// Package logger is the module's logging seam. Library packages stay
// silent; the CLI and batch processor report through a single swappable
// function so embedders can route output into their own logger.
package logger

// LogLevel represents log severity.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// LogFunc is a single logger function that handles all levels.
type LogFunc func(level LogLevel, msg string, keyvals ...interface{})

var logFunc LogFunc = func(level LogLevel, msg string, keyvals ...interface{}) {
}

// SetLogger sets the global logger function. Nil is ignored, keeping the
// current sink.
func SetLogger(f LogFunc) {
	if f != nil {
		logFunc = f
	}
}

// Debug logs a message at debug level.
func Debug(msg string, keyvals ...interface{}) {
	logFunc(DebugLevel, msg, keyvals...)
}

// Info logs a message at info level.
func Info(msg string, keyvals ...interface{}) {
	logFunc(InfoLevel, msg, keyvals...)
}

// Warn logs a message at warn level.
func Warn(msg string, keyvals ...interface{}) {
	logFunc(WarnLevel, msg, keyvals...)
}

// Error logs a message at error level.
func Error(msg string, keyvals ...interface{}) {
	logFunc(ErrorLevel, msg, keyvals...)
}
