package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

/*
Process-wide logger.

Every component logs through here instead of printing directly, tagging its
lines with a "component" field, e.g.

	logger.Component("bufferpool").Debugf("HIT pageID=%d", id)

The package is usable before Init is called: it starts at info level on stdout.
*/

var Logger = newLogger()

// LogConfig selects level and destination.
type LogConfig struct {
	LogPath  string
	LogLevel string
}

// CustomFormatter renders one entry per line:
//
//	[15:04:05 UTC 2006/01/02] [INFO] (file.go:pkg.func:42) component=wal message
type CustomFormatter struct {
	TimestampFormat string
}

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)

	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	var fields strings.Builder
	for k, v := range entry.Data {
		fmt.Fprintf(&fields, "%s=%v ", k, v)
	}

	return []byte(fmt.Sprintf("[%s] [%s] (%s) %s%s\n",
		timestamp, level, getCaller(), fields.String(), entry.Message)), nil
}

// getCaller walks past logrus frames and this package to the real caller.
func getCaller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "sirupsen/logrus") ||
			strings.Contains(file, "/logger/logger.go") {
			continue
		}
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), runtime.FuncForPC(pc).Name(), line)
	}
	return "unknown:unknown:0"
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&CustomFormatter{TimestampFormat: "15:04:05 MST 2006/01/02"})
	l.SetLevel(logrus.InfoLevel)
	l.SetOutput(os.Stdout)
	return l
}

// ParseLevel maps a config string to a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

// Init reconfigures the process logger. A log file that cannot be opened
// falls back to stdout only.
func Init(config LogConfig) error {
	Logger.SetLevel(ParseLevel(config.LogLevel))

	if config.LogPath == "" {
		Logger.SetOutput(os.Stdout)
		return nil
	}

	logFile, err := openLogFile(config.LogPath)
	if err != nil {
		Logger.SetOutput(os.Stdout)
		Logger.Warnf("failed to open log file %s, fallback to stdout: %v", config.LogPath, err)
		return nil
	}
	Logger.SetOutput(io.MultiWriter(os.Stdout, logFile))
	return nil
}

// SetOutput redirects the logger, mostly for tests and tools.
func SetOutput(w io.Writer) {
	Logger.SetOutput(w)
}

func openLogFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return Logger.WithField("component", name)
}

func Debugf(format string, args ...interface{}) {
	Logger.Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	Logger.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	Logger.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	Logger.Errorf(format, args...)
}
