package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// PlainFormatter writes "2025-05-30 12:21:53,426 - INFO - message key=value"
type PlainFormatter struct{}

// Format renders a logrus entry as one plain text line
func (f *PlainFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("2006-01-02 15:04:05,000")

	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s - %s", timestamp, levelName(entry.Level), entry.Message)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')

	return []byte(b.String()), nil
}

func levelName(level logrus.Level) string {
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		return "DEBUG"
	case logrus.InfoLevel:
		return "INFO"
	case logrus.WarnLevel:
		return "WARNING"
	case logrus.ErrorLevel:
		return "ERROR"
	default:
		return "CRITICAL"
	}
}

// Setup creates the process logger. format is "text" or "json"; anything
// else falls back to text.
func Setup(logLevel, format string) *logrus.Logger {
	return New(os.Stdout, logLevel, format)
}

// New is Setup with an explicit output
func New(out io.Writer, logLevel, format string) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		logger.SetFormatter(&PlainFormatter{})
	}

	logger.SetOutput(out)
	return logger
}

// LogModels logs which models a run covers
func LogModels(logger logrus.FieldLogger, models []string, logLevel string) {
	if len(models) == 1 {
		logger.Infof("Configured to sync the following model: %s", models[0])
	} else {
		logger.Infof("Configured to sync the following models: %s", strings.Join(models, ", "))
	}

	logger.Infof("Logging enabled at %s level", logLevel)
}
