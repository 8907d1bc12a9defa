package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"stackshield-go/services/config"
)

type Log struct {
	*logrus.Entry
}

// Fields are a representation of formatted log fields.
type Fields map[string]interface{}

// NewLogger builds a text logger on stderr at cfg.Level.
func NewLogger(cfg config.LogConf) (*Log, error) {
	return NewLoggerTo(os.Stderr, cfg)
}

// NewLoggerTo is NewLogger with an explicit writer.
func NewLoggerTo(w io.Writer, cfg config.LogConf) (*Log, error) {
	log := logrus.New()
	log.SetOutput(w)
	log.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logger. Error in settings (level: %s): %w", cfg.Level, err)
	}
	log.SetLevel(level)
	log.Debug("set level: ", level)

	return &Log{Entry: log.WithFields(nil)}, nil
}

// Discard returns a logger that writes nothing.
func Discard() *Log {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return &Log{Entry: log.WithFields(nil)}
}

// OrDiscard returns l, or a discard logger when l is nil.
func OrDiscard(l *Log) *Log {
	if l == nil {
		return Discard()
	}
	return l
}

// With will add the fields to the formatted log entry.
func (l *Log) With(fields Fields) *Log {
	return &Log{Entry: l.WithFields(logrus.Fields(fields))}
}

func (l *Log) GetLevel() string {
	return l.Logger.Level.String()
}

// SetLevel changes the level of the underlying logger for every derived Log.
func (l *Log) SetLevel(level string) error {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	l.Logger.SetLevel(lv)
	return nil
}

// Verbosity maps -v counts to levels: 0 warn, 1 info, 2 debug, 3+ trace.
// quiet wins and selects error.
func Verbosity(count int, quiet bool) string {
	switch {
	case quiet:
		return "error"
	case count <= 0:
		return "warning"
	case count == 1:
		return "info"
	case count == 2:
		return "debug"
	default:
		return "trace"
	}
}
