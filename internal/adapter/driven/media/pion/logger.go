package pion

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// LoggerFactory routes pion's internal logs into zerolog. pion is chatty, so
// its debug and trace output is demoted one level.
type LoggerFactory struct {
	logger zerolog.Logger
}

func NewLoggerFactory(logger zerolog.Logger) *LoggerFactory {
	return &LoggerFactory{logger: logger}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{l: f.logger.With().Str("pion", scope).Logger()}
}

type leveledLogger struct {
	l zerolog.Logger
}

func (l *leveledLogger) Trace(msg string) { l.l.Trace().Msg(msg) }
func (l *leveledLogger) Tracef(format string, args ...interface{}) {
	l.l.Trace().Msg(fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Debug(msg string) { l.l.Trace().Msg(msg) }
func (l *leveledLogger) Debugf(format string, args ...interface{}) {
	l.l.Trace().Msg(fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Info(msg string) { l.l.Debug().Msg(msg) }
func (l *leveledLogger) Infof(format string, args ...interface{}) {
	l.l.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Warn(msg string) { l.l.Warn().Msg(msg) }
func (l *leveledLogger) Warnf(format string, args ...interface{}) {
	l.l.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Error(msg string) { l.l.Error().Msg(msg) }
func (l *leveledLogger) Errorf(format string, args ...interface{}) {
	l.l.Error().Msg(fmt.Sprintf(format, args...))
}
