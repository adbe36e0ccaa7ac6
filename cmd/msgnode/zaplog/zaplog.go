// Package zaplog adapts a zap logger to the pion logging interfaces the
// library packages accept.
package zaplog

import (
	"github.com/pion/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Factory hands out named children of one zap logger.
type Factory struct {
	base *zap.Logger
}

var _ logging.LoggerFactory = (*Factory)(nil)

// NewFactory wraps base. A nil base discards everything.
func NewFactory(base *zap.Logger) *Factory {
	if base == nil {
		base = zap.NewNop()
	}
	return &Factory{base: base}
}

// New builds a console logger at the named level.
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// NewLogger returns a logger scoped to one subsystem.
func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return &logger{s: f.base.Named(scope).Sugar()}
}

// logger maps pion's trace level onto zap debug; zap has nothing finer.
type logger struct {
	s *zap.SugaredLogger
}

func (l *logger) Trace(msg string)                          { l.s.Debug(msg) }
func (l *logger) Tracef(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *logger) Debug(msg string)                          { l.s.Debug(msg) }
func (l *logger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *logger) Info(msg string)                           { l.s.Info(msg) }
func (l *logger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *logger) Warn(msg string)                           { l.s.Warn(msg) }
func (l *logger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *logger) Error(msg string)                          { l.s.Error(msg) }
func (l *logger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }
