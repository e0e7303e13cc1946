package wa

import (
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
)

// zapLogger bridges whatsmeow's logger interface onto zap.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewLogger returns a whatsmeow logger writing to the given zap logger.
func NewLogger(logger *zap.Logger, module string) waLog.Logger {
	return &zapLogger{s: logger.Named(module).Sugar()}
}

func (l *zapLogger) Warnf(msg string, args ...any)  { l.s.Warnf(msg, args...) }
func (l *zapLogger) Errorf(msg string, args ...any) { l.s.Errorf(msg, args...) }
func (l *zapLogger) Infof(msg string, args ...any)  { l.s.Infof(msg, args...) }
func (l *zapLogger) Debugf(msg string, args ...any) { l.s.Debugf(msg, args...) }

func (l *zapLogger) Sub(module string) waLog.Logger {
	return &zapLogger{s: l.s.Named(module)}
}
