package proc

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

// Process exit codes. Any non-zero code asks the external supervisor to
// restart the gateway.
const (
	ExitOK                 = 0
	ExitStartup            = 1
	ExitFatalSession       = 2
	ExitReconnectExhausted = 3
	ExitMemoryCritical     = 4
)

// ExitFunc terminates the process with the given code.
type ExitFunc func(code int)

// Terminator ends the process once, flushing the logger first. Later calls
// are ignored so competing fatal paths cannot race each other.
type Terminator struct {
	once   sync.Once
	logger *zap.Logger
	exit   ExitFunc
}

// NewTerminator returns a Terminator that calls os.Exit.
func NewTerminator(logger *zap.Logger) *Terminator {
	return &Terminator{logger: logger, exit: os.Exit}
}

// Exit logs the reason, syncs the logger and terminates with code.
func (t *Terminator) Exit(code int, reason string) {
	t.once.Do(func() {
		t.logger.Error("terminating process", zap.Int("code", code), zap.String("reason", reason))
		_ = t.logger.Sync()
		t.exit(code)
	})
}
