package engine

import (
	"sync"

	"go.uber.org/zap"
)

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop()

	// level is the host severity snapshot the dispatcher mirrors into the
	// engine before every call. Concurrent writers race harmlessly: the
	// sync is idempotent and last writer wins.
	level = zap.NewAtomicLevel()
)

// Logger returns the boundary's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLogger installs a logger for the boundary and the engine's log
// callback. Pass nil to restore the no-op logger.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// Level returns the host severity level mirrored into the engine per call.
func Level() zap.AtomicLevel {
	return level
}
