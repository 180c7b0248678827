package isolate

import (
	"context"
	"sync"

	"go.uber.org/zap"

	gridlink "github.com/voltmesh/gridlink"
	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/errors"
)

// Config controls how the process-wide engine instance is created.
type Config struct {
	// Module is the engine wasm binary. Used when Engine is nil.
	Module []byte

	// Engine injects a pre-built engine, bypassing Module. Tests use this
	// to run against enginetest.
	Engine engine.Engine

	// MemoryLimitPages caps the engine's linear memory. Zero means the
	// engine default.
	MemoryLimitPages uint32

	// Notify handles messages the engine pushes to the host during a call.
	// Returning an error aborts the surrounding boundary call with a
	// host-pending error. Nil installs a handler that accepts everything.
	Notify func(message string) error
}

// state is the singleton runtime. At most one engine instance exists per
// process; Init creates it and Shutdown tears it down.
type state struct {
	eng engine.Engine
	mem gridlink.Memory
}

var (
	mu  sync.RWMutex
	cur *state
)

// Init creates the process-wide engine instance. Calling Init while an
// instance is already active fails with an already-initialized error;
// the existing instance is left untouched.
func Init(ctx context.Context, cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if cur != nil {
		return errors.AlreadyInitialized()
	}

	eng := cfg.Engine
	if eng == nil {
		if len(cfg.Module) == 0 {
			return errors.InvalidInput(errors.PhaseInit, "no engine module provided")
		}
		var err error
		eng, err = engine.New(ctx, cfg.Module, engine.Config{
			MemoryLimitPages: cfg.MemoryLimitPages,
			Notify:           cfg.Notify,
		})
		if err != nil {
			return errors.Wrap(errors.PhaseInit, errors.KindFatal, err, "engine creation failed")
		}
	}

	cur = &state{eng: eng, mem: eng.Memory()}
	engine.Logger().Info("engine initialized")
	return nil
}

// Shutdown tears down the engine instance. Handles still live at this
// point are destroyed first, while the engine can still run their
// destruction entry point; afterwards releasing them is a no-op.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if cur == nil {
		return errors.NotInitialized()
	}
	if n := releaseLive(ctx, cur); n > 0 {
		engine.Logger().Warn("destroyed leaked handles at shutdown", zap.Int("count", n))
	}
	err := cur.eng.Close(ctx)
	cur = nil
	if err != nil {
		return errors.Wrap(errors.PhaseInit, errors.KindFatal, err, "engine shutdown failed")
	}
	engine.Logger().Info("engine shut down")
	return nil
}

// Active reports whether an engine instance is currently initialized.
func Active() bool {
	mu.RLock()
	defer mu.RUnlock()
	return cur != nil
}

// Memory exposes the engine's linear memory for marshalling layers.
func Memory() (gridlink.Memory, error) {
	s, err := current()
	if err != nil {
		return nil, err
	}
	return s.mem, nil
}

func current() (*state, error) {
	mu.RLock()
	defer mu.RUnlock()
	if cur == nil {
		return nil, errors.NotInitialized()
	}
	return cur, nil
}

func logger() *zap.Logger {
	return engine.Logger()
}
