package engine

import (
	"context"

	gridlink "github.com/voltmesh/gridlink"
)

// Engine is the physical doorway to the grid analysis engine. Every foreign
// entry point is reached through Invoke; nothing else crosses the boundary.
//
// Implementations must be safe for concurrent Invoke from multiple
// goroutines; the engine's own internal synchronization is trusted for
// correctness of concurrent domain operations.
type Engine interface {
	// Invoke calls an exported entry point with raw ABI arguments and
	// returns its raw results (zero or one value). An error here means the
	// invocation itself failed (unknown entry, trap), not that the callee
	// reported a domain failure through the error-signal slot.
	Invoke(ctx context.Context, entry string, args []uint64) ([]uint64, error)

	// Memory returns a bounds-checked view of the engine's linear memory.
	Memory() gridlink.Memory

	// Close releases the engine instance. All handles and buffers must have
	// been released first.
	Close(ctx context.Context) error
}

// Config holds engine construction options.
type Config struct {
	// MemoryLimitPages caps the engine's linear memory in 64KB pages.
	// 0 means the wazero default.
	MemoryLimitPages uint32

	// Notify receives progress messages the engine pushes back into the
	// host while a call is in flight. A non-nil returned error becomes a
	// pending host error for that call.
	Notify func(message string) error
}
