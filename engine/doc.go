// Package engine defines the entry-point surface of the grid analysis
// engine and provides the wazero-backed implementation that runs it.
//
// The Engine interface is the only physical doorway across the boundary.
// Higher layers (the isolate dispatcher) own the calling protocol: thread
// attachment, error-signal slots, and log-level synchronization. This
// package only moves raw ABI values and bytes.
package engine
