// Package gridlink binds a host process to a power-grid analysis engine
// compiled to WebAssembly. The engine runs inside its own linear memory and
// is reached only through a fixed set of exported entry points; this module
// is the boundary layer that makes those entry points safe to use from Go.
//
// # Architecture Overview
//
// The packages are layered with distinct responsibilities:
//
//	gridlink/            Root package with the Memory interface shared by all layers
//	├── isolate/         Engine lifecycle, thread attachment, call dispatch, handles
//	├── engine/          Entry-point surface and the wazero-backed implementation
//	│   └── enginetest/  In-memory engine used by tests and local development
//	├── marshal/         Buffer and string-map adapters across the boundary
//	├── params/          Parameter block converters (load flow, security, ...)
//	├── grid/            Per-operation API built on the dispatcher
//	├── errors/          Structured boundary error types
//	└── cmd/gridcall     CLI and interactive runner
//
// # Quick Start
//
// Initialize the engine once per process, then call operations:
//
//	if err := isolate.Init(ctx, isolate.Config{Module: wasmBytes}); err != nil {
//	    log.Fatal(err)
//	}
//	defer isolate.Shutdown(ctx)
//
//	net, err := grid.CreateNetwork(ctx, "sim", "sim-0")
//	defer net.Release(ctx)
//
// # Ownership Model
//
// Memory on the engine side of the boundary is never garbage collected by the
// host. Every buffer that crosses the boundary has exactly one release
// routine, determined by which side allocated it: buffers the host allocated
// (through engine_alloc) are freed with engine_free, buffers the engine
// allocated are freed through the per-kind free entry points. The marshal and
// params packages hard-code the correct path per value; callers never choose.
//
// # Thread Safety
//
// Any number of goroutines may call boundary operations concurrently on the
// single engine instance. Each call tree attaches itself before its first
// entry-point invocation; nested calls within the tree reuse the attachment.
// Per-call error state is never shared between calls.
package gridlink
