// Package grid is the typed facade over the engine's computation entry
// points: networks, load flow, security analysis and sensitivity
// analysis.
//
// Every operation follows the same shape: encode arguments into engine
// memory through one tracked allocation group, dispatch via the isolate
// dispatcher, copy results into host values, then release both the
// argument group and any engine-allocated result buffer. Callers only
// see host types and handles; no pointer into engine memory survives a
// call.
package grid
