// Package errors provides structured error types for the boundary layer.
//
// Every error carries a Phase (where in the call it arose) and a Kind
// (what went wrong). Callee-reported failures keep the engine's message
// verbatim; fatal errors mark the boundary itself as unusable.
package errors
