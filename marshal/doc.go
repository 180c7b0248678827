// Package marshal converts host values to and from the engine's linear
// memory representation: NUL-terminated strings, char** tables, packed
// numeric buffers, {ptr,len} array structs and {keys,values,len} string
// maps.
//
// Everything here is a pure byte-level codec. Allocation is injected via
// the Alloc callback and ownership decisions (who frees engine-owned
// results, when host-owned argument blocks are released) live in the
// isolate package. AllocList is the grouping primitive the dispatcher
// uses to release all argument allocations of one call together.
package marshal
