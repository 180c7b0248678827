// Package params converts computation parameter structs between host
// values and the engine's flat block layouts.
//
// Each block type has a pure codec (Store, and Read* where the engine
// hands blocks back) plus two ownership paths that must never mix:
//
//   - NewBlock builds a host-owned block through the engine allocator
//     for passing parameters in; Block.Release frees the block and all
//     its variable-length members as one group.
//   - Default* fetches an engine-allocated default block, copies it into
//     a host struct and releases it through the block kind's own free
//     entry point.
package params
