package params

import (
	"context"

	gridlink "github.com/voltmesh/gridlink"
	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/errors"
	"github.com/voltmesh/gridlink/isolate"
	"github.com/voltmesh/gridlink/marshal"
)

// Block is a host-allocated parameter block in engine memory, built as
// the argument of one boundary call. The block and every variable-length
// member hang off one allocation list, so Release frees the whole group
// through the engine allocator. Per-kind release entry points never see
// these blocks; those are reserved for engine-allocated ones.
type Block struct {
	ptr  uint32
	args marshal.AllocList
}

// Ptr returns the block's base offset as a call argument.
func (b *Block) Ptr() uint64 {
	if b == nil {
		return 0
	}
	return uint64(b.ptr)
}

// Release frees the block and all its members. Safe to call twice; the
// second call finds an empty list.
func (b *Block) Release(ctx context.Context) error {
	if b == nil {
		return nil
	}
	b.ptr = 0
	return isolate.ReleaseArgs(ctx, &b.args)
}

type storer interface {
	Store(mem gridlink.Memory, alloc marshal.Alloc, base uint32) error
}

func newBlock(ctx context.Context, size uint32, p storer) (*Block, error) {
	mem, err := isolate.Memory()
	if err != nil {
		return nil, err
	}
	b := &Block{}
	alloc := isolate.Allocator(ctx, &b.args)
	base, err := alloc(size)
	if err != nil {
		return nil, err
	}
	if err := p.Store(mem, alloc, base); err != nil {
		if relErr := b.Release(ctx); relErr != nil {
			return nil, relErr
		}
		return nil, errors.Wrap(errors.PhaseParams, errors.KindInvalidData, err, "parameter block encoding failed")
	}
	b.ptr = base
	return b, nil
}

// NewBlock encodes p into a host-owned block for passing to run entry
// points.
func (p *LoadFlow) NewBlock(ctx context.Context) (*Block, error) {
	return newBlock(ctx, LoadFlowSize, p)
}

// NewBlock encodes p into a host-owned block.
func (p *Security) NewBlock(ctx context.Context) (*Block, error) {
	return newBlock(ctx, SecuritySize, p)
}

// NewBlock encodes p into a host-owned block.
func (p *Sensitivity) NewBlock(ctx context.Context) (*Block, error) {
	return newBlock(ctx, SensitivitySize, p)
}

// NewBlock encodes p into a host-owned block.
func (p *ShortCircuit) NewBlock(ctx context.Context) (*Block, error) {
	return newBlock(ctx, ShortCircuitSize, p)
}

// NewBlock encodes p into a host-owned block.
func (p *FlowDecomposition) NewBlock(ctx context.Context) (*Block, error) {
	return newBlock(ctx, FlowDecompositionSize, p)
}

// NewBlock encodes p into a host-owned block.
func (p *Sld) NewBlock(ctx context.Context) (*Block, error) {
	return newBlock(ctx, SldSize, p)
}

// defaultBlock asks the engine for a default block, decodes it with read
// and releases the engine-owned storage through freeEntry, whatever the
// decode's outcome.
func defaultBlock[T any](ctx context.Context, createEntry, freeEntry string, read func(gridlink.Memory, uint32) (*T, error)) (*T, error) {
	res, err := isolate.Call(ctx, createEntry)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 || res[0] == 0 {
		return nil, errors.InvalidData(errors.PhaseParams, "engine returned no parameter block")
	}
	ptr := uint32(res[0])

	mem, err := isolate.Memory()
	if err != nil {
		return nil, err
	}
	p, readErr := read(mem, ptr)
	if _, freeErr := isolate.Call(ctx, freeEntry, uint64(ptr)); freeErr != nil && readErr == nil {
		return p, errors.Wrap(errors.PhaseRelease, errors.KindFatal, freeErr, "parameter block release failed")
	}
	return p, readErr
}

// DefaultLoadFlow fetches the engine's default load flow parameters.
func DefaultLoadFlow(ctx context.Context) (*LoadFlow, error) {
	return defaultBlock(ctx, engine.EntryCreateLoadFlowParameters, engine.EntryFreeLoadFlowParameters, ReadLoadFlow)
}

// DefaultSecurity fetches the engine's default security analysis
// parameters.
func DefaultSecurity(ctx context.Context) (*Security, error) {
	return defaultBlock(ctx, engine.EntryCreateSecurityParameters, engine.EntryFreeSecurityParameters, ReadSecurity)
}

// DefaultSensitivity fetches the engine's default sensitivity analysis
// parameters.
func DefaultSensitivity(ctx context.Context) (*Sensitivity, error) {
	return defaultBlock(ctx, engine.EntryCreateSensitivityParameters, engine.EntryFreeSensitivityParameters, ReadSensitivity)
}

// DefaultShortCircuit fetches the engine's default short circuit
// analysis parameters.
func DefaultShortCircuit(ctx context.Context) (*ShortCircuit, error) {
	return defaultBlock(ctx, engine.EntryCreateShortCircuitParameters, engine.EntryFreeShortCircuitParameters, ReadShortCircuit)
}

// DefaultFlowDecomposition fetches the engine's default flow
// decomposition parameters.
func DefaultFlowDecomposition(ctx context.Context) (*FlowDecomposition, error) {
	return defaultBlock(ctx, engine.EntryCreateFlowDecompositionParameters, engine.EntryFreeFlowDecompositionParameters, ReadFlowDecomposition)
}

// DefaultSld fetches the engine's default single line diagram
// parameters.
func DefaultSld(ctx context.Context) (*Sld, error) {
	return defaultBlock(ctx, engine.EntryCreateSldParameters, engine.EntryFreeSldParameters, ReadSld)
}
