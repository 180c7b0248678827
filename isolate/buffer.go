package isolate

import (
	"context"
	"sync/atomic"

	gridlink "github.com/voltmesh/gridlink"
	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/errors"
	"github.com/voltmesh/gridlink/marshal"
)

// BufferKind identifies the layout of an engine-allocated result buffer
// and selects the one release entry point that may free it. Freeing a
// buffer through any other routine corrupts the engine heap, so the kind
// travels with the pointer from the moment it crosses the boundary.
type BufferKind uint8

const (
	KindF64Array BufferKind = iota
	KindStringArray
	KindStringMap
	KindComponentResults
	KindContingencyResults
	KindOperatorStrategyResults

	// KindSubArray marks an array embedded in a parent record array. The
	// parent's release frees it; its own release is deliberately a no-op.
	KindSubArray
)

func (k BufferKind) freeEntry() (string, bool) {
	switch k {
	case KindF64Array:
		return engine.EntryFreeArray, true
	case KindStringArray:
		return engine.EntryFreeStringArray, true
	case KindStringMap:
		return engine.EntryFreeStringMap, true
	case KindComponentResults:
		return engine.EntryFreeComponentResultArray, true
	case KindContingencyResults:
		return engine.EntryFreeContingencyResultArray, true
	case KindOperatorStrategyResults:
		return engine.EntryFreeOperatorStrategyResultArray, true
	default:
		return "", false
	}
}

// Buffer adapts an engine-allocated result for host-side reading. Reads
// copy and may happen any number of times; Release frees the underlying
// engine memory exactly once through the kind's matching entry point.
type Buffer struct {
	kind     BufferKind
	ptr      uint32
	released atomic.Bool
}

// WrapBuffer adopts an engine-allocated buffer of the given kind.
func WrapBuffer(kind BufferKind, ptr uint32) *Buffer {
	return &Buffer{kind: kind, ptr: ptr}
}

// Kind returns the buffer's layout tag.
func (b *Buffer) Kind() BufferKind { return b.kind }

// Ptr returns the buffer's header offset in engine memory.
func (b *Buffer) Ptr() uint32 { return b.ptr }

// Release frees the engine-side memory. At most one release reaches the
// engine no matter how many times it is called; sub-arrays never reach
// it at all since their parent owns the storage.
func (b *Buffer) Release(ctx context.Context) error {
	if b == nil || b.ptr == 0 {
		return nil
	}
	if !b.released.CompareAndSwap(false, true) {
		return nil
	}
	entry, ok := b.kind.freeEntry()
	if !ok {
		return nil
	}
	if _, err := Call(ctx, entry, uint64(b.ptr)); err != nil {
		return errors.Wrap(errors.PhaseRelease, errors.KindFatal, err, "buffer release failed")
	}
	return nil
}

func (b *Buffer) reader() (gridlink.Memory, error) {
	if b == nil || b.ptr == 0 {
		return nil, errors.InvalidData(errors.PhaseMarshal, "nil buffer")
	}
	if b.released.Load() {
		return nil, errors.InvalidData(errors.PhaseMarshal, "buffer read after release")
	}
	return Memory()
}

// Strings copies a string-array buffer into host memory.
func (b *Buffer) Strings() ([]string, error) {
	mem, err := b.reader()
	if err != nil {
		return nil, err
	}
	return marshal.ReadStringArray(mem, b.ptr)
}

// F64s copies an f64-array buffer into host memory.
func (b *Buffer) F64s() ([]float64, error) {
	mem, err := b.reader()
	if err != nil {
		return nil, err
	}
	return marshal.ReadF64Array(mem, b.ptr)
}

// Each visits the records of a packed record array, handing fn the offset
// of each record. fn copies what it needs; offsets are only valid during
// the visit.
func (b *Buffer) Each(recordSize uint32, fn func(mem gridlink.Memory, recPtr uint32) error) error {
	mem, err := b.reader()
	if err != nil {
		return err
	}
	hdr, err := marshal.ReadArrayHeader(mem, b.ptr)
	if err != nil {
		return err
	}
	for i := int32(0); i < hdr.Len; i++ {
		if err := fn(mem, hdr.Ptr+uint32(i)*recordSize); err != nil {
			return err
		}
	}
	return nil
}

// TakeStrings copies a string-array buffer and releases it, whatever the
// copy's outcome. One-shot counterpart to WrapBuffer plus manual reads.
func TakeStrings(ctx context.Context, ptr uint32) ([]string, error) {
	b := WrapBuffer(KindStringArray, ptr)
	out, readErr := b.Strings()
	if err := b.Release(ctx); err != nil && readErr == nil {
		return out, err
	}
	return out, readErr
}

// TakeF64s copies an f64-array buffer and releases it.
func TakeF64s(ctx context.Context, ptr uint32) ([]float64, error) {
	b := WrapBuffer(KindF64Array, ptr)
	out, readErr := b.F64s()
	if err := b.Release(ctx); err != nil && readErr == nil {
		return out, err
	}
	return out, readErr
}

// TakeStringMap copies a {keys,values,len} buffer into a host map and
// releases the engine-side storage. The conversion consumes the buffer;
// null keys and values read as empty strings.
func TakeStringMap(ctx context.Context, ptr uint32) (map[string]string, error) {
	if ptr == 0 {
		return map[string]string{}, nil
	}
	mem, err := Memory()
	if err != nil {
		return nil, err
	}
	out, readErr := marshal.ReadStringMap(mem, ptr)
	b := WrapBuffer(KindStringMap, ptr)
	if err := b.Release(ctx); err != nil && readErr == nil {
		return out, err
	}
	return out, readErr
}
