package grid

import (
	"context"

	"go.uber.org/zap"

	gridlink "github.com/voltmesh/gridlink"
	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/errors"
	"github.com/voltmesh/gridlink/isolate"
	"github.com/voltmesh/gridlink/marshal"
)

// ElementType selects a network element kind for id queries.
type ElementType int32

const (
	ElementBus                    ElementType = 0
	ElementLine                   ElementType = 1
	ElementTwoWindingsTransformer ElementType = 2
	ElementGenerator              ElementType = 3
	ElementLoad                   ElementType = 4
)

// Result records are the marshal layer's copies; re-exported so callers
// only deal with this package.
type (
	ComponentResult        = marshal.ComponentResult
	LimitViolation         = marshal.LimitViolation
	PostContingencyResult  = marshal.PostContingencyResult
	OperatorStrategyResult = marshal.OperatorStrategyResult
)

// Load flow component statuses.
const (
	StatusConverged           int32 = 0
	StatusMaxIterationReached int32 = 1
	StatusSolverFailed        int32 = 2
	StatusNoCalculation       int32 = 3
)

// argBuilder accumulates the engine-memory arguments of one call. The
// first encoding failure sticks; call dispatches only on a clean build
// and releases every argument allocation afterwards either way.
type argBuilder struct {
	ctx   context.Context
	mem   gridlink.Memory
	list  marshal.AllocList
	alloc marshal.Alloc
	err   error
}

func newArgs(ctx context.Context) (*argBuilder, error) {
	mem, err := isolate.Memory()
	if err != nil {
		return nil, err
	}
	b := &argBuilder{ctx: ctx, mem: mem}
	b.alloc = isolate.Allocator(ctx, &b.list)
	return b, nil
}

func (b *argBuilder) cstring(s string) uint64 {
	if b.err != nil {
		return 0
	}
	ptr, err := marshal.WriteCString(b.mem, b.alloc, s)
	if err != nil {
		b.err = err
	}
	return uint64(ptr)
}

func (b *argBuilder) stringTable(values []string) (table, count uint64) {
	if b.err != nil {
		return 0, 0
	}
	ptr, err := marshal.WriteStrings(b.mem, b.alloc, values)
	if err != nil {
		b.err = err
		return 0, 0
	}
	return uint64(ptr), uint64(len(values))
}

func (b *argBuilder) f64Table(values []float64) (ptr, count uint64) {
	if b.err != nil {
		return 0, 0
	}
	p, err := marshal.WriteF64s(b.mem, b.alloc, values)
	if err != nil {
		b.err = err
		return 0, 0
	}
	return uint64(p), uint64(len(values))
}

func (b *argBuilder) mapTables(m map[string]string) (keys, values, count uint64) {
	if b.err != nil {
		return 0, 0, 0
	}
	ks, vs := marshal.SplitMap(m)
	keys, _ = b.stringTable(ks)
	values, _ = b.stringTable(vs)
	return keys, values, uint64(len(ks))
}

func (b *argBuilder) handle(h *isolate.Handle) uint64 {
	if b.err != nil {
		return 0
	}
	arg, err := h.Arg()
	if err != nil {
		b.err = err
	}
	return arg
}

// call dispatches the entry and releases the argument allocations. A
// release failure never masks a call error; it is logged instead.
func (b *argBuilder) call(entry string, args ...uint64) ([]uint64, error) {
	if b.err != nil {
		b.release(nil)
		return nil, b.err
	}
	res, err := isolate.Call(b.ctx, entry, args...)
	if relErr := b.release(err); relErr != nil && err == nil {
		return res, relErr
	}
	return res, err
}

func (b *argBuilder) release(callErr error) error {
	err := isolate.ReleaseArgs(b.ctx, &b.list)
	if err != nil && callErr != nil {
		engine.Logger().Warn("argument release failed", zap.Error(err))
		return nil
	}
	return err
}

func objectResult(res []uint64) *isolate.Handle {
	if len(res) == 0 {
		return isolate.WrapHandle(0)
	}
	return isolate.WrapHandle(uint32(res[0]))
}

// firstResult guards entries that must hand back one pointer value.
func firstResult(entry string, res []uint64) (uint32, error) {
	if len(res) == 0 {
		return 0, errors.InvalidData(errors.PhaseMarshal, entry+" returned no result")
	}
	return uint32(res[0]), nil
}

// Version returns the engine's version table as text.
func Version(ctx context.Context) (string, error) {
	return isolate.CallString(ctx, engine.EntryGetVersionTable)
}

// LoadFlowProviderNames lists the available load flow implementations.
func LoadFlowProviderNames(ctx context.Context) ([]string, error) {
	return providerNames(ctx, engine.EntryGetLoadFlowProviderNames)
}

// SecurityAnalysisProviderNames lists the available security analysis
// implementations.
func SecurityAnalysisProviderNames(ctx context.Context) ([]string, error) {
	return providerNames(ctx, engine.EntryGetSecurityProviderNames)
}

// SensitivityAnalysisProviderNames lists the available sensitivity
// analysis implementations.
func SensitivityAnalysisProviderNames(ctx context.Context) ([]string, error) {
	return providerNames(ctx, engine.EntryGetSensitivityProviderNames)
}

func providerNames(ctx context.Context, entry string) ([]string, error) {
	res, err := isolate.Call(ctx, entry)
	if err != nil {
		return nil, err
	}
	ptr, err := firstResult(entry, res)
	if err != nil {
		return nil, err
	}
	return isolate.TakeStrings(ctx, ptr)
}

// NetworkMetadata copies the network's descriptive attributes. The
// engine-side map is consumed by the conversion.
func NetworkMetadata(ctx context.Context, net *isolate.Handle) (map[string]string, error) {
	b, err := newArgs(ctx)
	if err != nil {
		return nil, err
	}
	res, err := b.call(engine.EntryGetNetworkMetadata, b.handle(net))
	if err != nil {
		return nil, err
	}
	ptr, err := firstResult(engine.EntryGetNetworkMetadata, res)
	if err != nil {
		return nil, err
	}
	return isolate.TakeStringMap(ctx, ptr)
}

// CreateNetwork builds a fresh engine-side network and hands back its
// owning handle.
func CreateNetwork(ctx context.Context, name, id string) (*isolate.Handle, error) {
	b, err := newArgs(ctx)
	if err != nil {
		return nil, err
	}
	res, err := b.call(engine.EntryCreateNetwork, b.cstring(name), b.cstring(id))
	if err != nil {
		return nil, err
	}
	return objectResult(res), nil
}

// LoadNetwork reads a network from file, with importer parameters.
func LoadNetwork(ctx context.Context, file string, parameters map[string]string) (*isolate.Handle, error) {
	b, err := newArgs(ctx)
	if err != nil {
		return nil, err
	}
	filePtr := b.cstring(file)
	keys, values, count := b.mapTables(parameters)
	res, err := b.call(engine.EntryLoadNetwork, filePtr, keys, values, count)
	if err != nil {
		return nil, err
	}
	return objectResult(res), nil
}

// SaveNetworkToString serializes the network in the given format, with
// exporter parameters.
func SaveNetworkToString(ctx context.Context, net *isolate.Handle, format string, parameters map[string]string) (string, error) {
	b, err := newArgs(ctx)
	if err != nil {
		return "", err
	}
	netArg := b.handle(net)
	formatPtr := b.cstring(format)
	keys, values, count := b.mapTables(parameters)
	res, err := b.call(engine.EntrySaveNetworkToString, netArg, formatPtr, keys, values, count)
	if err != nil {
		return "", err
	}
	ptr, err := firstResult(engine.EntrySaveNetworkToString, res)
	if err != nil {
		return "", err
	}
	return isolate.TakeString(ctx, ptr)
}

// NetworkElementIDs queries element ids of one kind, optionally filtered
// by nominal voltages and countries.
func NetworkElementIDs(ctx context.Context, net *isolate.Handle, elementType ElementType, nominalVoltages []float64, countries []string) ([]string, error) {
	b, err := newArgs(ctx)
	if err != nil {
		return nil, err
	}
	netArg := b.handle(net)
	vPtr, vCount := b.f64Table(nominalVoltages)
	cPtr, cCount := b.stringTable(countries)
	res, err := b.call(engine.EntryGetNetworkElementIDs, netArg, vPtr, vCount, cPtr, cCount, uint64(uint32(elementType)))
	if err != nil {
		return nil, err
	}
	ptr, err := firstResult(engine.EntryGetNetworkElementIDs, res)
	if err != nil {
		return nil, err
	}
	return isolate.TakeStrings(ctx, ptr)
}
