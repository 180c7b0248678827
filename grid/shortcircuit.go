package grid

import (
	"context"

	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/isolate"
	"github.com/voltmesh/gridlink/params"
)

// ShortCircuitProviderNames lists the available short circuit analysis
// implementations.
func ShortCircuitProviderNames(ctx context.Context) ([]string, error) {
	return providerNames(ctx, engine.EntryGetShortCircuitProviderNames)
}

// NewShortCircuitAnalysis creates an empty short circuit analysis.
func NewShortCircuitAnalysis(ctx context.Context) (*isolate.Handle, error) {
	res, err := isolate.Call(ctx, engine.EntryCreateShortCircuitAnalysis)
	if err != nil {
		return nil, err
	}
	return objectResult(res), nil
}

// RunShortCircuitAnalysis runs the analysis on net and returns a handle
// to the engine-side result object. A nil p runs with engine defaults.
func RunShortCircuitAnalysis(ctx context.Context, analysis, net *isolate.Handle, p *params.ShortCircuit, provider string) (*isolate.Handle, error) {
	if p == nil {
		var err error
		if p, err = params.DefaultShortCircuit(ctx); err != nil {
			return nil, err
		}
	}
	block, err := p.NewBlock(ctx)
	if err != nil {
		return nil, err
	}
	defer releaseBlock(ctx, block)

	b, err := newArgs(ctx)
	if err != nil {
		return nil, err
	}
	scArg := b.handle(analysis)
	netArg := b.handle(net)
	providerPtr := b.cstring(provider)
	res, err := b.call(engine.EntryRunShortCircuitAnalysis, scArg, netArg, block.Ptr(), providerPtr)
	if err != nil {
		return nil, err
	}
	return objectResult(res), nil
}
