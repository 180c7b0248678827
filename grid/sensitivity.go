package grid

import (
	"context"

	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/isolate"
	"github.com/voltmesh/gridlink/params"
)

// NewSensitivityAnalysis creates an empty sensitivity analysis to which
// factor matrices are added before running.
func NewSensitivityAnalysis(ctx context.Context) (*isolate.Handle, error) {
	res, err := isolate.Call(ctx, engine.EntryCreateSensitivityAnalysis)
	if err != nil {
		return nil, err
	}
	return objectResult(res), nil
}

// AddFactorMatrix registers a named branch-flow/variable factor matrix.
func AddFactorMatrix(ctx context.Context, analysis *isolate.Handle, matrixID string, branchIDs, variableIDs []string) error {
	b, err := newArgs(ctx)
	if err != nil {
		return err
	}
	saArg := b.handle(analysis)
	idPtr := b.cstring(matrixID)
	branches, bCount := b.stringTable(branchIDs)
	variables, vCount := b.stringTable(variableIDs)
	_, err = b.call(engine.EntryAddFactorMatrix, saArg, idPtr, branches, bCount, variables, vCount)
	return err
}

// RunSensitivityAnalysis runs the analysis on net and returns a handle
// to the engine-side result object. A nil p runs with engine defaults.
func RunSensitivityAnalysis(ctx context.Context, analysis, net *isolate.Handle, dc bool, p *params.Sensitivity, provider string) (*isolate.Handle, error) {
	if p == nil {
		var err error
		if p, err = params.DefaultSensitivity(ctx); err != nil {
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
	saArg := b.handle(analysis)
	netArg := b.handle(net)
	providerPtr := b.cstring(provider)
	res, err := b.call(engine.EntryRunSensitivityAnalysis, saArg, netArg, boolArg(dc), block.Ptr(), providerPtr)
	if err != nil {
		return nil, err
	}
	return objectResult(res), nil
}

// SensitivityMatrix copies one factor matrix's values out of a result,
// row-major with one row per branch and one column per variable. An
// empty contingencyID selects the pre-contingency state.
func SensitivityMatrix(ctx context.Context, result *isolate.Handle, matrixID, contingencyID string) ([]float64, error) {
	b, err := newArgs(ctx)
	if err != nil {
		return nil, err
	}
	resArg := b.handle(result)
	matrixPtr := b.cstring(matrixID)
	contingencyPtr := b.cstring(contingencyID)
	res, err := b.call(engine.EntryGetSensitivityMatrix, resArg, matrixPtr, contingencyPtr)
	if err != nil {
		return nil, err
	}
	ptr, err := firstResult(engine.EntryGetSensitivityMatrix, res)
	if err != nil {
		return nil, err
	}
	return isolate.TakeF64s(ctx, ptr)
}
