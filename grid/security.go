package grid

import (
	"context"

	gridlink "github.com/voltmesh/gridlink"
	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/isolate"
	"github.com/voltmesh/gridlink/marshal"
	"github.com/voltmesh/gridlink/params"
)

// NewSecurityAnalysis creates an empty security analysis to which
// contingencies are added before running.
func NewSecurityAnalysis(ctx context.Context) (*isolate.Handle, error) {
	res, err := isolate.Call(ctx, engine.EntryCreateSecurityAnalysis)
	if err != nil {
		return nil, err
	}
	return objectResult(res), nil
}

// AddContingency registers a contingency: the named elements are taken
// out of service together when it is applied.
func AddContingency(ctx context.Context, analysis *isolate.Handle, id string, elementIDs []string) error {
	b, err := newArgs(ctx)
	if err != nil {
		return err
	}
	saArg := b.handle(analysis)
	idPtr := b.cstring(id)
	table, count := b.stringTable(elementIDs)
	_, err = b.call(engine.EntryAddContingency, saArg, idPtr, table, count)
	return err
}

// RunSecurityAnalysis runs the analysis on net and returns a handle to
// the engine-side result object. A nil p runs with engine defaults.
func RunSecurityAnalysis(ctx context.Context, analysis, net *isolate.Handle, p *params.Security, provider string, dc bool) (*isolate.Handle, error) {
	if p == nil {
		var err error
		if p, err = params.DefaultSecurity(ctx); err != nil {
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
	res, err := b.call(engine.EntryRunSecurityAnalysis, saArg, netArg, block.Ptr(), providerPtr, boolArg(dc))
	if err != nil {
		return nil, err
	}
	return objectResult(res), nil
}

// PostContingencyResults copies the per-contingency violation records
// out of a security analysis result.
func PostContingencyResults(ctx context.Context, result *isolate.Handle) ([]PostContingencyResult, error) {
	b, err := newArgs(ctx)
	if err != nil {
		return nil, err
	}
	res, err := b.call(engine.EntryGetPostContingencyResults, b.handle(result))
	if err != nil {
		return nil, err
	}
	ptr, err := firstResult(engine.EntryGetPostContingencyResults, res)
	if err != nil {
		return nil, err
	}

	buf := isolate.WrapBuffer(isolate.KindContingencyResults, ptr)
	var out []PostContingencyResult
	decodeErr := buf.Each(marshal.PostContingencyResultSize, func(mem gridlink.Memory, recPtr uint32) error {
		r, err := marshal.ReadPostContingencyResult(mem, recPtr)
		if err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	if err := buf.Release(ctx); err != nil && decodeErr == nil {
		return out, err
	}
	return out, decodeErr
}

// OperatorStrategyResults copies the operator strategy records out of a
// security analysis result.
func OperatorStrategyResults(ctx context.Context, result *isolate.Handle) ([]OperatorStrategyResult, error) {
	b, err := newArgs(ctx)
	if err != nil {
		return nil, err
	}
	res, err := b.call(engine.EntryGetOperatorStrategyResults, b.handle(result))
	if err != nil {
		return nil, err
	}
	ptr, err := firstResult(engine.EntryGetOperatorStrategyResults, res)
	if err != nil {
		return nil, err
	}

	buf := isolate.WrapBuffer(isolate.KindOperatorStrategyResults, ptr)
	var out []OperatorStrategyResult
	decodeErr := buf.Each(marshal.OperatorStrategyResultSize, func(mem gridlink.Memory, recPtr uint32) error {
		r, err := marshal.ReadOperatorStrategyResult(mem, recPtr)
		if err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	if err := buf.Release(ctx); err != nil && decodeErr == nil {
		return out, err
	}
	return out, decodeErr
}
