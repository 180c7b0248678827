package grid

import (
	"context"

	"go.uber.org/zap"

	gridlink "github.com/voltmesh/gridlink"
	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/isolate"
	"github.com/voltmesh/gridlink/marshal"
	"github.com/voltmesh/gridlink/params"
)

// RunLoadFlow computes a load flow on net and returns the per-component
// convergence results. A nil p runs with the engine's defaults.
func RunLoadFlow(ctx context.Context, net *isolate.Handle, dc bool, p *params.LoadFlow, provider string) ([]ComponentResult, error) {
	if p == nil {
		var err error
		if p, err = params.DefaultLoadFlow(ctx); err != nil {
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
	netArg := b.handle(net)
	providerPtr := b.cstring(provider)
	res, err := b.call(engine.EntryRunLoadFlow, netArg, boolArg(dc), block.Ptr(), providerPtr)
	if err != nil {
		return nil, err
	}
	ptr, err := firstResult(engine.EntryRunLoadFlow, res)
	if err != nil {
		return nil, err
	}

	buf := isolate.WrapBuffer(isolate.KindComponentResults, ptr)
	var out []ComponentResult
	decodeErr := buf.Each(marshal.ComponentResultSize, func(mem gridlink.Memory, recPtr uint32) error {
		r, err := marshal.ReadComponentResult(mem, recPtr)
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

func boolArg(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

func releaseBlock(ctx context.Context, block *params.Block) {
	if err := block.Release(ctx); err != nil {
		engine.Logger().Warn("parameter block release failed", zap.Error(err))
	}
}
