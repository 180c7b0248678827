package params_test

import (
	"context"
	"reflect"
	"testing"

	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/engine/enginetest"
	"github.com/voltmesh/gridlink/isolate"
	"github.com/voltmesh/gridlink/marshal"
	"github.com/voltmesh/gridlink/params"
)

func setup(t *testing.T) *enginetest.Fake {
	t.Helper()
	fake := enginetest.New(engine.Config{})
	if err := isolate.Init(context.Background(), isolate.Config{Engine: fake}); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		if err := isolate.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return fake
}

func TestDefaultLoadFlow(t *testing.T) {
	fake := setup(t)
	p, err := params.DefaultLoadFlow(context.Background())
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if p.VoltageInitMode != params.UniformValues {
		t.Fatalf("voltage init mode %d", p.VoltageInitMode)
	}
	if !p.UseReactiveLimits || !p.DistributedSlack || !p.DCUseTransformerRatio {
		t.Fatalf("default flags wrong: %+v", p)
	}
	if p.BalanceType != params.ProportionalToGenerationPMax {
		t.Fatalf("balance type %d", p.BalanceType)
	}
	if len(p.ProviderParameters) != 0 || len(p.CountriesToBalance) != 0 {
		t.Fatalf("defaults carry members: %+v", p)
	}
	// The engine-owned default block must be released through its own
	// free entry, exactly once.
	if n := fake.FreeCount(engine.EntryFreeLoadFlowParameters); n != 1 {
		t.Fatalf("default block freed %d times, want 1", n)
	}
	if n := fake.LiveAllocs(); n != 0 {
		t.Fatalf("%d allocations leaked", n)
	}
}

func TestDefaultSecurityEmbedsLoadFlow(t *testing.T) {
	fake := setup(t)
	p, err := params.DefaultSecurity(context.Background())
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if p.FlowProportionalThreshold != 0.1 {
		t.Fatalf("flow threshold %v", p.FlowProportionalThreshold)
	}
	if !p.LoadFlow.UseReactiveLimits {
		t.Fatalf("embedded load flow wrong: %+v", p.LoadFlow)
	}
	if n := fake.FreeCount(engine.EntryFreeSecurityParameters); n != 1 {
		t.Fatalf("default block freed %d times, want 1", n)
	}
}

func TestLoadFlowBlockRoundTrip(t *testing.T) {
	fake := setup(t)
	ctx := context.Background()

	want := &params.LoadFlow{
		VoltageInitMode:                  params.DCValues,
		TransformerVoltageControlOn:      true,
		UseReactiveLimits:                true,
		PhaseShifterRegulationOn:         true,
		TwtSplitShuntAdmittance:          true,
		ShuntCompensatorVoltageControlOn: true,
		ReadSlackBus:                     true,
		WriteSlackBus:                    true,
		DistributedSlack:                 true,
		BalanceType:                      params.ProportionalToLoad,
		DCUseTransformerRatio:            true,
		ConnectedComponentMode:           params.AllComponents,
		CountriesToBalance:               []string{"FR", "BE"},
		ProviderParameters:               map[string]string{"slackBusSelectionMode": "MOST_MESHED"},
	}

	netRes, err := isolate.Call(ctx, engine.EntryCreateNetwork, 0, 0)
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	net := isolate.WrapHandle(uint32(netRes[0]))
	defer net.Release(ctx)

	block, err := want.NewBlock(ctx)
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	netArg, _ := net.Arg()
	res, err := isolate.Call(ctx, engine.EntryRunLoadFlow, netArg, 1, block.Ptr(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := isolate.WrapBuffer(isolate.KindComponentResults, uint32(res[0])).Release(ctx); err != nil {
		t.Fatalf("result release: %v", err)
	}
	if err := block.Release(ctx); err != nil {
		t.Fatalf("block release: %v", err)
	}

	got := fake.LastLoadFlow()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("engine decoded\n%+v\nwant\n%+v", got, want)
	}
	if !fake.LastDC() {
		t.Fatal("dc flag lost")
	}
	if n := fake.LiveAllocs(); n != 0 {
		t.Fatalf("%d allocations leaked", n)
	}
}

func TestBlockReleaseIsIdempotent(t *testing.T) {
	fake := setup(t)
	ctx := context.Background()
	p := &params.LoadFlow{CountriesToBalance: []string{"DE"}}
	block, err := p.NewBlock(ctx)
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if block.Ptr() == 0 {
		t.Fatal("block has no address")
	}
	if err := block.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := block.Release(ctx); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if n := fake.LiveAllocs(); n != 0 {
		t.Fatalf("%d allocations leaked", n)
	}
}

func TestDefaultSld(t *testing.T) {
	fake := setup(t)
	p, err := params.DefaultSld(context.Background())
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if !p.TopologicalColoring {
		t.Fatalf("default flags wrong: %+v", p)
	}
	if p.ComponentLibrary != "Convergence" {
		t.Fatalf("component library %q", p.ComponentLibrary)
	}
	if n := fake.FreeCount(engine.EntryFreeSldParameters); n != 1 {
		t.Fatalf("default block freed %d times, want 1", n)
	}
	if n := fake.LiveAllocs(); n != 0 {
		t.Fatalf("%d allocations leaked", n)
	}
}

func TestDefaultFlowDecomposition(t *testing.T) {
	fake := setup(t)
	p, err := params.DefaultFlowDecomposition(context.Background())
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if !p.DCFallbackEnabledAfterACDivergence {
		t.Fatalf("default flags wrong: %+v", p)
	}
	if p.SensitivityVariableBatchSize != 15000 {
		t.Fatalf("batch size %d", p.SensitivityVariableBatchSize)
	}
	if n := fake.FreeCount(engine.EntryFreeFlowDecompositionParameters); n != 1 {
		t.Fatalf("default block freed %d times, want 1", n)
	}
}

func TestDefaultShortCircuit(t *testing.T) {
	fake := setup(t)
	p, err := params.DefaultShortCircuit(context.Background())
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if !p.WithFeederResult || !p.WithLimitViolations {
		t.Fatalf("default flags wrong: %+v", p)
	}
	if p.StudyType != params.Transient {
		t.Fatalf("study type %d", p.StudyType)
	}
	if n := fake.FreeCount(engine.EntryFreeShortCircuitParameters); n != 1 {
		t.Fatalf("default block freed %d times, want 1", n)
	}
	if n := fake.LiveAllocs(); n != 0 {
		t.Fatalf("%d allocations leaked", n)
	}
}

func TestShortCircuitBlockRoundTrip(t *testing.T) {
	fake := setup(t)
	ctx := context.Background()

	want := &params.ShortCircuit{
		WithVoltageResult:                   true,
		WithLimitViolations:                 true,
		StudyType:                           params.SteadyState,
		MinVoltageDropProportionalThreshold: 0.15,
		ProviderParameters:                  map[string]string{"voltageRanges": "default"},
	}

	netRes, err := isolate.Call(ctx, engine.EntryCreateNetwork, 0, 0)
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	net := isolate.WrapHandle(uint32(netRes[0]))
	defer net.Release(ctx)

	anaRes, err := isolate.Call(ctx, engine.EntryCreateShortCircuitAnalysis)
	if err != nil {
		t.Fatalf("create analysis: %v", err)
	}
	ana := isolate.WrapHandle(uint32(anaRes[0]))
	defer ana.Release(ctx)

	block, err := want.NewBlock(ctx)
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	mem, err := isolate.Memory()
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	var list marshal.AllocList
	provider, err := marshal.WriteCString(mem, isolate.Allocator(ctx, &list), "ShortCircuitAnalysisToolbox")
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	anaArg, _ := ana.Arg()
	netArg, _ := net.Arg()
	res, err := isolate.Call(ctx, engine.EntryRunShortCircuitAnalysis, anaArg, netArg, block.Ptr(), uint64(provider))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	result := isolate.WrapHandle(uint32(res[0]))
	if err := result.Release(ctx); err != nil {
		t.Fatalf("result release: %v", err)
	}
	if err := block.Release(ctx); err != nil {
		t.Fatalf("block release: %v", err)
	}
	if err := isolate.ReleaseArgs(ctx, &list); err != nil {
		t.Fatalf("free args: %v", err)
	}

	if got := fake.LastShortCircuit(); !reflect.DeepEqual(got, want) {
		t.Fatalf("engine decoded\n%+v\nwant\n%+v", got, want)
	}
	if n := fake.LiveAllocs(); n != 0 {
		t.Fatalf("%d allocations leaked", n)
	}
}

func TestSldBlockEncoding(t *testing.T) {
	setup(t)
	ctx := context.Background()
	p, err := params.DefaultSld(ctx)
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	p.UseName = true
	block, err := p.NewBlock(ctx)
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	defer block.Release(ctx)

	mem, err := isolate.Memory()
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	base := uint32(block.Ptr())
	useName, err := mem.ReadU8(base)
	if err != nil || useName != 1 {
		t.Fatalf("use_name byte %d, %v", useName, err)
	}
	libPtr, err := mem.ReadU32(base + 8)
	if err != nil {
		t.Fatalf("library pointer: %v", err)
	}
	lib, err := marshal.ReadCString(mem, libPtr)
	if err != nil || lib != "Convergence" {
		t.Fatalf("library %q, %v", lib, err)
	}
}

func TestFlowDecompositionBlockEncoding(t *testing.T) {
	setup(t)
	ctx := context.Background()
	p, err := params.DefaultFlowDecomposition(ctx)
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	block, err := p.NewBlock(ctx)
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	defer block.Release(ctx)

	mem, err := isolate.Memory()
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	base := uint32(block.Ptr())
	batch, err := mem.ReadU32(base + 4)
	if err != nil || int32(batch) != p.SensitivityVariableBatchSize {
		t.Fatalf("batch size %d, %v", batch, err)
	}
	eps, err := mem.ReadF64(base + 8)
	if err != nil || eps != p.LossesCompensationEpsilon {
		t.Fatalf("epsilon %v, %v", eps, err)
	}
}
