package grid_test

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/engine/enginetest"
	"github.com/voltmesh/gridlink/errors"
	"github.com/voltmesh/gridlink/grid"
	"github.com/voltmesh/gridlink/isolate"
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

func TestVersion(t *testing.T) {
	setup(t)
	v, err := grid.Version(context.Background())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(v, "Grid engine") {
		t.Fatalf("version %q", v)
	}
}

func TestProviderNames(t *testing.T) {
	setup(t)
	ctx := context.Background()
	lf, err := grid.LoadFlowProviderNames(ctx)
	if err != nil {
		t.Fatalf("load flow providers: %v", err)
	}
	if len(lf) != 2 || lf[0] != "OpenLoadFlow" {
		t.Fatalf("providers %v", lf)
	}
	sec, err := grid.SecurityAnalysisProviderNames(ctx)
	if err != nil || len(sec) != 1 {
		t.Fatalf("security providers %v, %v", sec, err)
	}
	sens, err := grid.SensitivityAnalysisProviderNames(ctx)
	if err != nil || len(sens) != 1 {
		t.Fatalf("sensitivity providers %v, %v", sens, err)
	}
}

func TestNetworkLifecycle(t *testing.T) {
	fake := setup(t)
	ctx := context.Background()

	net, err := grid.CreateNetwork(ctx, "sim1", "sim1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !net.Valid() {
		t.Fatal("created network handle invalid")
	}

	meta, err := grid.NetworkMetadata(ctx, net)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["id"] != "sim1" {
		t.Fatalf("metadata %v", meta)
	}

	ids, err := grid.NetworkElementIDs(ctx, net, grid.ElementLine, []float64{380}, []string{"FR"})
	if err != nil {
		t.Fatalf("element ids: %v", err)
	}
	if len(ids) == 0 {
		t.Fatal("no element ids")
	}

	xml, err := grid.SaveNetworkToString(ctx, net, "XIIDM", map[string]string{"iidm.export.xml.indent": "true"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.Contains(xml, "sim1") {
		t.Fatalf("saved %q", xml)
	}

	if err := net.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if fake.LiveObjects() != 0 {
		t.Fatalf("%d objects live", fake.LiveObjects())
	}
	if fake.LiveAllocs() != 0 {
		t.Fatalf("%d allocations leaked", fake.LiveAllocs())
	}
}

func TestLoadNetworkDerivesIDFromFile(t *testing.T) {
	setup(t)
	ctx := context.Background()
	net, err := grid.LoadNetwork(ctx, "/tmp/eurostag.xiidm", map[string]string{"iidm.import.xml.throw": "false"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer net.Release(ctx)

	meta, err := grid.NetworkMetadata(ctx, net)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["id"] != "eurostag" {
		t.Fatalf("metadata %v", meta)
	}
}

func TestRunLoadFlowThreeComponents(t *testing.T) {
	fake := setup(t)
	fake.ComponentCount = 3
	ctx := context.Background()

	net, err := grid.CreateNetwork(ctx, "sim1", "sim1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer net.Release(ctx)

	results, err := grid.RunLoadFlow(ctx, net, false, nil, "OpenLoadFlow")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("%d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Status != grid.StatusConverged {
			t.Fatalf("component %d status %d", i, r.Status)
		}
		if r.SlackBusID == "" {
			t.Fatalf("component %d has no slack bus", i)
		}
	}
	if fake.LastProvider() != "OpenLoadFlow" {
		t.Fatalf("provider %q", fake.LastProvider())
	}
	if n := fake.FreeCount(engine.EntryFreeComponentResultArray); n != 1 {
		t.Fatalf("result array freed %d times, want 1", n)
	}
	if fake.LiveAllocs() != 0 {
		t.Fatalf("%d allocations leaked", fake.LiveAllocs())
	}
}

func TestRunLoadFlowEngineError(t *testing.T) {
	fake := setup(t)
	ctx := context.Background()
	net, err := grid.CreateNetwork(ctx, "sim1", "sim1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer net.Release(ctx)

	fake.FailNextCall(engine.EntryRunLoadFlow, "Load flow diverged on component 0")
	_, err = grid.RunLoadFlow(ctx, net, false, &params.LoadFlow{}, "OpenLoadFlow")
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindEngineReported {
		t.Fatalf("run: %v", err)
	}
	if e.Detail != "Load flow diverged on component 0" {
		t.Fatalf("message %q", e.Detail)
	}
	// Arguments and the parameter block must not leak on the error path.
	if fake.LiveAllocs() != 0 {
		t.Fatalf("%d allocations leaked", fake.LiveAllocs())
	}
}

func TestSecurityAnalysisScenario(t *testing.T) {
	fake := setup(t)
	ctx := context.Background()

	net, err := grid.CreateNetwork(ctx, "sim1", "sim1")
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	analysis, err := grid.NewSecurityAnalysis(ctx)
	if err != nil {
		t.Fatalf("create analysis: %v", err)
	}
	if err := grid.AddContingency(ctx, analysis, "N-1 line 1", []string{"NHV1_NHV2_1"}); err != nil {
		t.Fatalf("contingency 1: %v", err)
	}
	if err := grid.AddContingency(ctx, analysis, "N-1 line 2", []string{"NHV1_NHV2_2"}); err != nil {
		t.Fatalf("contingency 2: %v", err)
	}

	result, err := grid.RunSecurityAnalysis(ctx, analysis, net, nil, "OpenLoadFlow", false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	post, err := grid.PostContingencyResults(ctx, result)
	if err != nil {
		t.Fatalf("post-contingency: %v", err)
	}
	if len(post) != 2 {
		t.Fatalf("%d records, want 2", len(post))
	}
	if post[0].ContingencyID != "N-1 line 1" || len(post[0].Violations) != 1 {
		t.Fatalf("record %+v", post[0])
	}
	if post[0].Violations[0].SubjectID != "NHV1_NHV2_1" {
		t.Fatalf("violation %+v", post[0].Violations[0])
	}

	strategies, err := grid.OperatorStrategyResults(ctx, result)
	if err != nil {
		t.Fatalf("strategies: %v", err)
	}
	if len(strategies) != 2 || strategies[0].OperatorStrategyID != "strategy:N-1 line 1" {
		t.Fatalf("strategies %+v", strategies)
	}

	// The violation sub-arrays belong to the contingency result array;
	// only the two outer arrays are freed, one call each.
	if n := fake.FreeCount(engine.EntryFreeContingencyResultArray); n != 1 {
		t.Fatalf("contingency array freed %d times", n)
	}
	if n := fake.FreeCount(engine.EntryFreeOperatorStrategyResultArray); n != 1 {
		t.Fatalf("strategy array freed %d times", n)
	}

	for _, h := range []*isolate.Handle{result, analysis, net} {
		if err := h.Release(ctx); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
	if fake.LiveObjects() != 0 {
		t.Fatalf("%d objects live", fake.LiveObjects())
	}
	if fake.LiveAllocs() != 0 {
		t.Fatalf("%d allocations leaked", fake.LiveAllocs())
	}
}

func TestSensitivityAnalysisScenario(t *testing.T) {
	fake := setup(t)
	ctx := context.Background()

	net, err := grid.CreateNetwork(ctx, "sim1", "sim1")
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	analysis, err := grid.NewSensitivityAnalysis(ctx)
	if err != nil {
		t.Fatalf("create analysis: %v", err)
	}
	branches := []string{"NHV1_NHV2_1", "NHV1_NHV2_2"}
	variables := []string{"GEN", "LOAD", "GEN2"}
	if err := grid.AddFactorMatrix(ctx, analysis, "m1", branches, variables); err != nil {
		t.Fatalf("factor matrix: %v", err)
	}

	result, err := grid.RunSensitivityAnalysis(ctx, analysis, net, true, nil, "OpenLoadFlow")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !fake.LastDC() {
		t.Fatal("dc flag lost")
	}

	values, err := grid.SensitivityMatrix(ctx, result, "m1", "")
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	if len(values) != len(branches)*len(variables) {
		t.Fatalf("%d values, want %d", len(values), len(branches)*len(variables))
	}
	if values[0] != 0.05 {
		t.Fatalf("first value %v", values[0])
	}

	_, err = grid.SensitivityMatrix(ctx, result, "missing", "")
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindEngineReported {
		t.Fatalf("missing matrix: %v", err)
	}

	for _, h := range []*isolate.Handle{result, analysis, net} {
		if err := h.Release(ctx); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
	if fake.LiveObjects() != 0 {
		t.Fatalf("%d objects live", fake.LiveObjects())
	}
	if fake.LiveAllocs() != 0 {
		t.Fatalf("%d allocations leaked", fake.LiveAllocs())
	}
}

func TestShortCircuitAnalysisScenario(t *testing.T) {
	fake := setup(t)
	ctx := context.Background()

	providers, err := grid.ShortCircuitProviderNames(ctx)
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	if len(providers) != 1 || providers[0] != "ShortCircuitAnalysisToolbox" {
		t.Fatalf("providers %v", providers)
	}

	net, err := grid.CreateNetwork(ctx, "sim1", "sim1")
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	analysis, err := grid.NewShortCircuitAnalysis(ctx)
	if err != nil {
		t.Fatalf("create analysis: %v", err)
	}

	// A nil parameter set runs with the engine defaults, fetched and
	// freed through the parameter group's own entries.
	result, err := grid.RunShortCircuitAnalysis(ctx, analysis, net, nil, providers[0])
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := fake.LastShortCircuit(); got == nil || !got.WithFeederResult || got.StudyType != params.Transient {
		t.Fatalf("engine decoded %+v", got)
	}
	if fake.LastProvider() != "ShortCircuitAnalysisToolbox" {
		t.Fatalf("provider %q", fake.LastProvider())
	}
	if n := fake.FreeCount(engine.EntryFreeShortCircuitParameters); n != 1 {
		t.Fatalf("parameter block freed %d times, want 1", n)
	}

	for _, h := range []*isolate.Handle{result, analysis, net} {
		if err := h.Release(ctx); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
	if fake.LiveObjects() != 0 {
		t.Fatalf("%d objects live", fake.LiveObjects())
	}
	if fake.LiveAllocs() != 0 {
		t.Fatalf("%d allocations leaked", fake.LiveAllocs())
	}
}
