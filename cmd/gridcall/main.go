package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/grid"
	"github.com/voltmesh/gridlink/isolate"
)

func main() {
	var (
		moduleFile  = flag.String("module", "", "Path to engine wasm module")
		op          = flag.String("op", "version", "Operation: version|providers|loadflow|security|sensitivity|save|elements")
		networkFile = flag.String("network", "", "Network file to load (a demo network is created when omitted)")
		provider    = flag.String("provider", "OpenLoadFlow", "Computation provider name")
		dc          = flag.Bool("dc", false, "Use DC approximation")
		contingStr  = flag.String("contingencies", "", "Contingencies (id:elem|elem,id2:elem)")
		branchStr   = flag.String("branches", "", "Branch ids for sensitivity factors (comma-separated)")
		variableStr = flag.String("variables", "", "Variable ids for sensitivity factors (comma-separated)")
		format      = flag.String("format", "XIIDM", "Export format for -op save")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *moduleFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: gridcall -module <engine.wasm> [-op name] [-network file.xiidm]")
		fmt.Fprintln(os.Stderr, "       gridcall -module <engine.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		engine.SetLogger(logger)
	}

	if *interactive {
		if err := runInteractive(*moduleFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*moduleFile, *op, *networkFile, *provider, *format, *contingStr, *branchStr, *variableStr, *dc); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(moduleFile, op, networkFile, provider, format, contingStr, branchStr, variableStr string, dc bool) error {
	ctx := context.Background()

	data, err := os.ReadFile(moduleFile)
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}
	if err := isolate.Init(ctx, isolate.Config{Module: data}); err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	defer func() {
		if err := isolate.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()

	switch op {
	case "version":
		v, err := grid.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Print(v)
		return nil

	case "providers":
		for _, kind := range []struct {
			label string
			query func(context.Context) ([]string, error)
		}{
			{"load flow", grid.LoadFlowProviderNames},
			{"security analysis", grid.SecurityAnalysisProviderNames},
			{"sensitivity analysis", grid.SensitivityAnalysisProviderNames},
		} {
			names, err := kind.query(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", kind.label, strings.Join(names, ", "))
		}
		return nil
	}

	net, err := openNetwork(ctx, networkFile)
	if err != nil {
		return err
	}
	defer net.Release(ctx)

	switch op {
	case "loadflow":
		results, err := grid.RunLoadFlow(ctx, net, dc, nil, provider)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("component %d: status=%d iterations=%d slack=%s mismatch=%.4f\n",
				r.ConnectedComponentNum, r.Status, r.IterationCount, r.SlackBusID, r.SlackBusActivePowerMismatch)
		}
		return nil

	case "security":
		return runSecurity(ctx, net, provider, contingStr, dc)

	case "sensitivity":
		return runSensitivity(ctx, net, provider, branchStr, variableStr, dc)

	case "save":
		xml, err := grid.SaveNetworkToString(ctx, net, format, nil)
		if err != nil {
			return err
		}
		fmt.Print(xml)
		return nil

	case "elements":
		ids, err := grid.NetworkElementIDs(ctx, net, grid.ElementLine, nil, nil)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	}

	return fmt.Errorf("unknown operation %q", op)
}

func openNetwork(ctx context.Context, networkFile string) (*isolate.Handle, error) {
	if networkFile == "" {
		return grid.CreateNetwork(ctx, "demo", "demo")
	}
	return grid.LoadNetwork(ctx, networkFile, nil)
}

func runSecurity(ctx context.Context, net *isolate.Handle, provider, contingStr string, dc bool) error {
	analysis, err := grid.NewSecurityAnalysis(ctx)
	if err != nil {
		return err
	}
	defer analysis.Release(ctx)

	for _, spec := range splitList(contingStr) {
		id, elems, ok := strings.Cut(spec, ":")
		if !ok {
			return fmt.Errorf("bad contingency %q, want id:elem|elem", spec)
		}
		if err := grid.AddContingency(ctx, analysis, id, strings.Split(elems, "|")); err != nil {
			return err
		}
	}

	result, err := grid.RunSecurityAnalysis(ctx, analysis, net, nil, provider, dc)
	if err != nil {
		return err
	}
	defer result.Release(ctx)

	post, err := grid.PostContingencyResults(ctx, result)
	if err != nil {
		return err
	}
	for _, r := range post {
		fmt.Printf("%s: status=%d\n", r.ContingencyID, r.Status)
		for _, v := range r.Violations {
			fmt.Printf("  %s: %.1f > %.1f (limit type %d)\n", v.SubjectID, v.Value, v.Limit, v.LimitType)
		}
	}
	return nil
}

func runSensitivity(ctx context.Context, net *isolate.Handle, provider, branchStr, variableStr string, dc bool) error {
	branches := splitList(branchStr)
	variables := splitList(variableStr)
	if len(branches) == 0 || len(variables) == 0 {
		return fmt.Errorf("sensitivity needs -branches and -variables")
	}

	analysis, err := grid.NewSensitivityAnalysis(ctx)
	if err != nil {
		return err
	}
	defer analysis.Release(ctx)

	if err := grid.AddFactorMatrix(ctx, analysis, "m", branches, variables); err != nil {
		return err
	}
	result, err := grid.RunSensitivityAnalysis(ctx, analysis, net, dc, nil, provider)
	if err != nil {
		return err
	}
	defer result.Release(ctx)

	values, err := grid.SensitivityMatrix(ctx, result, "m", "")
	if err != nil {
		return err
	}
	for i, branch := range branches {
		row := make([]string, len(variables))
		for j := range variables {
			row[j] = fmt.Sprintf("%8.4f", values[i*len(variables)+j])
		}
		fmt.Printf("%-16s %s\n", branch, strings.Join(row, " "))
	}
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
