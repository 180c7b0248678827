package enginetest

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/params"
)

// Invoke dispatches one entry point the way the wasm engine would:
// allocator and attachment entries are raw, everything else follows the
// (token, args..., errPtr) protocol.
func (f *Fake) Invoke(ctx context.Context, entry string, args []uint64) ([]uint64, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, fmt.Errorf("engine is closed")
	}
	f.mu.Unlock()

	switch entry {
	case engine.EntryAttachThread:
		f.mu.Lock()
		defer f.mu.Unlock()
		f.nextToken++
		f.tokens[f.nextToken] = true
		f.attachCount++
		return []uint64{f.nextToken}, nil

	case engine.EntryDetachThread:
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(args) != 1 || !f.tokens[args[0]] {
			return nil, fmt.Errorf("detach of unknown token")
		}
		delete(f.tokens, args[0])
		f.detachCount++
		return nil, nil

	case engine.EntryAlloc:
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(args) != 1 {
			return nil, fmt.Errorf("engine_alloc wants 1 arg, got %d", len(args))
		}
		return []uint64{uint64(f.alloc(uint32(args[0]), tagHost, 0))}, nil

	case engine.EntryFree:
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(args) != 1 {
			return nil, fmt.Errorf("engine_free wants 1 arg, got %d", len(args))
		}
		return nil, f.freeGroup(uint32(args[0]), tagHost)
	}

	if len(args) < 2 {
		return nil, fmt.Errorf("entry %s missing token or error slot", entry)
	}
	token := args[0]
	errPtr := uint32(args[len(args)-1])
	mid := args[1 : len(args)-1]

	if f.OnEntry != nil && domainEntry(entry) {
		f.OnEntry(ctx, entry)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.tokens[token] {
		return nil, fmt.Errorf("entry %s invoked with unattached token %d", entry, token)
	}
	f.callLog = append(f.callLog, entry)

	if msg, ok := f.notifyNext[entry]; ok {
		delete(f.notifyNext, entry)
		if f.notify != nil {
			if err := f.notify(msg); err != nil {
				if cs := engine.CallStateFrom(ctx); cs != nil {
					cs.SetHostError(err)
				}
			}
		}
	}
	if msg, ok := f.failNext[entry]; ok {
		delete(f.failNext, entry)
		f.reportError(errPtr, msg)
		return []uint64{0}, nil
	}

	return f.dispatch(entry, mid, errPtr)
}

func domainEntry(entry string) bool {
	switch entry {
	case engine.EntrySetLogLevel, engine.EntryDestroyObjectHandle:
		return false
	}
	if _, ok := freeTags[entry]; ok {
		return false
	}
	return true
}

// reportError sets the error signal: an engine-owned message the host
// must copy and free through free_string.
func (f *Fake) reportError(errPtr uint32, msg string) {
	ptr := f.alloc(uint32(len(msg))+1, tagString, 0)
	if err := f.mem.Write(ptr, append([]byte(msg), 0)); err != nil {
		panic(fmt.Sprintf("enginetest: bad message slot %#x: %v", ptr, err))
	}
	if err := f.mem.WriteU32(errPtr, ptr); err != nil {
		panic(fmt.Sprintf("enginetest: bad error slot %#x: %v", errPtr, err))
	}
}

func (f *Fake) dispatch(entry string, mid []uint64, errPtr uint32) ([]uint64, error) {
	if tag, ok := freeTags[entry]; ok {
		if len(mid) != 1 {
			return nil, fmt.Errorf("%s wants 1 arg, got %d", entry, len(mid))
		}
		if err := f.freeGroup(uint32(mid[0]), tag); err != nil {
			f.reportError(errPtr, err.Error())
			return nil, nil
		}
		f.freeCount[entry]++
		return nil, nil
	}

	switch entry {
	case engine.EntrySetLogLevel:
		f.logLevel = int32(uint32(mid[0]))
		return nil, nil

	case engine.EntryDestroyObjectHandle:
		ptr := uint32(mid[0])
		if _, ok := f.objects[ptr]; !ok {
			f.reportError(errPtr, fmt.Sprintf("unknown object handle %#x", ptr))
			return nil, nil
		}
		delete(f.objects, ptr)
		return nil, nil

	case engine.EntryGetVersionTable:
		return f.stringResult("Grid engine v1.0\nOpenLoadFlow 1.8.0\n"), nil

	case engine.EntryGetLoadFlowProviderNames:
		return f.stringArrayResult([]string{"OpenLoadFlow", "DynaFlow"})

	case engine.EntryGetSecurityProviderNames:
		return f.stringArrayResult([]string{"OpenLoadFlow"})

	case engine.EntryGetSensitivityProviderNames:
		return f.stringArrayResult([]string{"OpenLoadFlow"})

	case engine.EntryGetShortCircuitProviderNames:
		return f.stringArrayResult([]string{"ShortCircuitAnalysisToolbox"})

	case engine.EntryCreateNetwork:
		name, err := f.str(mid[0])
		if err != nil {
			return nil, err
		}
		id, err := f.str(mid[1])
		if err != nil {
			return nil, err
		}
		return []uint64{uint64(f.newObject(&network{
			name:     name,
			id:       id,
			elements: []string{"GEN", "LOAD", "NHV1_NHV2_1", "NHV1_NHV2_2"},
		}))}, nil

	case engine.EntryLoadNetwork:
		file, err := f.str(mid[0])
		if err != nil {
			return nil, err
		}
		if _, err := f.stringMap(mid[1], mid[2], mid[3]); err != nil {
			return nil, err
		}
		base := strings.TrimSuffix(path.Base(file), path.Ext(file))
		return []uint64{uint64(f.newObject(&network{
			name:     base,
			id:       base,
			elements: []string{"GEN", "LOAD", "NHV1_NHV2_1", "NHV1_NHV2_2"},
		}))}, nil

	case engine.EntrySaveNetworkToString:
		net, ok := f.network(mid[0], errPtr)
		if !ok {
			return []uint64{0}, nil
		}
		format, err := f.str(mid[1])
		if err != nil {
			return nil, err
		}
		if _, err := f.stringMap(mid[2], mid[3], mid[4]); err != nil {
			return nil, err
		}
		return f.stringResult(fmt.Sprintf("<network id=%q format=%q/>", net.id, format)), nil

	case engine.EntryGetNetworkElementIDs:
		net, ok := f.network(mid[0], errPtr)
		if !ok {
			return []uint64{0}, nil
		}
		// Filters are accepted and decoded; the canned network is small
		// enough that filtering adds nothing to what tests can assert.
		if _, err := f.f64s(mid[1], mid[2]); err != nil {
			return nil, err
		}
		if _, err := f.strings(mid[3], mid[4]); err != nil {
			return nil, err
		}
		return f.stringArrayResult(net.elements)

	case engine.EntryGetNetworkMetadata:
		net, ok := f.network(mid[0], errPtr)
		if !ok {
			return []uint64{0}, nil
		}
		return f.stringMapResult(map[string]string{
			"id":     net.id,
			"name":   net.name,
			"format": "XIIDM",
		})

	case engine.EntryCreateLoadFlowParameters:
		base, member := f.rootAlloc(params.LoadFlowSize, tagLoadFlowParams)
		if err := defaultLoadFlow().Store(f.mem, member, base); err != nil {
			return nil, err
		}
		return []uint64{uint64(base)}, nil

	case engine.EntryCreateSecurityParameters:
		base, member := f.rootAlloc(params.SecuritySize, tagSecurityParams)
		if err := defaultSecurity().Store(f.mem, member, base); err != nil {
			return nil, err
		}
		return []uint64{uint64(base)}, nil

	case engine.EntryCreateSensitivityParameters:
		base, member := f.rootAlloc(params.SensitivitySize, tagSensitivityParams)
		if err := defaultSensitivity().Store(f.mem, member, base); err != nil {
			return nil, err
		}
		return []uint64{uint64(base)}, nil

	case engine.EntryCreateShortCircuitParameters:
		base, member := f.rootAlloc(params.ShortCircuitSize, tagShortCircuitParams)
		if err := defaultShortCircuit().Store(f.mem, member, base); err != nil {
			return nil, err
		}
		return []uint64{uint64(base)}, nil

	case engine.EntryCreateFlowDecompositionParameters:
		base, member := f.rootAlloc(params.FlowDecompositionSize, tagFlowDecompParams)
		if err := defaultFlowDecomposition().Store(f.mem, member, base); err != nil {
			return nil, err
		}
		return []uint64{uint64(base)}, nil

	case engine.EntryCreateSldParameters:
		base, member := f.rootAlloc(params.SldSize, tagSldParams)
		if err := defaultSld().Store(f.mem, member, base); err != nil {
			return nil, err
		}
		return []uint64{uint64(base)}, nil

	case engine.EntryRunLoadFlow:
		if _, ok := f.network(mid[0], errPtr); !ok {
			return []uint64{0}, nil
		}
		p, err := params.ReadLoadFlow(f.mem, uint32(mid[2]))
		if err != nil {
			return nil, err
		}
		provider, err := f.str(mid[3])
		if err != nil {
			return nil, err
		}
		f.lastLoadFlow = p
		f.lastProvider = provider
		f.lastDC = mid[1] != 0
		return f.componentResults()

	case engine.EntryCreateSecurityAnalysis:
		return []uint64{uint64(f.newObject(&securityAnalysis{}))}, nil

	case engine.EntryAddContingency:
		sa, ok := f.object(mid[0], errPtr)
		if !ok {
			return nil, nil
		}
		analysis, ok := sa.(*securityAnalysis)
		if !ok {
			f.reportError(errPtr, "object is not a security analysis")
			return nil, nil
		}
		id, err := f.str(mid[1])
		if err != nil {
			return nil, err
		}
		elements, err := f.strings(mid[2], mid[3])
		if err != nil {
			return nil, err
		}
		analysis.contingencies = append(analysis.contingencies, contingency{id: id, elements: elements})
		return nil, nil

	case engine.EntryRunSecurityAnalysis:
		sa, ok := f.object(mid[0], errPtr)
		if !ok {
			return []uint64{0}, nil
		}
		analysis, ok := sa.(*securityAnalysis)
		if !ok {
			f.reportError(errPtr, "object is not a security analysis")
			return []uint64{0}, nil
		}
		if _, ok := f.network(mid[1], errPtr); !ok {
			return []uint64{0}, nil
		}
		p, err := params.ReadSecurity(f.mem, uint32(mid[2]))
		if err != nil {
			return nil, err
		}
		provider, err := f.str(mid[3])
		if err != nil {
			return nil, err
		}
		f.lastSecurity = p
		f.lastProvider = provider
		f.lastDC = mid[4] != 0
		return []uint64{uint64(f.newObject(&securityResult{contingencies: analysis.contingencies}))}, nil

	case engine.EntryGetPostContingencyResults:
		res, ok := f.object(mid[0], errPtr)
		if !ok {
			return []uint64{0}, nil
		}
		sr, ok := res.(*securityResult)
		if !ok {
			f.reportError(errPtr, "object is not a security analysis result")
			return []uint64{0}, nil
		}
		return f.contingencyResults(sr)

	case engine.EntryGetOperatorStrategyResults:
		res, ok := f.object(mid[0], errPtr)
		if !ok {
			return []uint64{0}, nil
		}
		sr, ok := res.(*securityResult)
		if !ok {
			f.reportError(errPtr, "object is not a security analysis result")
			return []uint64{0}, nil
		}
		return f.strategyResults(sr)

	case engine.EntryCreateSensitivityAnalysis:
		return []uint64{uint64(f.newObject(&sensitivityAnalysis{}))}, nil

	case engine.EntryAddFactorMatrix:
		sa, ok := f.object(mid[0], errPtr)
		if !ok {
			return nil, nil
		}
		analysis, ok := sa.(*sensitivityAnalysis)
		if !ok {
			f.reportError(errPtr, "object is not a sensitivity analysis")
			return nil, nil
		}
		id, err := f.str(mid[1])
		if err != nil {
			return nil, err
		}
		branches, err := f.strings(mid[2], mid[3])
		if err != nil {
			return nil, err
		}
		variables, err := f.strings(mid[4], mid[5])
		if err != nil {
			return nil, err
		}
		analysis.factors = append(analysis.factors, factorMatrix{id: id, branches: branches, variables: variables})
		return nil, nil

	case engine.EntryRunSensitivityAnalysis:
		sa, ok := f.object(mid[0], errPtr)
		if !ok {
			return []uint64{0}, nil
		}
		analysis, ok := sa.(*sensitivityAnalysis)
		if !ok {
			f.reportError(errPtr, "object is not a sensitivity analysis")
			return []uint64{0}, nil
		}
		if _, ok := f.network(mid[1], errPtr); !ok {
			return []uint64{0}, nil
		}
		p, err := params.ReadSensitivity(f.mem, uint32(mid[3]))
		if err != nil {
			return nil, err
		}
		provider, err := f.str(mid[4])
		if err != nil {
			return nil, err
		}
		f.lastSensitivity = p
		f.lastProvider = provider
		f.lastDC = mid[2] != 0
		return []uint64{uint64(f.newObject(&sensitivityResult{factors: analysis.factors}))}, nil

	case engine.EntryCreateShortCircuitAnalysis:
		return []uint64{uint64(f.newObject(&shortCircuitAnalysis{}))}, nil

	case engine.EntryRunShortCircuitAnalysis:
		sa, ok := f.object(mid[0], errPtr)
		if !ok {
			return []uint64{0}, nil
		}
		if _, ok := sa.(*shortCircuitAnalysis); !ok {
			f.reportError(errPtr, "object is not a short circuit analysis")
			return []uint64{0}, nil
		}
		if _, ok := f.network(mid[1], errPtr); !ok {
			return []uint64{0}, nil
		}
		p, err := params.ReadShortCircuit(f.mem, uint32(mid[2]))
		if err != nil {
			return nil, err
		}
		provider, err := f.str(mid[3])
		if err != nil {
			return nil, err
		}
		f.lastShortCircuit = p
		f.lastProvider = provider
		return []uint64{uint64(f.newObject(&shortCircuitResult{}))}, nil

	case engine.EntryGetSensitivityMatrix:
		res, ok := f.object(mid[0], errPtr)
		if !ok {
			return []uint64{0}, nil
		}
		sr, ok := res.(*sensitivityResult)
		if !ok {
			f.reportError(errPtr, "object is not a sensitivity analysis result")
			return []uint64{0}, nil
		}
		matrixID, err := f.str(mid[1])
		if err != nil {
			return nil, err
		}
		if _, err := f.str(mid[2]); err != nil {
			return nil, err
		}
		for _, fm := range sr.factors {
			if fm.id == matrixID {
				return f.sensitivityMatrix(fm)
			}
		}
		f.reportError(errPtr, fmt.Sprintf("no factor matrix %q", matrixID))
		return []uint64{0}, nil
	}

	return nil, fmt.Errorf("entry %s not implemented", entry)
}
