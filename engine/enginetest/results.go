package enginetest

import (
	"fmt"

	"github.com/voltmesh/gridlink/marshal"
	"github.com/voltmesh/gridlink/params"
)

// Argument decoding. Callers hold f.mu.

func (f *Fake) str(arg uint64) (string, error) {
	return marshal.ReadCString(f.mem, uint32(arg))
}

func (f *Fake) strings(tableArg, countArg uint64) ([]string, error) {
	if tableArg == 0 || countArg == 0 {
		return nil, nil
	}
	return marshal.ReadStrings(f.mem, uint32(tableArg), int32(uint32(countArg)))
}

func (f *Fake) f64s(ptrArg, countArg uint64) ([]float64, error) {
	ptr, n := uint32(ptrArg), int32(uint32(countArg))
	if ptr == 0 || n == 0 {
		return nil, nil
	}
	out := make([]float64, 0, n)
	for i := int32(0); i < n; i++ {
		v, err := f.mem.ReadF64(ptr + uint32(i)*8)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *Fake) stringMap(keysArg, valuesArg, countArg uint64) (map[string]string, error) {
	keys, err := f.strings(keysArg, countArg)
	if err != nil {
		return nil, err
	}
	values, err := f.strings(valuesArg, countArg)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for i, k := range keys {
		if i < len(values) {
			out[k] = values[i]
		}
	}
	return out, nil
}

// Object table.

func (f *Fake) newObject(v any) uint32 {
	f.nextObj++
	f.objects[f.nextObj] = v
	return f.nextObj
}

func (f *Fake) object(arg uint64, errPtr uint32) (any, bool) {
	v, ok := f.objects[uint32(arg)]
	if !ok {
		f.reportError(errPtr, fmt.Sprintf("unknown object handle %#x", uint32(arg)))
		return nil, false
	}
	return v, true
}

func (f *Fake) network(arg uint64, errPtr uint32) (*network, bool) {
	v, ok := f.object(arg, errPtr)
	if !ok {
		return nil, false
	}
	net, ok := v.(*network)
	if !ok {
		f.reportError(errPtr, "object is not a network")
		return nil, false
	}
	return net, true
}

// Engine-owned result builders.

func (f *Fake) stringResult(s string) []uint64 {
	ptr := f.alloc(uint32(len(s))+1, tagString, 0)
	if err := f.mem.Write(ptr, append([]byte(s), 0)); err != nil {
		panic(fmt.Sprintf("enginetest: bad string slot %#x: %v", ptr, err))
	}
	return []uint64{uint64(ptr)}
}

func (f *Fake) stringArrayResult(values []string) ([]uint64, error) {
	hdr, member := f.rootAlloc(marshal.ArrayHeaderSize, tagStringArray)
	table, err := marshal.WriteStrings(f.mem, member, values)
	if err != nil {
		return nil, err
	}
	if err := marshal.WriteArrayHeader(f.mem, hdr, marshal.ArrayHeader{Ptr: table, Len: int32(len(values))}); err != nil {
		return nil, err
	}
	return []uint64{uint64(hdr)}, nil
}

func (f *Fake) stringMapResult(m map[string]string) ([]uint64, error) {
	hdr, member := f.rootAlloc(marshal.StringMapHeaderSize, tagStringMap)
	ks, vs := marshal.SplitMap(m)
	keys, err := marshal.WriteStrings(f.mem, member, ks)
	if err != nil {
		return nil, err
	}
	values, err := marshal.WriteStrings(f.mem, member, vs)
	if err != nil {
		return nil, err
	}
	if err := f.mem.WriteU32(hdr, keys); err != nil {
		return nil, err
	}
	if err := f.mem.WriteU32(hdr+4, values); err != nil {
		return nil, err
	}
	if err := f.mem.WriteU32(hdr+8, uint32(len(ks))); err != nil {
		return nil, err
	}
	return []uint64{uint64(hdr)}, nil
}

func (f *Fake) componentResults() ([]uint64, error) {
	n := f.ComponentCount
	if n < 0 {
		n = 0
	}
	hdr, member := f.rootAlloc(marshal.ArrayHeaderSize, tagComponentResults)
	var recs uint32
	if n > 0 {
		var err error
		recs, err = member(uint32(n) * marshal.ComponentResultSize)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			r := marshal.ComponentResult{
				ConnectedComponentNum:       int32(i),
				SynchronousComponentNum:     int32(i),
				Status:                      0,
				IterationCount:              int32(3 + i),
				SlackBusID:                  fmt.Sprintf("VLHV1_%d", i),
				ReferenceBusID:              fmt.Sprintf("VLHV1_%d", i),
				SlackBusActivePowerMismatch: 0.5 * float64(i),
				DistributedActivePower:      1.5 * float64(i),
			}
			if err := marshal.StoreComponentResult(f.mem, member, recs+uint32(i)*marshal.ComponentResultSize, r); err != nil {
				return nil, err
			}
		}
	}
	if err := marshal.WriteArrayHeader(f.mem, hdr, marshal.ArrayHeader{Ptr: recs, Len: int32(n)}); err != nil {
		return nil, err
	}
	return []uint64{uint64(hdr)}, nil
}

func (f *Fake) contingencyResults(sr *securityResult) ([]uint64, error) {
	hdr, member := f.rootAlloc(marshal.ArrayHeaderSize, tagContingencyResults)
	n := len(sr.contingencies)
	var recs uint32
	if n > 0 {
		var err error
		recs, err = member(uint32(n) * marshal.PostContingencyResultSize)
		if err != nil {
			return nil, err
		}
		for i, c := range sr.contingencies {
			subject := "NHV1_NHV2_1"
			if len(c.elements) > 0 {
				subject = c.elements[0]
			}
			r := marshal.PostContingencyResult{
				ContingencyID: c.id,
				Status:        0,
				Violations: []marshal.LimitViolation{{
					SubjectID:          subject,
					LimitType:          1,
					Limit:              500,
					Value:              600,
					AcceptableDuration: 600,
				}},
			}
			if err := marshal.StorePostContingencyResult(f.mem, member, recs+uint32(i)*marshal.PostContingencyResultSize, r); err != nil {
				return nil, err
			}
		}
	}
	if err := marshal.WriteArrayHeader(f.mem, hdr, marshal.ArrayHeader{Ptr: recs, Len: int32(n)}); err != nil {
		return nil, err
	}
	return []uint64{uint64(hdr)}, nil
}

func (f *Fake) strategyResults(sr *securityResult) ([]uint64, error) {
	hdr, member := f.rootAlloc(marshal.ArrayHeaderSize, tagStrategyResults)
	n := len(sr.contingencies)
	var recs uint32
	if n > 0 {
		var err error
		recs, err = member(uint32(n) * marshal.OperatorStrategyResultSize)
		if err != nil {
			return nil, err
		}
		for i, c := range sr.contingencies {
			r := marshal.OperatorStrategyResult{
				OperatorStrategyID: "strategy:" + c.id,
				Status:             0,
			}
			if err := marshal.StoreOperatorStrategyResult(f.mem, member, recs+uint32(i)*marshal.OperatorStrategyResultSize, r); err != nil {
				return nil, err
			}
		}
	}
	if err := marshal.WriteArrayHeader(f.mem, hdr, marshal.ArrayHeader{Ptr: recs, Len: int32(n)}); err != nil {
		return nil, err
	}
	return []uint64{uint64(hdr)}, nil
}

func (f *Fake) sensitivityMatrix(fm factorMatrix) ([]uint64, error) {
	rows, cols := len(fm.branches), len(fm.variables)
	values := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			values = append(values, 0.05*float64((i+1)*(j+1)))
		}
	}
	hdr, member := f.rootAlloc(marshal.ArrayHeaderSize, tagF64Array)
	ptr, err := marshal.WriteF64s(f.mem, member, values)
	if err != nil {
		return nil, err
	}
	if err := marshal.WriteArrayHeader(f.mem, hdr, marshal.ArrayHeader{Ptr: ptr, Len: int32(len(values))}); err != nil {
		return nil, err
	}
	return []uint64{uint64(hdr)}, nil
}

// Engine defaults handed out by the create_*_parameters entries.

func defaultLoadFlow() *params.LoadFlow {
	return &params.LoadFlow{
		VoltageInitMode:        params.UniformValues,
		UseReactiveLimits:      true,
		DistributedSlack:       true,
		BalanceType:            params.ProportionalToGenerationPMax,
		DCUseTransformerRatio:  true,
		ConnectedComponentMode: params.MainComponent,
		ProviderParameters:     map[string]string{},
	}
}

func defaultSecurity() *params.Security {
	return &params.Security{
		LoadFlow:                  *defaultLoadFlow(),
		FlowProportionalThreshold: 0.1,
		ProviderParameters:        map[string]string{},
	}
}

func defaultSensitivity() *params.Sensitivity {
	return &params.Sensitivity{
		LoadFlow:           *defaultLoadFlow(),
		ProviderParameters: map[string]string{},
	}
}

func defaultShortCircuit() *params.ShortCircuit {
	return &params.ShortCircuit{
		WithFeederResult:    true,
		WithLimitViolations: true,
		StudyType:           params.Transient,
		ProviderParameters:  map[string]string{},
	}
}

func defaultFlowDecomposition() *params.FlowDecomposition {
	return &params.FlowDecomposition{
		DCFallbackEnabledAfterACDivergence: true,
		SensitivityVariableBatchSize:       15000,
		LossesCompensationEpsilon:          1e-5,
		SensitivityEpsilon:                 1e-5,
	}
}

func defaultSld() *params.Sld {
	return &params.Sld{
		TopologicalColoring: true,
		ComponentLibrary:    "Convergence",
	}
}
