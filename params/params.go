package params

import (
	gridlink "github.com/voltmesh/gridlink"
	"github.com/voltmesh/gridlink/marshal"
)

// Enumerations mirror the engine's numeric encodings.

type VoltageInitMode int32

const (
	UniformValues  VoltageInitMode = 0
	PreviousValues VoltageInitMode = 1
	DCValues       VoltageInitMode = 2
)

type BalanceType int32

const (
	ProportionalToGenerationP    BalanceType = 0
	ProportionalToGenerationPMax BalanceType = 1
	ProportionalToLoad           BalanceType = 2
	ProportionalToConformLoad    BalanceType = 3
)

type ConnectedComponentMode int32

const (
	MainComponent ConnectedComponentMode = 0
	AllComponents ConnectedComponentMode = 1
)

type ShortCircuitStudyType int32

const (
	SubTransient ShortCircuitStudyType = 0
	Transient    ShortCircuitStudyType = 1
	SteadyState  ShortCircuitStudyType = 2
)

// Block sizes of the flat parameter structs in engine memory.
const (
	LoadFlowSize          = 48
	SecuritySize          = 104
	SensitivitySize       = 64
	ShortCircuitSize      = 32
	FlowDecompositionSize = 24
	SldSize               = 12
)

// LoadFlow is the host-side image of the engine's load flow parameter
// block. Variable-length members (countries, provider parameters) are
// stored behind pointers in the block; the flat fields live inline.
type LoadFlow struct {
	VoltageInitMode                  VoltageInitMode
	TransformerVoltageControlOn      bool
	UseReactiveLimits                bool
	PhaseShifterRegulationOn         bool
	TwtSplitShuntAdmittance          bool
	ShuntCompensatorVoltageControlOn bool
	ReadSlackBus                     bool
	WriteSlackBus                    bool
	DistributedSlack                 bool
	BalanceType                      BalanceType
	DCUseTransformerRatio            bool
	ConnectedComponentMode           ConnectedComponentMode
	CountriesToBalance               []string
	ProviderParameters               map[string]string
}

// ReadLoadFlow decodes a load flow block at base, whoever allocated it.
func ReadLoadFlow(mem gridlink.Memory, base uint32) (*LoadFlow, error) {
	p := &LoadFlow{}
	var err error
	if p.VoltageInitMode, err = readEnum[VoltageInitMode](mem, base+0); err != nil {
		return nil, err
	}
	flags := []struct {
		off uint32
		dst *bool
	}{
		{4, &p.TransformerVoltageControlOn},
		{5, &p.UseReactiveLimits},
		{6, &p.PhaseShifterRegulationOn},
		{7, &p.TwtSplitShuntAdmittance},
		{8, &p.ShuntCompensatorVoltageControlOn},
		{9, &p.ReadSlackBus},
		{10, &p.WriteSlackBus},
		{11, &p.DistributedSlack},
		{16, &p.DCUseTransformerRatio},
	}
	for _, f := range flags {
		if *f.dst, err = readBool(mem, base+f.off); err != nil {
			return nil, err
		}
	}
	if p.BalanceType, err = readEnum[BalanceType](mem, base+12); err != nil {
		return nil, err
	}
	if p.ConnectedComponentMode, err = readEnum[ConnectedComponentMode](mem, base+20); err != nil {
		return nil, err
	}
	if p.CountriesToBalance, err = readStringTable(mem, base+24, base+28); err != nil {
		return nil, err
	}
	if p.ProviderParameters, err = readProviderParameters(mem, base+32); err != nil {
		return nil, err
	}
	return p, nil
}

// Store encodes p into a block at base. Variable-length members are
// written through alloc, so the caller decides (and tracks) ownership.
func (p *LoadFlow) Store(mem gridlink.Memory, alloc marshal.Alloc, base uint32) error {
	if err := mem.WriteU32(base+0, uint32(p.VoltageInitMode)); err != nil {
		return err
	}
	flags := []struct {
		off uint32
		val bool
	}{
		{4, p.TransformerVoltageControlOn},
		{5, p.UseReactiveLimits},
		{6, p.PhaseShifterRegulationOn},
		{7, p.TwtSplitShuntAdmittance},
		{8, p.ShuntCompensatorVoltageControlOn},
		{9, p.ReadSlackBus},
		{10, p.WriteSlackBus},
		{11, p.DistributedSlack},
		{16, p.DCUseTransformerRatio},
	}
	for _, f := range flags {
		if err := mem.WriteU8(base+f.off, boolByte(f.val)); err != nil {
			return err
		}
	}
	if err := mem.WriteU32(base+12, uint32(p.BalanceType)); err != nil {
		return err
	}
	if err := mem.WriteU32(base+20, uint32(p.ConnectedComponentMode)); err != nil {
		return err
	}
	if err := storeStringTable(mem, alloc, base+24, base+28, p.CountriesToBalance); err != nil {
		return err
	}
	return storeProviderParameters(mem, alloc, base+32, p.ProviderParameters)
}

// Security is the security analysis parameter block: the embedded load
// flow block followed by violation thresholds and its own provider
// parameters.
type Security struct {
	LoadFlow                         LoadFlow
	FlowProportionalThreshold        float64
	LowVoltageProportionalThreshold  float64
	LowVoltageAbsoluteThreshold      float64
	HighVoltageProportionalThreshold float64
	HighVoltageAbsoluteThreshold     float64
	ProviderParameters               map[string]string
}

// ReadSecurity decodes a security analysis block at base.
func ReadSecurity(mem gridlink.Memory, base uint32) (*Security, error) {
	lf, err := ReadLoadFlow(mem, base)
	if err != nil {
		return nil, err
	}
	p := &Security{LoadFlow: *lf}
	thresholds := []struct {
		off uint32
		dst *float64
	}{
		{48, &p.FlowProportionalThreshold},
		{56, &p.LowVoltageProportionalThreshold},
		{64, &p.LowVoltageAbsoluteThreshold},
		{72, &p.HighVoltageProportionalThreshold},
		{80, &p.HighVoltageAbsoluteThreshold},
	}
	for _, t := range thresholds {
		if *t.dst, err = mem.ReadF64(base + t.off); err != nil {
			return nil, err
		}
	}
	if p.ProviderParameters, err = readProviderParameters(mem, base+88); err != nil {
		return nil, err
	}
	return p, nil
}

// Store encodes p into a block at base.
func (p *Security) Store(mem gridlink.Memory, alloc marshal.Alloc, base uint32) error {
	if err := p.LoadFlow.Store(mem, alloc, base); err != nil {
		return err
	}
	thresholds := []struct {
		off uint32
		val float64
	}{
		{48, p.FlowProportionalThreshold},
		{56, p.LowVoltageProportionalThreshold},
		{64, p.LowVoltageAbsoluteThreshold},
		{72, p.HighVoltageProportionalThreshold},
		{80, p.HighVoltageAbsoluteThreshold},
	}
	for _, t := range thresholds {
		if err := mem.WriteF64(base+t.off, t.val); err != nil {
			return err
		}
	}
	return storeProviderParameters(mem, alloc, base+88, p.ProviderParameters)
}

// Sensitivity is the sensitivity analysis parameter block.
type Sensitivity struct {
	LoadFlow           LoadFlow
	ProviderParameters map[string]string
}

// ReadSensitivity decodes a sensitivity analysis block at base.
func ReadSensitivity(mem gridlink.Memory, base uint32) (*Sensitivity, error) {
	lf, err := ReadLoadFlow(mem, base)
	if err != nil {
		return nil, err
	}
	pp, err := readProviderParameters(mem, base+48)
	if err != nil {
		return nil, err
	}
	return &Sensitivity{LoadFlow: *lf, ProviderParameters: pp}, nil
}

// Store encodes p into a block at base.
func (p *Sensitivity) Store(mem gridlink.Memory, alloc marshal.Alloc, base uint32) error {
	if err := p.LoadFlow.Store(mem, alloc, base); err != nil {
		return err
	}
	return storeProviderParameters(mem, alloc, base+48, p.ProviderParameters)
}

// ShortCircuit is the short circuit analysis parameter block.
type ShortCircuit struct {
	WithVoltageResult                   bool
	WithFeederResult                    bool
	WithLimitViolations                 bool
	WithFortescueResult                 bool
	StudyType                           ShortCircuitStudyType
	MinVoltageDropProportionalThreshold float64
	ProviderParameters                  map[string]string
}

// ReadShortCircuit decodes a short circuit analysis block at base.
func ReadShortCircuit(mem gridlink.Memory, base uint32) (*ShortCircuit, error) {
	p := &ShortCircuit{}
	var err error
	flags := []struct {
		off uint32
		dst *bool
	}{
		{0, &p.WithVoltageResult},
		{1, &p.WithFeederResult},
		{2, &p.WithLimitViolations},
		{3, &p.WithFortescueResult},
	}
	for _, f := range flags {
		if *f.dst, err = readBool(mem, base+f.off); err != nil {
			return nil, err
		}
	}
	if p.StudyType, err = readEnum[ShortCircuitStudyType](mem, base+4); err != nil {
		return nil, err
	}
	if p.MinVoltageDropProportionalThreshold, err = mem.ReadF64(base + 8); err != nil {
		return nil, err
	}
	if p.ProviderParameters, err = readProviderParameters(mem, base+16); err != nil {
		return nil, err
	}
	return p, nil
}

// Store encodes p into a block at base.
func (p *ShortCircuit) Store(mem gridlink.Memory, alloc marshal.Alloc, base uint32) error {
	flags := []struct {
		off uint32
		val bool
	}{
		{0, p.WithVoltageResult},
		{1, p.WithFeederResult},
		{2, p.WithLimitViolations},
		{3, p.WithFortescueResult},
	}
	for _, f := range flags {
		if err := mem.WriteU8(base+f.off, boolByte(f.val)); err != nil {
			return err
		}
	}
	if err := mem.WriteU32(base+4, uint32(p.StudyType)); err != nil {
		return err
	}
	if err := mem.WriteF64(base+8, p.MinVoltageDropProportionalThreshold); err != nil {
		return err
	}
	return storeProviderParameters(mem, alloc, base+16, p.ProviderParameters)
}

// FlowDecomposition is the flow decomposition parameter block. All
// members are flat.
type FlowDecomposition struct {
	EnableLossesCompensation           bool
	RescaleEnabled                     bool
	DCFallbackEnabledAfterACDivergence bool
	SensitivityVariableBatchSize       int32
	LossesCompensationEpsilon          float64
	SensitivityEpsilon                 float64
}

// ReadFlowDecomposition decodes a flow decomposition block at base.
func ReadFlowDecomposition(mem gridlink.Memory, base uint32) (*FlowDecomposition, error) {
	p := &FlowDecomposition{}
	var err error
	bools := []struct {
		off uint32
		dst *bool
	}{
		{0, &p.EnableLossesCompensation},
		{1, &p.RescaleEnabled},
		{2, &p.DCFallbackEnabledAfterACDivergence},
	}
	for _, b := range bools {
		if *b.dst, err = readBool(mem, base+b.off); err != nil {
			return nil, err
		}
	}
	batch, err := mem.ReadU32(base + 4)
	if err != nil {
		return nil, err
	}
	p.SensitivityVariableBatchSize = int32(batch)
	if p.LossesCompensationEpsilon, err = mem.ReadF64(base + 8); err != nil {
		return nil, err
	}
	if p.SensitivityEpsilon, err = mem.ReadF64(base + 16); err != nil {
		return nil, err
	}
	return p, nil
}

// Store encodes p into a block at base.
func (p *FlowDecomposition) Store(mem gridlink.Memory, alloc marshal.Alloc, base uint32) error {
	bools := []struct {
		off uint32
		val bool
	}{
		{0, p.EnableLossesCompensation},
		{1, p.RescaleEnabled},
		{2, p.DCFallbackEnabledAfterACDivergence},
	}
	for _, b := range bools {
		if err := mem.WriteU8(base+b.off, boolByte(b.val)); err != nil {
			return err
		}
	}
	if err := mem.WriteU32(base+4, uint32(p.SensitivityVariableBatchSize)); err != nil {
		return err
	}
	if err := mem.WriteF64(base+8, p.LossesCompensationEpsilon); err != nil {
		return err
	}
	return mem.WriteF64(base+16, p.SensitivityEpsilon)
}

// Sld is the single line diagram parameter block.
type Sld struct {
	UseName             bool
	CenterName          bool
	DiagonalLabel       bool
	NodesInfos          bool
	TopologicalColoring bool
	ComponentLibrary    string
}

// ReadSld decodes a single line diagram block at base.
func ReadSld(mem gridlink.Memory, base uint32) (*Sld, error) {
	p := &Sld{}
	var err error
	bools := []struct {
		off uint32
		dst *bool
	}{
		{0, &p.UseName},
		{1, &p.CenterName},
		{2, &p.DiagonalLabel},
		{3, &p.NodesInfos},
		{4, &p.TopologicalColoring},
	}
	for _, b := range bools {
		if *b.dst, err = readBool(mem, base+b.off); err != nil {
			return nil, err
		}
	}
	libPtr, err := mem.ReadU32(base + 8)
	if err != nil {
		return nil, err
	}
	if p.ComponentLibrary, err = marshal.ReadCString(mem, libPtr); err != nil {
		return nil, err
	}
	return p, nil
}

// Store encodes p into a block at base.
func (p *Sld) Store(mem gridlink.Memory, alloc marshal.Alloc, base uint32) error {
	bools := []struct {
		off uint32
		val bool
	}{
		{0, p.UseName},
		{1, p.CenterName},
		{2, p.DiagonalLabel},
		{3, p.NodesInfos},
		{4, p.TopologicalColoring},
	}
	for _, b := range bools {
		if err := mem.WriteU8(base+b.off, boolByte(b.val)); err != nil {
			return err
		}
	}
	ptr, err := marshal.WriteCString(mem, alloc, p.ComponentLibrary)
	if err != nil {
		return err
	}
	return mem.WriteU32(base+8, ptr)
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func readBool(mem gridlink.Memory, off uint32) (bool, error) {
	v, err := mem.ReadU8(off)
	return v != 0, err
}

func readEnum[T ~int32](mem gridlink.Memory, off uint32) (T, error) {
	v, err := mem.ReadU32(off)
	return T(int32(v)), err
}

// readStringTable decodes a {ptr,count} pointer-table pair stored at two
// block offsets.
func readStringTable(mem gridlink.Memory, ptrOff, countOff uint32) ([]string, error) {
	table, err := mem.ReadU32(ptrOff)
	if err != nil {
		return nil, err
	}
	count, err := mem.ReadU32(countOff)
	if err != nil {
		return nil, err
	}
	if table == 0 || count == 0 {
		return nil, nil
	}
	return marshal.ReadStrings(mem, table, int32(count))
}

func storeStringTable(mem gridlink.Memory, alloc marshal.Alloc, ptrOff, countOff uint32, values []string) error {
	table, err := marshal.WriteStrings(mem, alloc, values)
	if err != nil {
		return err
	}
	if err := mem.WriteU32(ptrOff, table); err != nil {
		return err
	}
	return mem.WriteU32(countOff, uint32(len(values)))
}

// Provider parameters are stored as parallel key and value tables with
// their two counts, 16 bytes of block space starting at base.
func readProviderParameters(mem gridlink.Memory, base uint32) (map[string]string, error) {
	keys, err := readStringTable(mem, base, base+4)
	if err != nil {
		return nil, err
	}
	values, err := readStringTable(mem, base+8, base+12)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for i, k := range keys {
		if i < len(values) {
			out[k] = values[i]
		} else {
			out[k] = ""
		}
	}
	return out, nil
}

func storeProviderParameters(mem gridlink.Memory, alloc marshal.Alloc, base uint32, pp map[string]string) error {
	keys, values := marshal.SplitMap(pp)
	if err := storeStringTable(mem, alloc, base, base+4, keys); err != nil {
		return err
	}
	return storeStringTable(mem, alloc, base+8, base+12, values)
}
