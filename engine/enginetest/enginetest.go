// Package enginetest provides an in-memory engine for tests. It
// implements the full entry-point surface over a growable byte slice
// with a bump allocator and an object table, writes the same boundary
// layouts a real engine module would, and keeps strict books on
// allocations, frees, attachments and dispatched calls so tests can
// assert the release discipline, not just the happy path.
package enginetest

import (
	"context"
	"sync"

	gridlink "github.com/voltmesh/gridlink"
	"github.com/voltmesh/gridlink/engine"
	"github.com/voltmesh/gridlink/params"
)

// Allocation tags. The root allocation of every engine-owned result
// carries the tag its free entry point expects; freeing through the
// wrong routine is an error here instead of silent corruption.
const (
	tagHost               = "host"
	tagString             = "string"
	tagF64Array           = "f64_array"
	tagStringArray        = "string_array"
	tagStringMap          = "string_map"
	tagComponentResults   = "component_results"
	tagContingencyResults = "contingency_results"
	tagStrategyResults    = "operator_strategy_results"
	tagLoadFlowParams     = "load_flow_parameters"
	tagSecurityParams     = "security_analysis_parameters"
	tagSensitivityParams  = "sensitivity_analysis_parameters"
	tagShortCircuitParams = "short_circuit_analysis_parameters"
	tagFlowDecompParams   = "flow_decomposition_parameters"
	tagSldParams          = "sld_parameters"
	tagMember             = "member"
)

var freeTags = map[string]string{
	engine.EntryFreeString:                      tagString,
	engine.EntryFreeArray:                       tagF64Array,
	engine.EntryFreeStringArray:                 tagStringArray,
	engine.EntryFreeStringMap:                   tagStringMap,
	engine.EntryFreeComponentResultArray:        tagComponentResults,
	engine.EntryFreeContingencyResultArray:      tagContingencyResults,
	engine.EntryFreeOperatorStrategyResultArray: tagStrategyResults,
	engine.EntryFreeLoadFlowParameters:          tagLoadFlowParams,
	engine.EntryFreeSecurityParameters:          tagSecurityParams,
	engine.EntryFreeSensitivityParameters:       tagSensitivityParams,
	engine.EntryFreeShortCircuitParameters:      tagShortCircuitParams,
	engine.EntryFreeFlowDecompositionParameters: tagFlowDecompParams,
	engine.EntryFreeSldParameters:               tagSldParams,
}

type allocation struct {
	size  uint32
	tag   string
	group uint32 // root allocation this belongs to, 0 for roots
}

type network struct {
	name     string
	id       string
	elements []string
}

type contingency struct {
	id       string
	elements []string
}

type securityAnalysis struct {
	contingencies []contingency
}

type securityResult struct {
	contingencies []contingency
}

type factorMatrix struct {
	id        string
	branches  []string
	variables []string
}

type sensitivityAnalysis struct {
	factors []factorMatrix
}

type sensitivityResult struct {
	factors []factorMatrix
}

type shortCircuitAnalysis struct{}

type shortCircuitResult struct{}

// Fake is a test double for the engine module. Configure the exported
// knobs before dispatching calls; the bookkeeping accessors are safe to
// use at any point.
type Fake struct {
	// ComponentCount is how many component results a load flow returns.
	ComponentCount int

	// OnEntry, when set, runs at the start of every domain entry point,
	// outside the fake's lock, with the context the engine was invoked
	// with. Reentrancy tests use it to call back across the boundary.
	OnEntry func(ctx context.Context, entry string)

	mu     sync.Mutex
	mem    *fakeMemory
	notify func(message string) error

	allocs    map[uint32]allocation
	nextAlloc uint32

	objects map[uint32]any
	nextObj uint32

	tokens      map[uint64]bool
	nextToken   uint64
	attachCount int
	detachCount int

	logLevel int32
	closed   bool

	callLog    []string
	freeCount  map[string]int
	failNext   map[string]string
	notifyNext map[string]string

	lastLoadFlow     *params.LoadFlow
	lastSecurity     *params.Security
	lastSensitivity  *params.Sensitivity
	lastShortCircuit *params.ShortCircuit
	lastProvider     string
	lastDC           bool
}

// New creates a fake engine honoring cfg.Notify the way the real engine
// does: a failing notify handler records a pending host error on the
// in-flight call.
func New(cfg engine.Config) *Fake {
	return &Fake{
		ComponentCount: 1,
		mem:            &fakeMemory{data: make([]byte, 16)},
		notify:         cfg.Notify,
		allocs:         make(map[uint32]allocation),
		nextAlloc:      16,
		objects:        make(map[uint32]any),
		nextObj:        0x1000,
		tokens:         make(map[uint64]bool),
		freeCount:      make(map[string]int),
		failNext:       make(map[string]string),
		notifyNext:     make(map[string]string),
	}
}

// Memory returns the fake's linear memory.
func (f *Fake) Memory() gridlink.Memory { return f.mem }

// Close marks the engine closed; further invokes fail.
func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// FailNextCall makes the next dispatch of entry report message through
// the error signal instead of doing its work.
func (f *Fake) FailNextCall(entry, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext[entry] = message
}

// NotifyNextCall makes the next dispatch of entry push message to the
// host notify handler before doing its work.
func (f *Fake) NotifyNextCall(entry, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifyNext[entry] = message
}

// FreeCount reports how many times the given free entry point ran.
func (f *Fake) FreeCount(entry string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freeCount[entry]
}

// LiveAllocs reports how many allocations are outstanding, roots and
// members alike. Zero after a clean teardown.
func (f *Fake) LiveAllocs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.allocs)
}

// LiveObjects reports how many engine-side objects exist.
func (f *Fake) LiveObjects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// AttachCount reports how many thread attachments were opened.
func (f *Fake) AttachCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachCount
}

// DetachCount reports how many attachments were closed.
func (f *Fake) DetachCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detachCount
}

// ActiveTokens reports how many attachments are currently open.
func (f *Fake) ActiveTokens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

// LogLevel reports the last level pushed through set_log_level.
func (f *Fake) LogLevel() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logLevel
}

// Calls returns the protocol entries dispatched so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.callLog))
	copy(out, f.callLog)
	return out
}

// LastLoadFlow returns the parameters decoded by the latest run_load_flow.
func (f *Fake) LastLoadFlow() *params.LoadFlow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastLoadFlow
}

// LastSecurity returns the parameters decoded by the latest security run.
func (f *Fake) LastSecurity() *params.Security {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSecurity
}

// LastSensitivity returns the parameters decoded by the latest
// sensitivity run.
func (f *Fake) LastSensitivity() *params.Sensitivity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSensitivity
}

// LastShortCircuit returns the parameters decoded by the latest short
// circuit run.
func (f *Fake) LastShortCircuit() *params.ShortCircuit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastShortCircuit
}

// LastProvider returns the provider name of the latest run entry.
func (f *Fake) LastProvider() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastProvider
}

// LastDC reports the dc flag of the latest run entry.
func (f *Fake) LastDC() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastDC
}

var _ engine.Engine = (*Fake)(nil)
