package engine

import (
	"context"
	"math"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	gridlink "github.com/voltmesh/gridlink"
	"github.com/voltmesh/gridlink/errors"
)

// hostModule is the import namespace the engine binds its callbacks to.
const hostModule = "gridlink_host"

// Wazero runs the engine module inside a wazero runtime. The engine wasm is
// built for concurrent entry: its exports synchronize internally, so Invoke
// may be called from any number of goroutines.
type Wazero struct {
	runtime wazero.Runtime
	module  api.Module
	memory  *wazeroMemory
	notify  func(string) error
	funcs   map[string]api.Function
	funcsMu sync.RWMutex
}

// New compiles and instantiates the engine module. Creation failure is not
// retryable; callers treat it as fatal.
func New(ctx context.Context, wasmBytes []byte, cfg Config) (*Wazero, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	e := &Wazero{
		runtime: runtime,
		notify:  cfg.Notify,
		funcs:   make(map[string]api.Function),
	}

	if err := e.instantiateHostModule(ctx); err != nil {
		runtime.Close(ctx)
		return nil, errors.Fatal(errors.PhaseInit, "instantiate host module", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, errors.Fatal(errors.PhaseInit, "compile engine module", err)
	}

	module, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("engine"))
	if err != nil {
		runtime.Close(ctx)
		return nil, errors.Fatal(errors.PhaseInit, "instantiate engine module", err)
	}
	e.module = module

	mem := module.Memory()
	if mem == nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, errors.Fatal(errors.PhaseInit, "engine module exports no memory", nil)
	}
	e.memory = &wazeroMemory{mem: mem}

	return e, nil
}

// instantiateHostModule registers the callbacks the engine imports. The log
// sink routes into zap; notify routes into the configured callback and
// records its failure as the call's pending host error.
func (e *Wazero) instantiateHostModule(ctx context.Context) error {
	_, err := e.runtime.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostLog),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("log").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(e.hostNotify),
			[]api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		Export("notify").
		Instantiate(ctx)
	return err
}

func (e *Wazero) hostLog(_ context.Context, mod api.Module, stack []uint64) {
	lvl := zapcore.Level(int8(uint32(stack[0])))
	msg, ok := mod.Memory().Read(uint32(stack[1]), uint32(stack[2]))
	if !ok {
		return
	}
	if ce := Logger().Check(lvl, string(msg)); ce != nil {
		ce.Write(zap.String("source", "engine"))
	}
}

func (e *Wazero) hostNotify(ctx context.Context, mod api.Module, stack []uint64) {
	if e.notify == nil {
		return
	}
	msg, ok := mod.Memory().Read(uint32(stack[0]), uint32(stack[1]))
	if !ok {
		return
	}
	if err := e.notify(string(msg)); err != nil {
		if cs := CallStateFrom(ctx); cs != nil {
			cs.SetHostError(err)
		}
	}
}

func (e *Wazero) Invoke(ctx context.Context, entry string, args []uint64) ([]uint64, error) {
	fn, err := e.exported(entry)
	if err != nil {
		return nil, err
	}
	return fn.Call(ctx, args...)
}

func (e *Wazero) exported(entry string) (api.Function, error) {
	e.funcsMu.RLock()
	fn, ok := e.funcs[entry]
	e.funcsMu.RUnlock()
	if ok {
		return fn, nil
	}

	fn = e.module.ExportedFunction(entry)
	if fn == nil {
		return nil, errors.NotFound("entry point", entry)
	}

	e.funcsMu.Lock()
	e.funcs[entry] = fn
	e.funcsMu.Unlock()
	return fn, nil
}

func (e *Wazero) Memory() gridlink.Memory {
	return e.memory
}

func (e *Wazero) Close(ctx context.Context) error {
	var firstErr error
	if e.module != nil {
		if err := e.module.Close(ctx); err != nil {
			firstErr = err
		}
		e.module = nil
	}
	if e.runtime != nil {
		if err := e.runtime.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		e.runtime = nil
	}
	return firstErr
}

// wazeroMemory wraps wazero linear memory to implement gridlink.Memory
type wazeroMemory struct {
	mem api.Memory
}

func (m *wazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(offset, length)
	}
	return data, nil
}

func (m *wazeroMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return errors.OutOfBounds(offset, uint32(len(data)))
	}
	return nil
}

func (m *wazeroMemory) ReadU8(offset uint32) (uint8, error) {
	data, err := m.Read(offset, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (m *wazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(offset, 4)
	}
	return val, nil
}

func (m *wazeroMemory) ReadU64(offset uint32) (uint64, error) {
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, errors.OutOfBounds(offset, 8)
	}
	return val, nil
}

func (m *wazeroMemory) ReadF64(offset uint32) (float64, error) {
	val, err := m.ReadU64(offset)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(val), nil
}

func (m *wazeroMemory) WriteU8(offset uint32, value uint8) error {
	return m.Write(offset, []byte{value})
}

func (m *wazeroMemory) WriteU32(offset uint32, value uint32) error {
	if !m.mem.WriteUint32Le(offset, value) {
		return errors.OutOfBounds(offset, 4)
	}
	return nil
}

func (m *wazeroMemory) WriteU64(offset uint32, value uint64) error {
	if !m.mem.WriteUint64Le(offset, value) {
		return errors.OutOfBounds(offset, 8)
	}
	return nil
}

func (m *wazeroMemory) WriteF64(offset uint32, value float64) error {
	return m.WriteU64(offset, math.Float64bits(value))
}

// Compile-time check that Wazero implements Engine
var _ Engine = (*Wazero)(nil)
var _ gridlink.Memory = (*wazeroMemory)(nil)
