package vm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"lukechampine.com/blake3"

	"resengine/core/abi"
	engerrors "resengine/core/errors"
	"resengine/observability/metrics"
)

// Wasm guests export "memory", "alloc(size i32) i32" and one function per
// blueprint export with signature (ptr i32, len i32) -> i64, where the result
// packs the output location as ptr<<32 | len. They import
// env.host_call(op i32, ptr i32, len i32) -> i64 with the same packing.
const (
	hostModule   = "env"
	hostCallName = "host_call"
	allocExport  = "alloc"
)

// Run slice defaults applied when WasmConfig leaves them zero.
const (
	DefaultCostUnitTime = time.Microsecond
	DefaultMinRunTime   = 100 * time.Millisecond
	DefaultMaxRunTime   = 10 * time.Second
)

// WasmConfig bounds guest instances.
type WasmConfig struct {
	// MemoryLimitPages caps linear memory in 64KiB pages; zero keeps the
	// wazero default.
	MemoryLimitPages uint32
	// CostUnitTime is the wall time one unit of remaining budget buys a
	// guest. The interpreter cannot count instructions, so an invocation is
	// closed once budget*CostUnitTime has elapsed.
	CostUnitTime time.Duration
	// MinRunTime and MaxRunTime clamp the run slice.
	MinRunTime time.Duration
	MaxRunTime time.Duration
}

func (c WasmConfig) withDefaults() WasmConfig {
	if c.CostUnitTime <= 0 {
		c.CostUnitTime = DefaultCostUnitTime
	}
	if c.MinRunTime <= 0 {
		c.MinRunTime = DefaultMinRunTime
	}
	if c.MaxRunTime <= 0 {
		c.MaxRunTime = DefaultMaxRunTime
	}
	if c.MinRunTime > c.MaxRunTime {
		c.MinRunTime = c.MaxRunTime
	}
	return c
}

// runSlice converts the remaining budget into a wall-clock allowance.
func (c WasmConfig) runSlice(budget uint64) time.Duration {
	var d time.Duration
	if budget > uint64(math.MaxInt64/int64(c.CostUnitTime)) {
		d = c.MaxRunTime
	} else {
		d = time.Duration(budget) * c.CostUnitTime
	}
	switch {
	case d < c.MinRunTime:
		return c.MinRunTime
	case d > c.MaxRunTime:
		return c.MaxRunTime
	}
	return d
}

// WasmRuntime runs WebAssembly packages on the wazero interpreter. Compiled
// modules are cached by the blake3 digest of their code and every
// invocation gets a fresh instance.
type WasmRuntime struct {
	rt  wazero.Runtime
	cfg WasmConfig

	mu       sync.Mutex
	compiled map[[32]byte]wazero.CompiledModule
}

type callKey struct{}

// invocation carries the host of one Invoke through the context so nested
// calls each reach their own frame.
type invocation struct {
	host  Host
	fault error
}

func NewWasmRuntime(ctx context.Context, cfg WasmConfig) (*WasmRuntime, error) {
	cfg = cfg.withDefaults()
	rcfg := wazero.NewRuntimeConfigInterpreter().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rcfg = rcfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)
	_, err := rt.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().
		WithFunc(hostCall).
		Export(hostCallName).
		Instantiate(ctx)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("vm: instantiate host module: %w", err)
	}
	return &WasmRuntime{rt: rt, cfg: cfg, compiled: make(map[[32]byte]wazero.CompiledModule)}, nil
}

// Close releases the runtime and every cached module.
func (r *WasmRuntime) Close(ctx context.Context) error {
	return r.rt.Close(ctx)
}

// Compile validates code and caches the compiled module.
func (r *WasmRuntime) Compile(ctx context.Context, code []byte) (wazero.CompiledModule, error) {
	digest := blake3.Sum256(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.compiled[digest]; ok {
		metrics.Runtime().RecordCompile(true)
		return m, nil
	}
	metrics.Runtime().RecordCompile(false)
	m, err := r.rt.CompileModule(ctx, code)
	if err != nil {
		return nil, err
	}
	r.compiled[digest] = m
	return m, nil
}

// Validate compiles code, caching the result.
func (r *WasmRuntime) Validate(ctx context.Context, code []byte) error {
	if _, err := r.Compile(ctx, code); err != nil {
		return fmt.Errorf("%w: %v", engerrors.ErrInvalidArgument, err)
	}
	return nil
}

// Invoke instantiates code and calls function. Cost is charged at host calls;
// guest execution itself is bounded by a run slice derived from budget, and
// a guest still running when the slice ends fails with OutOfResources.
// Cancelling ctx closes the guest as well.
func (r *WasmRuntime) Invoke(ctx context.Context, code []byte, function string, input []byte, budget uint64, host Host) ([]byte, error) {
	out, err := r.invoke(ctx, code, function, input, budget, host)
	metrics.Runtime().RecordInvocation(KindWasm, resultLabel(err))
	return out, err
}

func (r *WasmRuntime) invoke(ctx context.Context, code []byte, function string, input []byte, budget uint64, host Host) ([]byte, error) {
	if budget == 0 {
		return nil, fmt.Errorf("%w: no budget left for %s", engerrors.ErrOutOfResources, function)
	}
	compiled, err := r.Compile(ctx, code)
	if err != nil {
		return nil, trapf(function, "compile: %v", err)
	}
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.runSlice(budget))
	defer cancel()
	call := &invocation{host: host}
	runCtx = context.WithValue(runCtx, callKey{}, call)
	mod, err := r.rt.InstantiateModule(runCtx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		if stopped := r.stopped(ctx, runCtx, function, budget); stopped != nil {
			return nil, stopped
		}
		return nil, trapf(function, "instantiate: %v", err)
	}
	defer mod.Close(context.WithoutCancel(runCtx))

	fn := mod.ExportedFunction(function)
	if fn == nil {
		return nil, &Trap{Function: function, Cause: fmt.Errorf("%w: export %s", engerrors.ErrNotFound, function)}
	}
	if mod.Memory() == nil {
		return nil, trapf(function, "module exports no memory")
	}
	ptr, err := writeGuest(runCtx, mod, input)
	if err != nil {
		if stopped := r.stopped(ctx, runCtx, function, budget); stopped != nil {
			return nil, stopped
		}
		return nil, &Trap{Function: function, Cause: err}
	}
	results, err := fn.Call(runCtx, uint64(ptr), uint64(len(input)))
	if call.fault != nil {
		return nil, call.fault
	}
	if err != nil {
		if stopped := r.stopped(ctx, runCtx, function, budget); stopped != nil {
			return nil, stopped
		}
		return nil, &Trap{Function: function, Cause: err}
	}
	if len(results) != 1 {
		return nil, trapf(function, "expected one result, got %d", len(results))
	}
	outPtr, outLen := unpack(results[0])
	out, ok := mod.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, trapf(function, "output [%d,+%d) out of bounds", outPtr, outLen)
	}
	return append([]byte(nil), out...), nil
}

// stopped reports why a guest was closed from outside: the caller's context
// ending or the run slice running out. It returns nil for genuine traps.
func (r *WasmRuntime) stopped(parent, run context.Context, function string, budget uint64) error {
	if err := parent.Err(); err != nil {
		return fmt.Errorf("vm: %s stopped: %w", function, err)
	}
	if errors.Is(run.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s ran past the slice for budget %d", engerrors.ErrOutOfResources, function, budget)
	}
	return nil
}

// hostCall is env.host_call. A host error is recorded on the invocation and
// the guest is unwound by panicking; Invoke reports the recorded error.
func hostCall(ctx context.Context, m api.Module, op, ptr, length uint32) uint64 {
	call, ok := ctx.Value(callKey{}).(*invocation)
	if !ok {
		panic("host_call outside an invocation")
	}
	args, ok := m.Memory().Read(ptr, length)
	if !ok {
		panic(fmt.Sprintf("host_call args [%d,+%d) out of bounds", ptr, length))
	}
	out, err := call.host.Call(abi.Op(op), append([]byte(nil), args...))
	if err != nil {
		call.fault = err
		panic(err)
	}
	outPtr, err := writeGuest(ctx, m, out)
	if err != nil {
		panic(err)
	}
	return pack(outPtr, uint32(len(out)))
}

func writeGuest(ctx context.Context, m api.Module, data []byte) (uint32, error) {
	alloc := m.ExportedFunction(allocExport)
	if alloc == nil {
		return 0, fmt.Errorf("module exports no %s", allocExport)
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", allocExport, err)
	}
	if len(res) != 1 {
		return 0, fmt.Errorf("%s returned %d values", allocExport, len(res))
	}
	ptr := uint32(res[0])
	if !m.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("write [%d,+%d) out of bounds", ptr, len(data))
	}
	return ptr, nil
}

func pack(ptr, length uint32) uint64 { return uint64(ptr)<<32 | uint64(length) }

func unpack(v uint64) (uint32, uint32) { return uint32(v >> 32), uint32(v) }
