package vm

import (
	"context"
	"fmt"
	"sync"

	"resengine/core/abi"
	"resengine/core/codec"
	engerrors "resengine/core/errors"
	"resengine/observability/metrics"
)

// NativeFunc is a blueprint function implemented in Go.
type NativeFunc func(g *Guest, in abi.Input) (abi.Output, error)

// NativeRuntime runs Go functions registered under a package code name. The
// package's code bytes are that name.
type NativeRuntime struct {
	codec codec.Codec

	mu       sync.RWMutex
	packages map[string]map[string]NativeFunc
}

func NewNativeRuntime(c codec.Codec) *NativeRuntime {
	if c == nil {
		c = codec.Default
	}
	return &NativeRuntime{codec: c, packages: make(map[string]map[string]NativeFunc)}
}

// Register binds fn to blueprint::function of the package named code.
func (r *NativeRuntime) Register(code, blueprint, function string, fn NativeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exports, ok := r.packages[code]
	if !ok {
		exports = make(map[string]NativeFunc)
		r.packages[code] = exports
	}
	exports[ExportName(blueprint, function)] = fn
}

// Has reports whether code names a registered package.
func (r *NativeRuntime) Has(code []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.packages[string(code)]
	return ok
}

// Validate accepts only registered package names.
func (r *NativeRuntime) Validate(_ context.Context, code []byte) error {
	if !r.Has(code) {
		return fmt.Errorf("%w: native package %q is not registered", engerrors.ErrNotFound, code)
	}
	return nil
}

func (r *NativeRuntime) lookup(code []byte, function string) (NativeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.packages[string(code)][function]
	return fn, ok
}

// Invoke runs the registered function. Panics and returned errors are traps.
// budget is not enforced here; native code is metered at the host boundary.
func (r *NativeRuntime) Invoke(ctx context.Context, code []byte, function string, input []byte, budget uint64, host Host) (out []byte, err error) {
	fn, ok := r.lookup(code, function)
	if !ok {
		return nil, &Trap{Function: function, Cause: fmt.Errorf("%w: export %s in package %q", engerrors.ErrNotFound, function, code)}
	}
	var in abi.Input
	if err := r.codec.Decode(input, &in); err != nil {
		return nil, err
	}
	g := &Guest{ctx: ctx, host: host, codec: r.codec}
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, trapf(function, "panic: %v", rec)
		}
		metrics.Runtime().RecordInvocation(KindNative, resultLabel(err))
	}()
	result, err := fn(g, in)
	if err != nil {
		return nil, &Trap{Function: function, Cause: err}
	}
	return r.codec.Encode(&result)
}
