package vm

import (
	"context"
	"errors"
	"fmt"

	"resengine/core/abi"
	engerrors "resengine/core/errors"
)

// Runtime kinds a package may declare.
const (
	KindNative = "native"
	KindWasm   = "wasm"
)

// Host is the trampoline a running guest uses to reach the engine. Every
// call is synchronous; a returned error is transaction-fatal.
type Host interface {
	Call(op abi.Op, args []byte) ([]byte, error)
}

// Runtime executes package code. input and the returned bytes are encoded
// abi.Input and abi.Output envelopes. A fault inside the sandbox is reported
// as a *Trap.
type Runtime interface {
	Invoke(ctx context.Context, code []byte, function string, input []byte, budget uint64, host Host) ([]byte, error)
}

// Validator is implemented by runtimes that can check code before it is
// published.
type Validator interface {
	Validate(ctx context.Context, code []byte) error
}

// ExportName is the symbol a runtime looks up for a blueprint function or
// method.
func ExportName(blueprint, function string) string {
	return blueprint + "::" + function
}

// Trap is a fault raised by guest code: a panic, an explicit abort, a
// missing export or malformed code.
type Trap struct {
	Function string
	Cause    error
}

func (t *Trap) Error() string {
	if t.Cause == nil {
		return fmt.Sprintf("trap in %s", t.Function)
	}
	return fmt.Sprintf("trap in %s: %v", t.Function, t.Cause)
}

func (t *Trap) Is(target error) bool { return target == engerrors.ErrTrap }

func (t *Trap) Unwrap() error { return t.Cause }

func trapf(function, format string, args ...interface{}) *Trap {
	return &Trap{Function: function, Cause: fmt.Errorf(format, args...)}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, engerrors.ErrTrap):
		return "trap"
	default:
		return "fault"
	}
}
