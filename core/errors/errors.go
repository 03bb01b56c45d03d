package errors

import (
	stderrors "errors"

	cerrors "github.com/cockroachdb/errors"
)

// Kind names the category of a transaction failure as reported in receipts.
type Kind string

const (
	KindNone                   Kind = ""
	KindAuthorizationDenied    Kind = "AuthorizationDenied"
	KindInsufficientResource   Kind = "InsufficientResource"
	KindResourceKindMismatch   Kind = "ResourceKindMismatch"
	KindDuplicateNonFungibleID Kind = "DuplicateNonFungibleId"
	KindBurnNotAllowed         Kind = "BurnNotAllowed"
	KindDanglingResource       Kind = "DanglingResource"
	KindReentrancyDenied       Kind = "ReentrancyDenied"
	KindCallDepthExceeded      Kind = "CallDepthExceeded"
	KindOutOfResources         Kind = "OutOfResources"
	KindConflict               Kind = "Conflict"
	KindDecodeError            Kind = "DecodeError"
	KindTrap                   Kind = "Trap"
	KindNotFound               Kind = "NotFound"
	KindInvalidArgument        Kind = "InvalidArgument"
	KindInternal               Kind = "Internal"
)

var (
	ErrAuthorizationDenied    = stderrors.New("authorization denied")
	ErrInsufficientResource   = stderrors.New("insufficient resource")
	ErrResourceKindMismatch   = stderrors.New("resource kind mismatch")
	ErrDuplicateNonFungibleID = stderrors.New("duplicate non-fungible id")
	ErrBurnNotAllowed         = stderrors.New("burn not allowed")
	ErrDanglingResource       = stderrors.New("dangling resource")
	ErrReentrancyDenied       = stderrors.New("reentrancy denied")
	ErrCallDepthExceeded      = stderrors.New("call depth exceeded")
	ErrOutOfResources         = stderrors.New("out of resources")
	ErrConflict               = stderrors.New("substate lock conflict")
	ErrDecode                 = stderrors.New("decode error")
	ErrTrap                   = stderrors.New("trap")
	ErrNotFound               = stderrors.New("not found")
	ErrInvalidArgument        = stderrors.New("invalid argument")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrAuthorizationDenied, KindAuthorizationDenied},
	{ErrInsufficientResource, KindInsufficientResource},
	{ErrResourceKindMismatch, KindResourceKindMismatch},
	{ErrDuplicateNonFungibleID, KindDuplicateNonFungibleID},
	{ErrBurnNotAllowed, KindBurnNotAllowed},
	{ErrDanglingResource, KindDanglingResource},
	{ErrReentrancyDenied, KindReentrancyDenied},
	{ErrCallDepthExceeded, KindCallDepthExceeded},
	{ErrOutOfResources, KindOutOfResources},
	{ErrConflict, KindConflict},
	{ErrDecode, KindDecodeError},
	{ErrTrap, KindTrap},
	{ErrNotFound, KindNotFound},
	{ErrInvalidArgument, KindInvalidArgument},
}

// KindOf classifies err. Assertion failures take precedence so an engine bug
// surfacing through a contract-level error is still reported as Internal.
// Unclassified errors are Internal as well.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if IsInvariant(err) {
		return KindInternal
	}
	for _, k := range kinds {
		if stderrors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsContractBug reports whether the failure is attributed to the invoked code
// rather than to the transaction's inputs.
func IsContractBug(err error) bool {
	return stderrors.Is(err, ErrDanglingResource)
}

// Invariant builds an internal invariant violation. These indicate an engine
// defect, carry a stack trace and are logged for operators.
func Invariant(format string, args ...interface{}) error {
	return cerrors.AssertionFailedf(format, args...)
}

// WrapInvariant marks err as an internal invariant violation.
func WrapInvariant(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cerrors.NewAssertionErrorWithWrappedErrf(err, "%s", msg)
}

// IsInvariant reports whether err is (or wraps) an invariant violation.
func IsInvariant(err error) bool {
	return cerrors.HasAssertionFailure(err)
}
