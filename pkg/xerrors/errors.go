// Package xerrors implements the error taxonomy of spec §7. Every fallible
// path in the execution core returns one of these kinds rather than mixing
// panics and bare errors, per the redesign note in spec §9 ("Exceptions /
// panics... redesign all internal fallible paths to surface typed errors").
package xerrors

import "fmt"

// Kind identifies which §7 bucket an error belongs to; RPC handlers use it to
// decide the propagation policy (rollback vs surface-only) and to fill the
// response envelope's error_message.
type Kind string

const (
	KindFormat      Kind = "FormatError"
	KindValidation  Kind = "ValidationError"
	KindNotFound    Kind = "NotFound"
	KindSignature   Kind = "SignatureError"
	KindOrderbook   Kind = "OrderbookError"
	KindConcurrency Kind = "ConcurrencyError"
	KindOracle      Kind = "OracleError"
	KindFatalState  Kind = "FatalStateError"
)

// Error is the typed error every package in this module returns for
// domain-level failures.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Format(format string, args ...any) *Error      { return newf(KindFormat, format, args...) }
func Validation(format string, args ...any) *Error  { return newf(KindValidation, format, args...) }
func NotFound(format string, args ...any) *Error     { return newf(KindNotFound, format, args...) }
func Signature(format string, args ...any) *Error    { return newf(KindSignature, format, args...) }
func Orderbook(format string, args ...any) *Error    { return newf(KindOrderbook, format, args...) }
func Concurrency(format string, args ...any) *Error  { return newf(KindConcurrency, format, args...) }
func Oracle(format string, args ...any) *Error       { return newf(KindOracle, format, args...) }
func FatalState(format string, args ...any) *Error   { return newf(KindFatalState, format, args...) }

func WrapValidation(err error, format string, args ...any) *Error {
	return wrapf(KindValidation, err, format, args...)
}
func WrapFatalState(err error, format string, args ...any) *Error {
	return wrapf(KindFatalState, err, format, args...)
}

// Is reports whether err is an *Error of the given kind, following errors.As
// semantics manually since the taxonomy is closed and small.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}

// MutatesState reports whether this error kind's propagation policy (per
// spec §7) requires the caller to have already rolled back before surfacing.
func (k Kind) RequiresRollback() bool {
	return k == KindConcurrency || k == KindFatalState
}
