// Package types holds the error taxonomy shared by every ontogen package.
//
// Each failure surfaced to a caller is an *Error carrying one Kind. Both
// sandbox variants, the capability graph and the synthesis loop map their
// internal failures onto these kinds so callers can branch with errors.Is
// regardless of which component produced the error.
package types

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindGraphLookup
	KindDefinition
	KindEntryPointMissing
	KindEntryPointNotCallable
	KindExecution
	KindOutputDecode
	KindVerification
	KindSynthesisExhausted
	KindRejected
	KindGeneration
	KindUnknownProvider
	KindUnknownMode
	KindPersistence
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindGraphLookup:
		return "graph_lookup"
	case KindDefinition:
		return "definition"
	case KindEntryPointMissing:
		return "entry_point_missing"
	case KindEntryPointNotCallable:
		return "entry_point_not_callable"
	case KindExecution:
		return "execution"
	case KindOutputDecode:
		return "output_decode"
	case KindVerification:
		return "verification"
	case KindSynthesisExhausted:
		return "synthesis_exhausted"
	case KindRejected:
		return "rejected"
	case KindGeneration:
		return "generation"
	case KindUnknownProvider:
		return "unknown_provider"
	case KindUnknownMode:
		return "unknown_mode"
	case KindPersistence:
		return "persistence"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Msg is the diagnostic text shown to users;
// Err is the underlying cause, if any.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrGraphLookup           = &Error{Kind: KindGraphLookup}
	ErrDefinition            = &Error{Kind: KindDefinition}
	ErrEntryPointMissing     = &Error{Kind: KindEntryPointMissing}
	ErrEntryPointNotCallable = &Error{Kind: KindEntryPointNotCallable}
	ErrExecution             = &Error{Kind: KindExecution}
	ErrOutputDecode          = &Error{Kind: KindOutputDecode}
	ErrVerification          = &Error{Kind: KindVerification}
	ErrSynthesisExhausted    = &Error{Kind: KindSynthesisExhausted}
	ErrRejected              = &Error{Kind: KindRejected}
	ErrGeneration            = &Error{Kind: KindGeneration}
	ErrUnknownProvider       = &Error{Kind: KindUnknownProvider}
	ErrUnknownMode           = &Error{Kind: KindUnknownMode}
	ErrPersistence           = &Error{Kind: KindPersistence}
	ErrConfig                = &Error{Kind: KindConfig}
)

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether err belongs to the synthesize, execute, verify
// cycle and may therefore be fed back into another synthesis attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindDefinition, KindEntryPointMissing, KindEntryPointNotCallable,
		KindExecution, KindOutputDecode, KindVerification, KindGeneration:
		return true
	default:
		return false
	}
}
