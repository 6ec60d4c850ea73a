package qpgp

import (
	"errors"
	"fmt"
)

// Kind categorizes errors surfaced across the backend contract.
type Kind int

const (
	KindNotImplemented Kind = iota + 1
	KindInvalidInput
	KindBackend
	KindIO
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNotImplemented:
		return "not implemented"
	case KindInvalidInput:
		return "invalid input"
	case KindBackend:
		return "backend error"
	case KindIO:
		return "io error"
	default:
		return "unknown"
	}
}

// Error is the typed error returned by every backend operation.
// It supports errors.Is against the kind sentinels and errors.As.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
	// PolicyDenied marks refusals made by the policy engine rather than
	// by malformed input or a broken provider.
	PolicyDenied bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind with an empty detail, which is
// how the sentinels below are shaped.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Detail == ""
}

// Sentinels for errors.Is checks by kind.
var (
	ErrNotImplemented = &Error{Kind: KindNotImplemented}
	ErrInvalidInput   = &Error{Kind: KindInvalidInput}
	ErrBackend        = &Error{Kind: KindBackend}
	ErrIO             = &Error{Kind: KindIO}
)

// NotImplemented reports a capability the backend or policy cannot satisfy.
func NotImplemented(feature string) *Error {
	return &Error{Kind: KindNotImplemented, Detail: feature}
}

// InvalidInput reports malformed or ambiguous input.
func InvalidInput(detail string) *Error {
	return &Error{Kind: KindInvalidInput, Detail: detail}
}

// BackendError reports a provider-internal failure.
func BackendError(detail string, err error) *Error {
	if err != nil {
		detail = fmt.Sprintf("%s: %v", detail, err)
	}
	return &Error{Kind: KindBackend, Detail: detail, Err: err}
}

// IO reports a storage or transport failure.
func IO(detail string, err error) *Error {
	if err != nil {
		detail = fmt.Sprintf("%s: %v", detail, err)
	}
	return &Error{Kind: KindIO, Detail: detail, Err: err}
}

// Denied returns a policy refusal of the given kind.
func Denied(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, PolicyDenied: true}
}

// IsPolicyDenial reports whether err was caused by a policy refusal.
func IsPolicyDenial(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.PolicyDenied
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// RotationStep names the sub-step of a rotation.
type RotationStep string

const (
	StepGenerate RotationStep = "generate"
	StepRevoke   RotationStep = "revoke"
)

// RotationError reports which half of a rotation failed. When Step is
// StepRevoke the replacement key exists and NewKey describes it; callers
// can retry the revocation alone.
type RotationError struct {
	Step   RotationStep
	OldKey KeyID
	NewKey *KeyMeta
	Err    error
}

// Error implements the error interface.
func (e *RotationError) Error() string {
	if e.Step == StepRevoke && e.NewKey != nil {
		return fmt.Sprintf("rotate %s: new key %s created but revoking the old key failed: %v", e.OldKey, e.NewKey.KeyID, e.Err)
	}
	return fmt.Sprintf("rotate %s: %s step failed: %v", e.OldKey, e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *RotationError) Unwrap() error { return e.Err }
