// Package errs defines the relay's structured error taxonomy.
package errs

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind/RuleID rather than matching error strings.
// Use errors.As to extract *Error for structured handling.
type Kind string

const (
	// Startup failures. Fatal: the process must not start serving.
	KindConfig Kind = "ConfigError"
	KindBind   Kind = "BindError"

	// Per-message rejections, in the order the verifier checks them.
	KindMalformedPayload       Kind = "MalformedPayload"
	KindMissingTagOrSignatures Kind = "MissingTagOrSignatures"
	KindEmptySignatureSet      Kind = "EmptySignatureSet"
	KindNoTrustedSigner        Kind = "NoTrustedSigner"
	KindInvalidSignature       Kind = "InvalidSignature"

	// An accepted event could not be handed to the publish channel.
	KindPublishChannelUnavailable Kind = "PublishChannelUnavailable"

	KindInternal Kind = "Internal"
)

// Rejection reports whether k is one of the per-message rejection kinds.
func (k Kind) Rejection() bool {
	switch k {
	case KindMalformedPayload, KindMissingTagOrSignatures, KindEmptySignatureSet, KindNoTrustedSigner, KindInvalidSignature:
		return true
	default:
		return false
	}
}

// Error is the structured error type used across the relay.
//
// RuleID is a stable identifier (e.g. LH-CFG-001, LH-SIG-401) that names the
// violated rule. Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	RuleID  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New returns a structured error without a cause.
func New(kind Kind, ruleID, msg string) error {
	return &Error{Kind: kind, RuleID: ruleID, Message: msg}
}

// Wrap returns a structured error carrying cause. A nil cause yields New.
func Wrap(kind Kind, ruleID, msg string, cause error) error {
	if cause == nil {
		return New(kind, ruleID, msg)
	}
	return &Error{Kind: kind, RuleID: ruleID, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of a structured error, or "" if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// RuleID returns the stable RuleID for a structured error, or "" if unknown.
func RuleID(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.RuleID
}
