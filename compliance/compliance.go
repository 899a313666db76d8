// Package compliance selects how strictly the verifier treats envelopes that
// carry more than one trusted signature.
package compliance

import (
	"fmt"
	"strings"
)

// Mode selects the signer acceptance policy.
//
// Permissive accepts an envelope when any trusted signer's signature verifies;
// a trusted signer with a bad signature does not short-circuit the others.
// Strict only considers the first trusted signer and rejects if that
// signature is invalid, with no fallback. "First" is byte order of signer
// identity, not the order signers appear in the envelope.
type Mode int

const (
	Permissive Mode = iota
	Strict
)

// Config names for each mode, as written in the daemon's config file.
const (
	NameAnyTrustedSigner    = "any-trusted-signer"
	NameFirstResolvedSigner = "first-resolved-signer"
)

func (m Mode) String() string {
	switch m {
	case Permissive:
		return NameAnyTrustedSigner
	case Strict:
		return NameFirstResolvedSigner
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a config name to a Mode. The empty string is Permissive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", NameAnyTrustedSigner, "permissive":
		return Permissive, nil
	case NameFirstResolvedSigner, "strict":
		return Strict, nil
	default:
		return Permissive, fmt.Errorf("unknown verify policy %q (want %s or %s)", s, NameAnyTrustedSigner, NameFirstResolvedSigner)
	}
}
