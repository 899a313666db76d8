// Package verify decides whether a raw event envelope is accepted by the
// relay, and extracts its publish topic.
package verify

import (
	"fmt"
	"sort"

	"xdao.co/lighthouse/compliance"
	"xdao.co/lighthouse/envelope"
	"xdao.co/lighthouse/errs"
	"xdao.co/lighthouse/keys"
)

const (
	fieldTag = "tag"
)

// KeyLookup resolves a signer identity to its trusted verify key.
// Both *keys.Store and *keys.Snapshot implement it.
type KeyLookup interface {
	Lookup(signer string) (keys.VerifyKey, bool)
}

// Result is the outcome of verifying one envelope.
//
// When Accepted, Topic is the envelope tag, Payload is the raw input
// (unmodified) and Signer is the identity whose signature verified.
// Otherwise Reason is a structured *errs.Error with a rejection Kind.
type Result struct {
	Accepted bool
	Topic    string
	Payload  []byte
	Signer   string
	Reason   error
}

// Kind returns the rejection kind, or "" for an accepted result.
func (r Result) Kind() errs.Kind {
	if r.Accepted {
		return ""
	}
	return errs.KindOf(r.Reason)
}

// Verifier checks envelopes under a signer acceptance policy.
type Verifier struct {
	Mode compliance.Mode
}

// New returns a verifier using mode.
func New(mode compliance.Mode) *Verifier {
	return &Verifier{Mode: mode}
}

// Verify checks raw against trusted. It has no side effects.
//
// Checks run in order: the payload must be a JSON object (MalformedPayload),
// carry a non-empty string tag and a signatures object (MissingTagOrSignatures),
// hold at least one signature entry (EmptySignatureSet), name at least one
// trusted signer (NoTrustedSigner), and carry a valid signature from a trusted
// signer (InvalidSignature).
func (v *Verifier) Verify(raw []byte, trusted KeyLookup) Result {
	obj, err := envelope.Decode(raw)
	if err != nil {
		return reject(err)
	}

	tag, err := stringField(obj, fieldTag)
	if err != nil {
		return reject(err)
	}
	sigs, err := signatureSet(obj)
	if err != nil {
		return reject(err)
	}

	signers := make([]string, 0, len(sigs))
	for signer := range sigs {
		signers = append(signers, signer)
	}
	sort.Strings(signers)

	type candidate struct {
		signer string
		key    keys.VerifyKey
	}
	var resolved []candidate
	if trusted != nil {
		for _, signer := range signers {
			if k, ok := trusted.Lookup(signer); ok {
				resolved = append(resolved, candidate{signer: signer, key: k})
			}
		}
	}
	if len(resolved) == 0 {
		return reject(errs.New(errs.KindNoTrustedSigner, "LH-VER-201",
			fmt.Sprintf("none of %d signer(s) is trusted", len(signers))))
	}

	msg, err := envelope.CanonicalObject(obj)
	if err != nil {
		return reject(errs.Wrap(errs.KindMalformedPayload, "LH-VER-004", "cannot canonicalize envelope", err))
	}

	var firstErr error
	for _, c := range resolved {
		err := checkSignature(sigs[c.signer], c.signer, c.key, msg)
		if err == nil {
			return Result{Accepted: true, Topic: tag, Payload: raw, Signer: c.signer}
		}
		if firstErr == nil {
			firstErr = err
		}
		if v.Mode == compliance.Strict {
			break
		}
	}
	return reject(firstErr)
}

// checkSignature verifies one signer's entry in the signatures map.
func checkSignature(entry any, signer string, key keys.VerifyKey, msg []byte) error {
	byKey, ok := entry.(map[string]any)
	if !ok {
		return errs.New(errs.KindInvalidSignature, "LH-SIG-102", "signatures for "+signer+" must be an object")
	}
	val, ok := byKey[key.ID()]
	if !ok {
		return errs.New(errs.KindInvalidSignature, "LH-SIG-103", "no "+key.ID()+" signature from "+signer)
	}
	sig, ok := val.(string)
	if !ok {
		return errs.New(errs.KindInvalidSignature, "LH-SIG-105", key.ID()+" signature from "+signer+" must be a string")
	}
	if err := key.Verify(msg, sig); err != nil {
		return fmt.Errorf("signer %s: %w", signer, err)
	}
	return nil
}

func stringField(obj envelope.Object, name string) (string, error) {
	val, ok := obj[name]
	if !ok || val == nil {
		return "", errs.New(errs.KindMissingTagOrSignatures, "LH-VER-101", "envelope has no "+name)
	}
	s, ok := val.(string)
	if !ok {
		return "", errs.New(errs.KindMalformedPayload, "LH-VER-002", name+" must be a string")
	}
	if s == "" {
		return "", errs.New(errs.KindMissingTagOrSignatures, "LH-VER-102", "envelope "+name+" is empty")
	}
	return s, nil
}

func signatureSet(obj envelope.Object) (map[string]any, error) {
	val, ok := obj[envelope.FieldSignatures]
	if !ok || val == nil {
		return nil, errs.New(errs.KindMissingTagOrSignatures, "LH-VER-103", "envelope has no signatures")
	}
	if s, isString := val.(string); isString && s == "" {
		return nil, errs.New(errs.KindMissingTagOrSignatures, "LH-VER-104", "envelope signatures are empty")
	}
	sigs, ok := val.(map[string]any)
	if !ok {
		return nil, errs.New(errs.KindMalformedPayload, "LH-VER-003", "signatures must be an object")
	}
	if len(sigs) == 0 {
		return nil, errs.New(errs.KindEmptySignatureSet, "LH-VER-105", "envelope carries no signatures")
	}
	return sigs, nil
}

func reject(err error) Result {
	if !errs.KindOf(err).Rejection() {
		err = errs.Wrap(errs.KindMalformedPayload, "LH-VER-999", "envelope rejected", err)
	}
	return Result{Reason: err}
}
