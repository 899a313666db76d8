// Package envelope models the signed JSON event envelope submitted to the
// relay, and produces its canonical signed content.
//
// Only the signatures member is left out of the signed content. An unsigned
// member, which some signing libraries also strip, is signed like any other
// field, so envelopes signed by such a library that carry one will not verify.
package envelope

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"xdao.co/lighthouse/errs"
	"xdao.co/lighthouse/keys"
)

// FormatVersion is written into every envelope built by New.
const FormatVersion = "1.0"

// TagPrefix starts every tag built by MessageTag.
const TagPrefix = "_lk"

// Envelope is the wire record for one event.
//
// Signatures maps signer identity to key id ("ed25519:0") to an unpadded
// base64 signature over the canonical content of every other field.
type Envelope struct {
	Tag        string                       `json:"tag"`
	UUID       string                       `json:"uuid"`
	Format     string                       `json:"format"`
	Data       map[string]any               `json:"data"`
	Signatures map[string]map[string]string `json:"signatures,omitempty"`
}

// New builds an unsigned envelope with a fresh time-based UUID.
func New(tag string, data map[string]any) (*Envelope, error) {
	if tag == "" {
		return nil, errs.New(errs.KindMissingTagOrSignatures, "LH-ENV-101", "envelope tag cannot be empty")
	}
	id, err := uuid.NewUUID()
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "LH-ENV-901", "uuid generation failed", err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return &Envelope{
		Tag:    tag,
		UUID:   id.String(),
		Format: FormatVersion,
		Data:   data,
	}, nil
}

// Create builds an envelope and signs it as signer in one step.
func Create(signer, tag string, data map[string]any, signingKey ed25519.PrivateKey) (*Envelope, error) {
	env, err := New(tag, data)
	if err != nil {
		return nil, err
	}
	if err := Sign(env, signer, signingKey); err != nil {
		return nil, err
	}
	return env, nil
}

// SignedContent returns the canonical bytes that signatures cover.
func (e *Envelope) SignedContent() ([]byte, error) {
	raw, err := marshal(e)
	if err != nil {
		return nil, err
	}
	return Canonical(raw)
}

// Sign adds signer's ed25519:0 signature. Existing signatures from other
// signers are kept; they do not cover each other.
func Sign(env *Envelope, signer string, signingKey ed25519.PrivateKey) error {
	if signer == "" {
		return errs.New(errs.KindMissingTagOrSignatures, "LH-ENV-102", "signer id cannot be empty")
	}
	if len(signingKey) != ed25519.PrivateKeySize {
		return errs.New(errs.KindInternal, "LH-ENV-103", "invalid ed25519 signing key length")
	}
	msg, err := env.SignedContent()
	if err != nil {
		return err
	}
	if env.Signatures == nil {
		env.Signatures = map[string]map[string]string{}
	}
	keyID := keys.AlgorithmEd25519 + ":" + keys.DefaultKeyIndex
	env.Signatures[signer] = map[string]string{keyID: keys.Sign(msg, signingKey)}
	return nil
}

// Marshal returns the wire bytes of env.
func Marshal(env *Envelope) ([]byte, error) {
	return marshal(env)
}

// Parse decodes wire bytes into an Envelope. It does not verify anything.
func Parse(raw []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, errs.Wrap(errs.KindMalformedPayload, "LH-ENV-001", "invalid envelope", err)
	}
	return &env, nil
}

// MessageTag builds a "_lk.<module>.<subject>" tag.
func MessageTag(module, subject string) string {
	return fmt.Sprintf("%s.%s.%s", TagPrefix, strings.ToLower(module), subject)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "LH-ENV-902", "envelope encoding failed", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
