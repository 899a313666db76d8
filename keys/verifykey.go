package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"xdao.co/lighthouse/errs"
)

const (
	// AlgorithmEd25519 is the only signature algorithm trusted by the relay.
	AlgorithmEd25519 = "ed25519"
	// DefaultKeyIndex is the key index every trusted key is registered under.
	DefaultKeyIndex = "0"
)

// VerifyKey is a trusted public key tagged with its algorithm and key index.
type VerifyKey struct {
	Algorithm string
	Index     string
	Key       ed25519.PublicKey
}

// NewVerifyKey wraps raw Ed25519 public key bytes as ed25519:0.
func NewVerifyKey(raw []byte) (VerifyKey, error) {
	if l := len(raw); l != ed25519.PublicKeySize {
		return VerifyKey{}, errs.New(errs.KindConfig, "LH-KEY-114",
			fmt.Sprintf("ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, l))
	}
	return VerifyKey{
		Algorithm: AlgorithmEd25519,
		Index:     DefaultKeyIndex,
		Key:       ed25519.PublicKey(append([]byte(nil), raw...)),
	}, nil
}

// ID returns the signature-map key for this verify key, e.g. "ed25519:0".
func (k VerifyKey) ID() string {
	return k.Algorithm + ":" + k.Index
}

// Encoded returns the unpadded base64 form written into key files.
func (k VerifyKey) Encoded() string {
	return base64.RawStdEncoding.EncodeToString(k.Key)
}

func (k VerifyKey) String() string {
	return k.ID() + " " + k.Encoded()
}

// Equal reports whether both keys carry the same algorithm, index and bytes.
func (k VerifyKey) Equal(o VerifyKey) bool {
	return k.Algorithm == o.Algorithm && k.Index == o.Index && bytes.Equal(k.Key, o.Key)
}

// Verify checks an encoded signature over message.
func (k VerifyKey) Verify(message []byte, signature string) error {
	if k.Algorithm != AlgorithmEd25519 {
		return errs.New(errs.KindInvalidSignature, "LH-SIG-301", "unsupported signature algorithm "+k.Algorithm)
	}
	if len(k.Key) != ed25519.PublicKeySize {
		return errs.New(errs.KindInvalidSignature, "LH-SIG-114", "invalid ed25519 public key length")
	}
	if signature == "" {
		return errs.New(errs.KindInvalidSignature, "LH-SIG-104", "missing signature")
	}
	sig, err := decodeBase64(signature)
	if err != nil {
		return errs.Wrap(errs.KindInvalidSignature, "LH-SIG-131", "invalid signature base64", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return errs.New(errs.KindInvalidSignature, "LH-SIG-132", "invalid ed25519 signature length")
	}
	if !ed25519.Verify(k.Key, message, sig) {
		return errs.New(errs.KindInvalidSignature, "LH-SIG-401", "signature invalid")
	}
	return nil
}

// Sign returns the unpadded base64 Ed25519 signature of message.
func Sign(message []byte, privateKey ed25519.PrivateKey) string {
	return base64.RawStdEncoding.EncodeToString(ed25519.Sign(privateKey, message))
}

func decodeBase64(s string) ([]byte, error) {
	// Senders emit unpadded base64, but padded input is accepted too.
	if b, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
