package keys

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CheckSignerID validates a signer identity used to name generated key files.
// Loaded trust directories accept any identity; this only guards tooling.
func CheckSignerID(id string) error {
	if id == "" {
		return errors.New("signer id cannot be empty")
	}
	for _, char := range id {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' || char == '.' {
			continue
		}
		return fmt.Errorf("invalid character %q in signer id", char)
	}
	return nil
}

// Generate creates a new Ed25519 key pair for signer id.
func Generate(id string, rand io.Reader) (KeyFile, error) {
	if err := CheckSignerID(id); err != nil {
		return KeyFile{}, err
	}
	pub, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return KeyFile{}, err
	}
	vk, err := NewVerifyKey(pub)
	if err != nil {
		return KeyFile{}, err
	}
	return KeyFile{ID: id, VerifyKey: vk, SigningKey: priv}, nil
}

// FromSeed rebuilds a key pair from a 32-byte Ed25519 seed.
func FromSeed(id string, seed []byte) (KeyFile, error) {
	if len(seed) != ed25519.SeedSize {
		return KeyFile{}, fmt.Errorf("expected seed length of %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	vk, err := NewVerifyKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return KeyFile{}, err
	}
	return KeyFile{ID: id, VerifyKey: vk, SigningKey: priv}, nil
}

// WriteKeyFile writes kf to path. Files holding a signing seed are created
// 0600; public key files 0644. Existing files are only replaced when
// overwrite is set.
func WriteKeyFile(path string, kf KeyFile, includeSigningKey, overwrite bool) error {
	if kf.ID == "" {
		return errors.New("key file requires a signer id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	perm := os.FileMode(0o644)
	if includeSigningKey {
		if len(kf.SigningKey) != ed25519.PrivateKeySize {
			return errors.New("key file has no signing key to write")
		}
		perm = 0o600
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(kf.Render(includeSigningKey)); err != nil {
		return err
	}
	return f.Close()
}

// ReadKeyFile parses the key file at path.
func ReadKeyFile(path string) (KeyFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return KeyFile{}, err
	}
	defer f.Close()
	return ParseKeyFile(f)
}

// ReadSigningKey returns the signer identity and signing key stored in a
// sender-side key file.
func ReadSigningKey(path string) (string, ed25519.PrivateKey, error) {
	kf, err := ReadKeyFile(path)
	if err != nil {
		return "", nil, err
	}
	if kf.SigningKey == nil {
		return "", nil, fmt.Errorf("%s: no signing-key in ed section", filepath.Base(path))
	}
	return kf.ID, kf.SigningKey, nil
}

func encodeSeed(priv ed25519.PrivateKey) string {
	return base64.RawStdEncoding.EncodeToString(priv.Seed())
}
