package keys

import (
	"bufio"
	"crypto/ed25519"
	"fmt"
	"io"
	"strings"

	"xdao.co/lighthouse/errs"
)

const (
	sectionMetadata = "metadata"
	sectionEd       = "ed"

	fieldID         = "id"
	fieldVerifyKey  = "verify-key"
	fieldSigningKey = "signing-key"
)

type section int

const (
	sectionNone section = iota
	inMetadata
	inEd
)

// KeyFile is the content of one key file.
//
// SigningKey is only present in sender-side key files; trust directories
// should hold public key files only.
type KeyFile struct {
	ID         string
	VerifyKey  VerifyKey
	SigningKey ed25519.PrivateKey
}

// ParseKeyFile reads a key file and returns its signer identity and keys.
//
// Lines are scanned with a two-section state machine: a bare "metadata" or
// "ed" line opens that section, and any line without leading whitespace closes
// the open section. Unknown fields are ignored. A file lacking either the
// metadata id or the ed verify-key is incomplete (LH-KEY-010).
func ParseKeyFile(r io.Reader) (KeyFile, error) {
	var (
		state     = sectionNone
		id        string
		verifyB64 string
		signB64   string
		haveID    bool
		haveKey   bool
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		raw := sc.Text()
		if !indented(raw) {
			state = sectionNone
		}
		line := strings.TrimSpace(raw)
		switch line {
		case sectionMetadata:
			state = inMetadata
			continue
		case sectionEd:
			state = inEd
			continue
		}
		if state == sectionNone {
			continue
		}
		key, val, ok := splitField(line)
		if !ok {
			continue
		}
		switch state {
		case inMetadata:
			if key == fieldID {
				id, haveID = val, val != ""
			}
		case inEd:
			switch key {
			case fieldVerifyKey:
				verifyB64, haveKey = val, val != ""
			case fieldSigningKey:
				signB64 = val
			}
		}
	}
	if err := sc.Err(); err != nil {
		return KeyFile{}, errs.Wrap(errs.KindConfig, "LH-KEY-999", "read failure", err)
	}

	if !haveID || !haveKey {
		return KeyFile{}, errs.New(errs.KindConfig, "LH-KEY-010", "key file lacks metadata id or ed verify-key")
	}

	raw, err := decodeBase64(verifyB64)
	if err != nil {
		return KeyFile{}, errs.Wrap(errs.KindConfig, "LH-KEY-113", "invalid verify-key base64", err)
	}
	vk, err := NewVerifyKey(raw)
	if err != nil {
		return KeyFile{}, err
	}
	kf := KeyFile{ID: id, VerifyKey: vk}

	if signB64 != "" {
		seed, err := decodeBase64(signB64)
		if err != nil {
			return KeyFile{}, errs.Wrap(errs.KindConfig, "LH-KEY-123", "invalid signing-key base64", err)
		}
		if len(seed) != ed25519.SeedSize {
			return KeyFile{}, errs.New(errs.KindConfig, "LH-KEY-124",
				fmt.Sprintf("signing-key must be a %d byte seed, got %d", ed25519.SeedSize, len(seed)))
		}
		priv := ed25519.NewKeyFromSeed(seed)
		if !vk.Key.Equal(priv.Public()) {
			return KeyFile{}, errs.New(errs.KindConfig, "LH-KEY-125", "signing-key does not match verify-key")
		}
		kf.SigningKey = priv
	}
	return kf, nil
}

// Render returns the key-file text for kf. The signing seed is only written
// when includeSigningKey is set and kf carries one.
func (kf KeyFile) Render(includeSigningKey bool) []byte {
	var b strings.Builder
	b.WriteString(sectionMetadata + "\n")
	fmt.Fprintf(&b, "    %s = %q\n", fieldID, kf.ID)
	b.WriteString(sectionEd + "\n")
	fmt.Fprintf(&b, "    %s = %q\n", fieldVerifyKey, kf.VerifyKey.Encoded())
	if includeSigningKey && len(kf.SigningKey) == ed25519.PrivateKeySize {
		fmt.Fprintf(&b, "    %s = %q\n", fieldSigningKey, encodeSeed(kf.SigningKey))
	}
	return []byte(b.String())
}

func indented(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

// splitField splits `key = value` on the first '=' and strips whitespace and
// surrounding double quotes from the value. Base64 padding after the first
// '=' is preserved.
func splitField(line string) (key, val string, ok bool) {
	k, v, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	k = strings.TrimSpace(k)
	if k == "" {
		return "", "", false
	}
	v = strings.Trim(strings.TrimSpace(v), `"`)
	return k, v, true
}
