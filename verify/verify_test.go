package verify

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"xdao.co/lighthouse/compliance"
	"xdao.co/lighthouse/envelope"
	"xdao.co/lighthouse/errs"
	"xdao.co/lighthouse/keys"
)

type staticKeys map[string]keys.VerifyKey

func (s staticKeys) Lookup(signer string) (keys.VerifyKey, bool) {
	k, ok := s[signer]
	return k, ok
}

func keyFor(t *testing.T, id string, b byte) keys.KeyFile {
	t.Helper()
	seed := bytes.Repeat([]byte{b}, ed25519.SeedSize)
	kf, err := keys.FromSeed(id, seed)
	if err != nil {
		t.Fatalf("FromSeed: %v", err)
	}
	return kf
}

func signed(t *testing.T, tag string, data map[string]any, signers ...keys.KeyFile) []byte {
	t.Helper()
	env, err := envelope.New(tag, data)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, kf := range signers {
		if err := envelope.Sign(env, kf.ID, kf.SigningKey); err != nil {
			t.Fatalf("Sign: %v", err)
		}
	}
	raw, err := envelope.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return raw
}

func TestVerify_AcceptsTrustedSigner(t *testing.T) {
	alice := keyFor(t, "alice", 1)
	trusted := staticKeys{"alice": alice.VerifyKey}
	raw := signed(t, "_lk.testsuite.dummy", map[string]any{"aaa": "bbb"}, alice)

	res := New(compliance.Permissive).Verify(raw, trusted)
	if !res.Accepted {
		t.Fatalf("expected accept, got %v", res.Reason)
	}
	if res.Topic != "_lk.testsuite.dummy" || res.Signer != "alice" {
		t.Fatalf("unexpected result %+v", res)
	}
	if !bytes.Equal(res.Payload, raw) {
		t.Fatalf("payload must be forwarded byte-identical")
	}
	if res.Kind() != "" {
		t.Fatalf("accepted result has kind %s", res.Kind())
	}
}

func TestVerify_AcceptsFromLoadedStore(t *testing.T) {
	dir := t.TempDir()
	alice := keyFor(t, "alice", 1)
	if err := keys.WriteKeyFile(filepath.Join(dir, "alice.key"), alice, false, false); err != nil {
		t.Fatalf("WriteKeyFile: %v", err)
	}
	store, err := keys.Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	raw := signed(t, "_lk.jobs.job-finished", map[string]any{"job_id": "j1", "result": "success"}, alice)
	if res := New(compliance.Permissive).Verify(raw, store.Snapshot()); !res.Accepted {
		t.Fatalf("expected accept, got %v", res.Reason)
	}
}

func TestVerify_Rejections(t *testing.T) {
	alice := keyFor(t, "alice", 1)
	bob := keyFor(t, "bob", 2)
	trusted := staticKeys{"alice": alice.VerifyKey}

	good := signed(t, "_lk.testsuite.dummy", map[string]any{"aaa": "bbb"}, alice)
	tampered := bytes.Replace(good, []byte(`"bbb"`), []byte(`"ccc"`), 1)
	if bytes.Equal(good, tampered) {
		t.Fatalf("tamper did not change payload")
	}

	cases := map[string]struct {
		raw  []byte
		want errs.Kind
	}{
		"not-json":            {raw: []byte("definitely not json"), want: errs.KindMalformedPayload},
		"binary":              {raw: []byte{0xff, 0x00, 0x13}, want: errs.KindMalformedPayload},
		"array":               {raw: []byte(`[1,2,3]`), want: errs.KindMalformedPayload},
		"tag-not-string":      {raw: []byte(`{"tag":5,"signatures":{"alice":{}}}`), want: errs.KindMalformedPayload},
		"signatures-list":     {raw: []byte(`{"tag":"a","signatures":["alice"]}`), want: errs.KindMalformedPayload},
		"no-tag":              {raw: []byte(`{"signatures":{"alice":{"ed25519:0":"x"}}}`), want: errs.KindMissingTagOrSignatures},
		"empty-tag":           {raw: []byte(`{"tag":"","signatures":{"alice":{"ed25519:0":"x"}}}`), want: errs.KindMissingTagOrSignatures},
		"null-tag":            {raw: []byte(`{"tag":null,"signatures":{"alice":{"ed25519:0":"x"}}}`), want: errs.KindMissingTagOrSignatures},
		"no-signatures":       {raw: []byte(`{"tag":"a","data":{}}`), want: errs.KindMissingTagOrSignatures},
		"empty-signatures":    {raw: []byte(`{"tag":"a","signatures":""}`), want: errs.KindMissingTagOrSignatures},
		"empty-signature-set": {raw: []byte(`{"tag":"a","signatures":{}}`), want: errs.KindEmptySignatureSet},
		"untrusted":           {raw: signed(t, "_lk.testsuite.dummy", nil, bob), want: errs.KindNoTrustedSigner},
		"tampered":            {raw: tampered, want: errs.KindInvalidSignature},
		"missing-key-id":      {raw: []byte(`{"tag":"a","signatures":{"alice":{"ed25519:1":"x"}}}`), want: errs.KindInvalidSignature},
		"garbage-signature":   {raw: []byte(`{"tag":"a","signatures":{"alice":{"ed25519:0":"!!"}}}`), want: errs.KindInvalidSignature},
		"signer-not-object":   {raw: []byte(`{"tag":"a","signatures":{"alice":"sig"}}`), want: errs.KindInvalidSignature},
		"truncated":           {raw: good[:len(good)/2], want: errs.KindMalformedPayload},
	}
	v := New(compliance.Permissive)
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			res := v.Verify(tc.raw, trusted)
			if res.Accepted {
				t.Fatalf("expected rejection")
			}
			if got := res.Kind(); got != tc.want {
				t.Fatalf("expected %s, got %s (%v)", tc.want, got, res.Reason)
			}
			if errs.RuleID(res.Reason) == "" {
				t.Fatalf("rejection reason has no rule id: %v", res.Reason)
			}
		})
	}
}

func TestVerify_NilKeyLookup(t *testing.T) {
	alice := keyFor(t, "alice", 1)
	raw := signed(t, "_lk.testsuite.dummy", nil, alice)
	res := New(compliance.Permissive).Verify(raw, nil)
	if res.Kind() != errs.KindNoTrustedSigner {
		t.Fatalf("expected NoTrustedSigner, got %v", res.Reason)
	}
	var snap *keys.Snapshot
	if res := New(compliance.Permissive).Verify(raw, snap); res.Kind() != errs.KindNoTrustedSigner {
		t.Fatalf("expected NoTrustedSigner from nil snapshot, got %v", res.Reason)
	}
}

// multiSigned returns an envelope where "aaron" (sorting first) carries a
// corrupt signature and "alice" a valid one.
func multiSigned(t *testing.T) ([]byte, staticKeys) {
	t.Helper()
	aaron := keyFor(t, "aaron", 3)
	alice := keyFor(t, "alice", 1)
	raw := signed(t, "_lk.testsuite.multi", map[string]any{"n": 1}, aaron, alice)

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	sigs := obj["signatures"].(map[string]any)
	aliceSig := sigs["alice"].(map[string]any)["ed25519:0"].(string)
	// aaron "signs" with alice's signature: decodable but invalid for aaron's key.
	sigs["aaron"] = map[string]any{"ed25519:0": aliceSig}
	raw, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return raw, staticKeys{"aaron": aaron.VerifyKey, "alice": alice.VerifyKey}
}

func TestVerify_MultiSignerFallback(t *testing.T) {
	raw, trusted := multiSigned(t)

	res := New(compliance.Permissive).Verify(raw, trusted)
	if !res.Accepted {
		t.Fatalf("permissive: expected accept via alice, got %v", res.Reason)
	}
	if res.Signer != "alice" {
		t.Fatalf("permissive: expected signer alice, got %s", res.Signer)
	}

	res = New(compliance.Strict).Verify(raw, trusted)
	if res.Kind() != errs.KindInvalidSignature {
		t.Fatalf("strict: expected InvalidSignature, got %v", res.Reason)
	}
	if !strings.Contains(res.Reason.Error(), "aaron") {
		t.Fatalf("strict: reason should name the failing signer: %v", res.Reason)
	}
}

func TestVerify_UntrustedSignersIgnoredInStrictMode(t *testing.T) {
	alice := keyFor(t, "alice", 1)
	aaron := keyFor(t, "aaron", 3)
	// aaron sorts first but is not trusted, so strict mode evaluates alice.
	raw := signed(t, "_lk.testsuite.multi", nil, aaron, alice)
	res := New(compliance.Strict).Verify(raw, staticKeys{"alice": alice.VerifyKey})
	if !res.Accepted || res.Signer != "alice" {
		t.Fatalf("expected accept via alice, got %+v", res)
	}
}

func TestVerify_AllTrustedInvalid(t *testing.T) {
	raw, trusted := multiSigned(t)
	// Corrupt alice's signature too.
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)
	obj["signatures"].(map[string]any)["alice"] = map[string]any{"ed25519:0": "AAAA"}
	raw, _ = json.Marshal(obj)

	res := New(compliance.Permissive).Verify(raw, trusted)
	if res.Kind() != errs.KindInvalidSignature {
		t.Fatalf("expected InvalidSignature, got %v", res.Reason)
	}
}

func TestVerify_ReencodedEnvelopeStillVerifies(t *testing.T) {
	alice := keyFor(t, "alice", 1)
	raw := signed(t, "_lk.testsuite.dummy", map[string]any{"z": "last", "a": "first", "u": "ünïcödé"}, alice)

	// Reordering keys and adding whitespace does not change canonical content.
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	pretty, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent: %v", err)
	}
	res := New(compliance.Permissive).Verify(pretty, staticKeys{"alice": alice.VerifyKey})
	if !res.Accepted {
		t.Fatalf("expected accept, got %v", res.Reason)
	}
	if !bytes.Equal(res.Payload, pretty) {
		t.Fatalf("payload must be the submitted bytes")
	}
}

func TestVerify_RejectsRepeatedMembers(t *testing.T) {
	alice := keyFor(t, "alice", 1)
	trusted := staticKeys{"alice": alice.VerifyKey}
	raw := signed(t, "_lk.testsuite.dummy", map[string]any{"aaa": "bbb"}, alice)
	if res := New(compliance.Permissive).Verify(raw, trusted); !res.Accepted {
		t.Fatalf("baseline: expected accept, got %v", res.Reason)
	}

	// An unsigned "data" member placed ahead of the signed one.
	injected := append([]byte(`{"data":{"aaa":"EVIL"},`), raw[1:]...)
	for _, mode := range []compliance.Mode{compliance.Permissive, compliance.Strict} {
		res := New(mode).Verify(injected, trusted)
		if res.Accepted {
			t.Fatalf("%s: envelope with repeated member was accepted", mode)
		}
		if res.Kind() != errs.KindMalformedPayload || errs.RuleID(res.Reason) != "LH-ENV-004" {
			t.Fatalf("%s: expected LH-ENV-004 MalformedPayload, got %v", mode, res.Reason)
		}
	}

	// Repeated signer entries inside signatures are rejected the same way.
	sigStart := bytes.Index(raw, []byte(`"signatures":{`)) + len(`"signatures":{`)
	dupSig := append(append(append([]byte{}, raw[:sigStart]...), []byte(`"alice":{"ed25519:0":"x"},`)...), raw[sigStart:]...)
	if res := New(compliance.Permissive).Verify(dupSig, trusted); errs.RuleID(res.Reason) != "LH-ENV-004" {
		t.Fatalf("repeated signer: expected LH-ENV-004, got %v", res.Reason)
	}
}

func TestVerify_StrictOrdersSignersByIdentity(t *testing.T) {
	alice := keyFor(t, "alice", 1)
	zed := keyFor(t, "zed", 4)
	trusted := staticKeys{"alice": alice.VerifyKey, "zed": zed.VerifyKey}
	raw := signed(t, "_lk.testsuite.order", map[string]any{"n": 1}, alice)

	// zed is listed first in the document with a signature that does not
	// verify; alice sorts first and is the one Strict evaluates.
	sigStart := bytes.Index(raw, []byte(`"signatures":{`)) + len(`"signatures":{`)
	reordered := append(append(append([]byte{}, raw[:sigStart]...), []byte(`"zed":{"ed25519:0":"AAAA"},`)...), raw[sigStart:]...)

	res := New(compliance.Strict).Verify(reordered, trusted)
	if !res.Accepted || res.Signer != "alice" {
		t.Fatalf("strict: expected accept via alice, got %+v", res)
	}
}

func TestVerify_UnsignedMemberIsSigned(t *testing.T) {
	alice := keyFor(t, "alice", 1)
	trusted := staticKeys{"alice": alice.VerifyKey}
	raw := signed(t, "_lk.testsuite.dummy", map[string]any{"aaa": "bbb"}, alice)

	withUnsigned := append([]byte(`{"unsigned":{"age_ts":1},`), raw[1:]...)
	res := New(compliance.Permissive).Verify(withUnsigned, trusted)
	if res.Kind() != errs.KindInvalidSignature {
		t.Fatalf("expected InvalidSignature, got %v", res.Reason)
	}
}

func TestVerify_NeverPanics(t *testing.T) {
	alice := keyFor(t, "alice", 1)
	trusted := staticKeys{"alice": alice.VerifyKey}
	raw := signed(t, "_lk.testsuite.dummy", map[string]any{"aaa": "bbb"}, alice)
	v := New(compliance.Permissive)
	for i := 0; i <= len(raw); i++ {
		_ = v.Verify(raw[:i], trusted)
	}
	data, err := os.ReadFile("verify_test.go")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if res := v.Verify(data, trusted); res.Kind() != errs.KindMalformedPayload {
		t.Fatalf("expected MalformedPayload for Go source, got %v", res.Reason)
	}
}
