package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"xdao.co/lighthouse/app"
	"xdao.co/lighthouse/cidutil"
	"xdao.co/lighthouse/config"
	"xdao.co/lighthouse/envelope"
	"xdao.co/lighthouse/keys"
)

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func initKey(t *testing.T, dir, id string) (secret, public string) {
	t.Helper()
	secret = filepath.Join(dir, id+".secret")
	public = filepath.Join(dir, "trusted", id+".key")
	if code, _, stderr := runCmd(t, "key", "init", "--id", id, "--out", secret, "--public", public); code != 0 {
		t.Fatalf("key init exit %d: %s", code, stderr)
	}
	return secret, public
}

func TestUsage(t *testing.T) {
	if code, _, _ := runCmd(t); code != 2 {
		t.Fatalf("no args: got %d", code)
	}
	if code, out, _ := runCmd(t, "help"); code != 0 || !strings.Contains(out, "xdao-lkevent submit") {
		t.Fatalf("help: %d %q", code, out)
	}
	if code, _, _ := runCmd(t, "bogus"); code != 2 {
		t.Fatalf("unknown command: got %d", code)
	}
}

func TestKeyInitAndShow(t *testing.T) {
	dir := t.TempDir()
	secret, public := initKey(t, dir, "alice")

	code, out, stderr := runCmd(t, "key", "show", public)
	if code != 0 {
		t.Fatalf("key show exit %d: %s", code, stderr)
	}
	if !strings.Contains(out, "id: alice\n") || !strings.Contains(out, "ed25519:0: ") {
		t.Fatalf("unexpected key show output: %q", out)
	}
	if strings.Contains(out, "signing-key") {
		t.Fatalf("public key file must not carry a signing key")
	}

	_, out, _ = runCmd(t, "key", "show", secret)
	if !strings.Contains(out, "signing-key: present") {
		t.Fatalf("secret key file should report signing key: %q", out)
	}

	if code, _, _ := runCmd(t, "key", "init", "--id", "alice", "--out", secret); code != 1 {
		t.Fatalf("overwrite without --force: got %d", code)
	}
	if code, _, _ := runCmd(t, "key", "init", "--id", "bad id", "--out", filepath.Join(dir, "x")); code != 2 {
		t.Fatalf("invalid id: got %d", code)
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	secret, _ := initKey(t, dir, "alice")
	trusted := filepath.Join(dir, "trusted")

	id, priv, err := keys.ReadSigningKey(secret)
	if err != nil {
		t.Fatalf("ReadSigningKey: %v", err)
	}
	env, err := envelope.Create(id, "_lk.test.verify", map[string]any{"ok": true}, priv)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	raw, _ := envelope.Marshal(env)
	good := filepath.Join(dir, "good.json")
	if err := os.WriteFile(good, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	code, out, stderr := runCmd(t, "verify", "--keys-dir", trusted, good)
	if code != 0 || !strings.HasPrefix(out, "ACCEPTED topic=_lk.test.verify signer=alice") {
		t.Fatalf("verify good: %d %q %s", code, out, stderr)
	}

	bad := filepath.Join(dir, "bad.json")
	tampered := bytes.Replace(raw, []byte(`"ok":true`), []byte(`"ok":false`), 1)
	if err := os.WriteFile(bad, tampered, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	code, out, _ = runCmd(t, "verify", "--keys-dir", trusted, "--policy", "first-resolved-signer", bad)
	if code != 1 || !strings.HasPrefix(out, "REJECTED InvalidSignature") {
		t.Fatalf("verify tampered: %d %q", code, out)
	}

	if code, _, _ := runCmd(t, "verify", "--keys-dir", trusted, "--policy", "lenient", good); code != 2 {
		t.Fatalf("bad policy: got %d", code)
	}
}

func TestCID(t *testing.T) {
	p := filepath.Join(t.TempDir(), "payload")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	code, out, _ := runCmd(t, "cid", p)
	if code != 0 || !cidutil.Matches(strings.TrimSpace(out), []byte("hello")) {
		t.Fatalf("cid: %d %q", code, out)
	}
}

func TestSubmitAndListen(t *testing.T) {
	dir := t.TempDir()
	secret, _ := initKey(t, dir, "alice")

	cfg := config.Default()
	cfg.TrustedKeysDir = filepath.Join(dir, "trusted")
	cfg.SubmitEndpoint = "tcp://127.0.0.1:0"
	cfg.PublishEndpoint = "tcp://localhost:0"
	cfg.AdminListen = ""
	a, err := app.New(cfg, nil)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	type result struct {
		code int
		out  string
	}
	listened := make(chan result, 1)
	go func() {
		var out, errOut bytes.Buffer
		code := run([]string{"listen", "--endpoint", a.PublishAddr(), "--prefix", "_lk.test.", "--count", "1"}, &out, &errOut)
		listened <- result{code, out.String()}
	}()

	// The listener may attach after the first submission; keep submitting
	// until it reports an event.
	var cid string
	deadline := time.After(10 * time.Second)
	for {
		code, out, stderr := runCmd(t, "submit", "--endpoint", a.SubmitAddr(), "--key", secret,
			"--tag", "_lk.test.cli", "--data", `{"n":1}`)
		if code != 0 {
			t.Fatalf("submit exit %d: %s", code, stderr)
		}
		cid = strings.TrimSpace(out)
		select {
		case r := <-listened:
			if r.code != 0 || !strings.HasPrefix(r.out, "_lk.test.cli {") {
				t.Fatalf("listen: %d %q", r.code, r.out)
			}
			if cid == "" {
				t.Fatalf("submit printed no cid")
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatalf("listener never received an event")
		}
	}
}
