package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"

	"xdao.co/lighthouse/compliance"
	"xdao.co/lighthouse/errs"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lighthouse.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate: %v", err)
	}
}

func TestLoadFile_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"trusted_keys_dir": "/srv/keys",
		"submit_endpoint": "ipc:///run/lighthouse.sock",
		"verify_policy": "first-resolved-signer",
		"queue_size": 16,
		"log": {"level": "debug", "development": true},
		"publishers": [{"name": "nats", "config": {"url": "nats://n:4222"}}]
	}`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.TrustedKeysDir != "/srv/keys" || cfg.SubmitEndpoint != "ipc:///run/lighthouse.sock" || cfg.QueueSize != 16 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.PublishEndpoint != DefaultPublishEndpoint {
		t.Fatalf("unset fields keep defaults, got publish endpoint %q", cfg.PublishEndpoint)
	}
	if m, _ := cfg.Mode(); m != compliance.Strict {
		t.Fatalf("expected strict mode, got %v", m)
	}
	if lvl, _ := cfg.Log.ZapLevel(); lvl != zapcore.DebugLevel || !cfg.Log.Development {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if len(cfg.Publishers) != 1 || cfg.Publishers[0].Config["url"] != "nats://n:4222" {
		t.Fatalf("unexpected publishers %+v", cfg.Publishers)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	cases := map[string]struct {
		body string
		rule string
	}{
		"unknown-field":    {body: `{"trusted_key_dir": "/x"}`, rule: "LH-CFG-203"},
		"not-json":         {body: `trusted_keys_dir=/x`, rule: "LH-CFG-203"},
		"empty-keys-dir":   {body: `{"trusted_keys_dir": ""}`, rule: "LH-CFG-001"},
		"same-endpoints":   {body: `{"submit_endpoint": "tcp://*:1", "publish_endpoint": "tcp://*:1"}`, rule: "LH-CFG-213"},
		"negative-queue":   {body: `{"queue_size": -1}`, rule: "LH-CFG-220"},
		"bad-policy":       {body: `{"verify_policy": "whoever"}`, rule: "LH-CFG-230"},
		"bad-level":        {body: `{"log": {"level": "loud"}}`, rule: "LH-CFG-240"},
		"dup-publishers":   {body: `{"publishers": [{"name": "nats"}, {"name": "nats"}]}`, rule: "LH-CFG-250"},
		"nameless-backend": {body: `{"publishers": [{"config": {}}]}`, rule: "LH-CFG-250"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tc.body))
			if !errs.IsKind(err, errs.KindConfig) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if errs.RuleID(err) != tc.rule {
				t.Fatalf("expected %s, got %s (%v)", tc.rule, errs.RuleID(err), err)
			}
		})
	}

	for body, rule := range map[string]string{
		`{"submit_endpoint": "localhost:5570"}`: "LH-BIND-011",
		`{"publish_endpoint": "tcp://*"}`:       "LH-BIND-012",
	} {
		_, err := LoadFile(writeConfig(t, body))
		if !errs.IsKind(err, errs.KindBind) || errs.RuleID(err) != rule {
			t.Fatalf("%s: expected %s BindError, got %v", body, rule, err)
		}
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); errs.RuleID(err) != "LH-CFG-202" {
		t.Fatalf("expected LH-CFG-202 for missing file, got %v", err)
	}
	if _, err := LoadFile(""); errs.RuleID(err) != "LH-CFG-201" {
		t.Fatalf("expected LH-CFG-201 for empty path, got %v", err)
	}
}
