// Package config loads the relay daemon's JSON configuration.
//
// Example:
//
//	{
//	  "trusted_keys_dir": "/etc/xdao-lighthouse/trusted-keys",
//	  "submit_endpoint": "tcp://*:5570",
//	  "publish_endpoint": "tcp://*:5571",
//	  "admin_listen": "127.0.0.1:9570",
//	  "verify_policy": "any-trusted-signer",
//	  "log": {"level": "info"},
//	  "publishers": [
//	    {"name": "nats", "config": {"url": "nats://127.0.0.1:4222"}},
//	    {"name": "redis", "config": {"addr": "127.0.0.1:6379", "channel_prefix": "lighthouse:"}}
//	  ]
//	}
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap/zapcore"

	"xdao.co/lighthouse/compliance"
	"xdao.co/lighthouse/errs"
	"xdao.co/lighthouse/pubsub"
	"xdao.co/lighthouse/transport"
)

const (
	DefaultTrustedKeysDir  = "/etc/xdao-lighthouse/trusted-keys"
	DefaultSubmitEndpoint  = "tcp://*:5570"
	DefaultPublishEndpoint = "tcp://*:5571"
	DefaultAdminListen     = "127.0.0.1:9570"
)

type Config struct {
	TrustedKeysDir string `json:"trusted_keys_dir"`
	SubmitEndpoint string `json:"submit_endpoint"`
	// PublishEndpoint serves the in-process hub over gRPC; empty disables it.
	PublishEndpoint string `json:"publish_endpoint"`
	// AdminListen is a host:port for the admin HTTP server; empty disables it.
	AdminListen string `json:"admin_listen"`

	// QueueSize bounds the publish channel between verifier and publishers.
	QueueSize int `json:"queue_size,omitempty"`
	// InboxSize bounds the router queue of received, unverified messages.
	InboxSize int `json:"inbox_size,omitempty"`
	// SubscriberBuffer bounds each publish-endpoint subscriber's queue.
	SubscriberBuffer int `json:"subscriber_buffer,omitempty"`
	MaxMsgBytes      int `json:"max_msg_bytes,omitempty"`

	VerifyPolicy string `json:"verify_policy,omitempty"`

	Log        Log                    `json:"log"`
	Publishers []pubsub.BackendConfig `json:"publishers,omitempty"`
}

type Log struct {
	Level       string `json:"level,omitempty"`
	Development bool   `json:"development,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		TrustedKeysDir:  DefaultTrustedKeysDir,
		SubmitEndpoint:  DefaultSubmitEndpoint,
		PublishEndpoint: DefaultPublishEndpoint,
		AdminListen:     DefaultAdminListen,
		VerifyPolicy:    compliance.NameAnyTrustedSigner,
		Log:             Log{Level: "info"},
	}
}

// LoadFile reads path over Default() and validates the result. Unknown
// fields are rejected.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errs.New(errs.KindConfig, "LH-CFG-201", "empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errs.Wrap(errs.KindConfig, "LH-CFG-202", "cannot read config file", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errs.Wrap(errs.KindConfig, "LH-CFG-203", "invalid config file "+path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks every field. A malformed endpoint keeps the BindError kind
// it would get at bind time; every other failure is a ConfigError.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TrustedKeysDir) == "" {
		return errs.New(errs.KindConfig, "LH-CFG-001", "trusted_keys_dir is required")
	}
	if c.SubmitEndpoint == "" {
		return errs.New(errs.KindConfig, "LH-CFG-210", "submit_endpoint is required")
	}
	if _, err := transport.ParseEndpoint(c.SubmitEndpoint); err != nil {
		return errs.Wrap(errs.KindBind, "LH-BIND-011", "invalid submit_endpoint", err)
	}
	if c.PublishEndpoint != "" {
		if _, err := transport.ParseEndpoint(c.PublishEndpoint); err != nil {
			return errs.Wrap(errs.KindBind, "LH-BIND-012", "invalid publish_endpoint", err)
		}
		if c.PublishEndpoint == c.SubmitEndpoint {
			return errs.New(errs.KindConfig, "LH-CFG-213", "publish_endpoint must differ from submit_endpoint")
		}
	}
	for name, v := range map[string]int{"queue_size": c.QueueSize, "inbox_size": c.InboxSize, "subscriber_buffer": c.SubscriberBuffer, "max_msg_bytes": c.MaxMsgBytes} {
		if v < 0 {
			return errs.New(errs.KindConfig, "LH-CFG-220", fmt.Sprintf("%s must not be negative", name))
		}
	}
	if _, err := c.Mode(); err != nil {
		return errs.Wrap(errs.KindConfig, "LH-CFG-230", "invalid verify_policy", err)
	}
	if _, err := c.Log.ZapLevel(); err != nil {
		return errs.Wrap(errs.KindConfig, "LH-CFG-240", "invalid log.level", err)
	}
	if err := pubsub.ValidateConfigs(c.Publishers); err != nil {
		return errs.Wrap(errs.KindConfig, "LH-CFG-250", "invalid publishers", err)
	}
	return nil
}

// Mode returns the verifier policy named by VerifyPolicy.
func (c Config) Mode() (compliance.Mode, error) {
	return compliance.ParseMode(c.VerifyPolicy)
}

// ZapLevel parses Level; empty means info.
func (l Log) ZapLevel() (zapcore.Level, error) {
	if l.Level == "" {
		return zapcore.InfoLevel, nil
	}
	return zapcore.ParseLevel(l.Level)
}
