// Package natspub publishes accepted events to NATS, one subject per topic.
package natspub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"xdao.co/lighthouse/pubsub"
)

const backendName = "nats"

func init() {
	pubsub.MustRegister(pubsub.Backend{
		Name:        backendName,
		Description: "NATS publisher (subject = event tag)",
		Open: func(cfg map[string]string) (pubsub.Publisher, error) {
			opts, err := optionsFromConfig(cfg)
			if err != nil {
				return nil, err
			}
			return Connect(opts)
		},
	})
}

// Options configures the NATS connection.
type Options struct {
	URL  string
	Name string
	// Timeout bounds the initial connect when non-zero.
	Timeout time.Duration
	// SubjectPrefix is prepended to every topic.
	SubjectPrefix string
}

func optionsFromConfig(cfg map[string]string) (Options, error) {
	opts := Options{
		URL:           strings.TrimSpace(cfg["url"]),
		Name:          cfg["name"],
		SubjectPrefix: cfg["subject_prefix"],
	}
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Name == "" {
		opts.Name = "xdao-lighthouse"
	}
	if v := strings.TrimSpace(cfg["timeout"]); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Options{}, fmt.Errorf("natspub: invalid timeout %q: %w", v, err)
		}
		opts.Timeout = d
	}
	return opts, nil
}

// Publisher publishes each event on subject SubjectPrefix+topic.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

var _ pubsub.Publisher = (*Publisher)(nil)

// Connect dials the NATS server.
func Connect(opts Options) (*Publisher, error) {
	natsOpts := []nats.Option{nats.Name(opts.Name)}
	if opts.Timeout > 0 {
		natsOpts = append(natsOpts, nats.Timeout(opts.Timeout))
	}
	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", opts.URL, err)
	}
	return &Publisher{nc: nc, prefix: opts.SubjectPrefix}, nil
}

// Subject returns the NATS subject used for topic.
func (p *Publisher) Subject(topic string) string {
	return p.prefix + topic
}

func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.nc == nil || p.nc.IsClosed() {
		return pubsub.ErrClosed
	}
	return p.nc.Publish(p.Subject(topic), payload)
}

// Close flushes buffered messages and closes the connection.
func (p *Publisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	err := p.nc.FlushTimeout(2 * time.Second)
	p.nc.Close()
	if err != nil && err != nats.ErrConnectionClosed {
		return err
	}
	return nil
}
