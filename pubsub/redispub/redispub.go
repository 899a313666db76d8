// Package redispub publishes accepted events with Redis PUBLISH, one channel
// per topic.
package redispub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"xdao.co/lighthouse/pubsub"
)

const backendName = "redis"

func init() {
	pubsub.MustRegister(pubsub.Backend{
		Name:        backendName,
		Description: "Redis PUBLISH (channel = channel_prefix + event tag)",
		Open: func(cfg map[string]string) (pubsub.Publisher, error) {
			opts, err := optionsFromConfig(cfg)
			if err != nil {
				return nil, err
			}
			return New(context.Background(), opts)
		},
	})
}

// Options configures the Redis client.
type Options struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	// DialTimeout bounds the initial PING when non-zero.
	DialTimeout time.Duration
}

func optionsFromConfig(cfg map[string]string) (Options, error) {
	opts := Options{
		Addr:          strings.TrimSpace(cfg["addr"]),
		Password:      cfg["password"],
		ChannelPrefix: cfg["channel_prefix"],
	}
	if opts.Addr == "" {
		return Options{}, errors.New("redispub: addr is required")
	}
	if v := strings.TrimSpace(cfg["db"]); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			return Options{}, fmt.Errorf("redispub: invalid db %q", v)
		}
		opts.DB = db
	}
	if v := strings.TrimSpace(cfg["dial_timeout"]); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Options{}, fmt.Errorf("redispub: invalid dial_timeout %q: %w", v, err)
		}
		opts.DialTimeout = d
	}
	return opts, nil
}

// client is the subset of *redis.Client used for publishing.
type client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

type Publisher struct {
	client client
	prefix string
}

var _ pubsub.Publisher = (*Publisher)(nil)

// New creates a Redis publisher and checks the server is reachable.
func New(ctx context.Context, opts Options) (*Publisher, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	pingCtx := ctx
	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
	}
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return &Publisher{client: rc, prefix: opts.ChannelPrefix}, nil
}

// Channel returns the Redis channel used for topic.
func (p *Publisher) Channel(topic string) string {
	return p.prefix + topic
}

func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.client == nil {
		return pubsub.ErrClosed
	}
	return p.client.Publish(ctx, p.Channel(topic), payload).Err()
}

func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}
