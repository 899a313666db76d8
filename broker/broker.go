// Package broker runs the relay pipeline: it receives submissions from the
// router, verifies them against the trusted key snapshot and hands accepted
// events to the publish channel in arrival order.
package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"xdao.co/lighthouse/cidutil"
	"xdao.co/lighthouse/errs"
	"xdao.co/lighthouse/keys"
	"xdao.co/lighthouse/pubsub"
	"xdao.co/lighthouse/transport"
	"xdao.co/lighthouse/verify"
)

const (
	// DefaultQueueSize is the publish channel length used when Options.QueueSize is zero.
	DefaultQueueSize = 1024
	// DefaultPublishTimeout bounds one Publish call when Options.PublishTimeout is zero.
	DefaultPublishTimeout = 5 * time.Second

	envelopeLogLimit = 256
)

// State is the broker lifecycle state.
type State int32

const (
	Unbound State = iota
	Bound
	Running
	Closed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Running:
		return "running"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// TrustSource hands out the trusted key snapshot to verify each message
// against. *keys.Store implements it.
type TrustSource interface {
	Snapshot() *keys.Snapshot
}

type Options struct {
	Logger    *zap.Logger
	Trust     TrustSource
	Verifier  *verify.Verifier
	Publisher pubsub.Publisher

	// Router receives submissions. A default router is created when nil.
	Router *transport.Router

	QueueSize      int
	PublishTimeout time.Duration
}

// Broker owns the inbound router and the outbound publish channel.
type Broker struct {
	log      *zap.Logger
	trust    TrustSource
	verifier *verify.Verifier
	pub      pubsub.Publisher
	router   *transport.Router

	queueSize      int
	publishTimeout time.Duration

	mu       sync.Mutex
	state    State
	endpoint string
	running  atomic.Bool
}

func New(opts Options) (*Broker, error) {
	if opts.Trust == nil {
		return nil, errs.New(errs.KindConfig, "LH-CFG-101", "broker requires a trusted key source")
	}
	if opts.Publisher == nil {
		return nil, errs.New(errs.KindConfig, "LH-CFG-102", "broker requires a publisher")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	v := opts.Verifier
	if v == nil {
		v = &verify.Verifier{}
	}
	r := opts.Router
	if r == nil {
		r = transport.NewRouter(transport.Options{Logger: log})
	}
	b := &Broker{
		log:            log.With(zap.String("component", "broker")),
		trust:          opts.Trust,
		verifier:       v,
		pub:            opts.Publisher,
		router:         r,
		queueSize:      opts.QueueSize,
		publishTimeout: opts.PublishTimeout,
	}
	if b.queueSize <= 0 {
		b.queueSize = DefaultQueueSize
	}
	if b.publishTimeout <= 0 {
		b.publishTimeout = DefaultPublishTimeout
	}
	return b, nil
}

// State returns the current lifecycle state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Endpoint returns the endpoint passed to Bind.
func (b *Broker) Endpoint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.endpoint
}

// Router returns the submission router.
func (b *Broker) Router() *transport.Router { return b.router }

// Bind binds the submission endpoint. Binding an already bound broker logs
// a warning and does nothing.
func (b *Broker) Bind(endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Unbound:
	case Closed:
		return errs.New(errs.KindBind, "LH-BIND-006", "broker is closed")
	default:
		b.log.Warn("broker already bound; ignoring Bind",
			zap.String("endpoint", endpoint),
			zap.String("bound_endpoint", b.endpoint))
		return nil
	}
	if err := b.router.Bind(endpoint); err != nil {
		return err
	}
	b.endpoint = endpoint
	b.state = Bound
	b.log.Info("submission endpoint bound", zap.String("endpoint", endpoint), zap.String("addr", transport.EndpointFromAddr(b.router.Addr())))
	return nil
}

// Run receives, verifies and publishes events until ctx is done or the
// broker is closed. It returns a BindError on an unbound broker. A second
// concurrent Run logs a warning and returns nil.
func (b *Broker) Run(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case Unbound:
		b.mu.Unlock()
		return errs.New(errs.KindBind, "LH-BIND-005", "broker is not bound; call Bind before Run")
	case Closed:
		b.mu.Unlock()
		return errs.New(errs.KindBind, "LH-BIND-006", "broker is closed")
	}
	if !b.running.CompareAndSwap(false, true) {
		b.mu.Unlock()
		b.log.Warn("broker is already running; ignoring Run")
		return nil
	}
	b.state = Running
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		if b.state == Running {
			b.state = Bound
		}
		b.mu.Unlock()
		b.running.Store(false)
	}()

	queue := make(chan pubsub.Item, b.queueSize)
	pumpDone := make(chan struct{})
	go b.pump(context.WithoutCancel(ctx), queue, pumpDone)

	b.log.Info("broker running", zap.String("endpoint", b.Endpoint()))
	var runErr error
	for {
		msg, err := b.router.Recv(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, transport.ErrClosed) {
				runErr = err
			}
			break
		}
		b.handle(msg, queue)
	}

	// Events already accepted are still published.
	close(queue)
	<-pumpDone
	b.log.Info("broker stopped")
	return runErr
}

// handle processes one inbound message: [routing-id, payload, ...].
func (b *Broker) handle(msg transport.Message, queue chan<- pubsub.Item) {
	eventsReceivedTotal.Inc()

	var routingID string
	if len(msg) > 0 {
		routingID = string(msg[0])
	}
	if len(msg) < 2 {
		b.reject(routingID, nil, errs.New(errs.KindMalformedPayload, "LH-VER-001", "message has no payload frame"))
		return
	}
	payload := msg[1]

	res := b.verifier.Verify(payload, b.trust.Snapshot())
	if !res.Accepted {
		b.reject(routingID, payload, res.Reason)
		return
	}
	eventsAcceptedTotal.Inc()
	if ce := b.log.Check(zap.DebugLevel, "event accepted"); ce != nil {
		ce.Write(
			zap.String("topic", res.Topic),
			zap.String("signer", res.Signer),
			zap.String("routing_id", routingID),
			zap.String("event_cid", cidutil.String(payload)))
	}

	select {
	case queue <- pubsub.Item{Topic: res.Topic, Payload: res.Payload}:
	default:
		eventsDroppedTotal.WithLabelValues(dropQueueFull).Inc()
		err := errs.New(errs.KindPublishChannelUnavailable, "LH-PUB-001", "publish channel full")
		b.log.Error("accepted event dropped",
			zap.String("reason", string(errs.KindPublishChannelUnavailable)),
			zap.String("rule_id", errs.RuleID(err)),
			zap.String("topic", res.Topic),
			zap.String("signer", res.Signer),
			zap.String("event_cid", cidutil.String(payload)),
			zap.Error(err))
	}
}

func (b *Broker) reject(routingID string, payload []byte, reason error) {
	kind := errs.KindOf(reason)
	eventsRejectedTotal.WithLabelValues(string(kind)).Inc()
	b.log.Info("event rejected",
		zap.String("reason", string(kind)),
		zap.String("rule_id", errs.RuleID(reason)),
		zap.String("routing_id", routingID),
		zap.ByteString("envelope", truncate(payload, envelopeLogLimit)),
		zap.Error(reason))
}

// pump publishes queued events one at a time, in queue order.
func (b *Broker) pump(ctx context.Context, queue <-chan pubsub.Item, done chan<- struct{}) {
	defer close(done)
	for it := range queue {
		pctx, cancel := context.WithTimeout(ctx, b.publishTimeout)
		err := b.pub.Publish(pctx, it.Topic, it.Payload)
		cancel()
		if err != nil {
			eventsDroppedTotal.WithLabelValues(dropPublishError).Inc()
			perr := errs.Wrap(errs.KindPublishChannelUnavailable, "LH-PUB-002", "publish failed", err)
			b.log.Error("accepted event dropped",
				zap.String("reason", string(errs.KindPublishChannelUnavailable)),
				zap.String("rule_id", errs.RuleID(perr)),
				zap.String("topic", it.Topic),
				zap.String("event_cid", cidutil.String(it.Payload)),
				zap.Error(perr))
			continue
		}
		eventsPublishedTotal.Inc()
	}
}

// Close releases the submission endpoint and stops Run.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.state = Closed
	b.mu.Unlock()
	return b.router.Close()
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
