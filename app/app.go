// Package app assembles the relay daemon from its configuration: trusted key
// store, verifier, broker, publish backends and the admin server.
package app

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"xdao.co/lighthouse/admin"
	"xdao.co/lighthouse/broker"
	"xdao.co/lighthouse/config"
	"xdao.co/lighthouse/errs"
	"xdao.co/lighthouse/keys"
	"xdao.co/lighthouse/logging"
	"xdao.co/lighthouse/pubsub"
	"xdao.co/lighthouse/transport"
	"xdao.co/lighthouse/verify"
)

type App struct {
	cfg config.Config
	log *zap.Logger

	store   *keys.Store
	hub     *pubsub.Hub
	pub     pubsub.Publisher
	broker  *broker.Broker
	pubSrv  *transport.PublishServer
	admin   *admin.Server
	adminLn net.Listener

	closeOnce sync.Once
}

// New builds and binds every component. On error, anything already opened
// is released again.
func New(cfg config.Config, log *zap.Logger) (_ *App, err error) {
	log = logging.OrNop(log)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := cfg.Mode()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.store, err = keys.Load(cfg.TrustedKeysDir, log)
	if err != nil {
		return nil, err
	}
	broker.SetTrustedSigners(a.store.Snapshot().Len())

	a.hub = pubsub.NewHub(pubsub.HubOptions{
		Buffer: cfg.SubscriberBuffer,
		OnDrop: func(s *pubsub.Subscription, it pubsub.Item) {
			log.Warn("subscriber too slow; event dropped", zap.String("prefix", s.Prefix()), zap.String("topic", it.Topic))
		},
	})
	backends, err := pubsub.OpenAll(cfg.Publishers)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "LH-CFG-260", "cannot open publish backends", err)
	}
	if len(backends) == 0 {
		a.pub = a.hub
	} else {
		a.pub = pubsub.Multi{Backends: append([]pubsub.Named{{Name: "hub", Publisher: a.hub}}, backends...)}
	}

	topts := transport.Options{Logger: log, MaxMsgBytes: cfg.MaxMsgBytes, InboxSize: cfg.InboxSize}
	a.broker, err = broker.New(broker.Options{
		Logger:    log,
		Trust:     a.store,
		Verifier:  verify.New(mode),
		Publisher: a.pub,
		Router:    transport.NewRouter(topts),
		QueueSize: cfg.QueueSize,
	})
	if err != nil {
		return nil, err
	}
	if err := a.broker.Bind(cfg.SubmitEndpoint); err != nil {
		return nil, err
	}

	if cfg.PublishEndpoint != "" {
		a.pubSrv = transport.NewPublishServer(a.hub, topts)
		if err := a.pubSrv.Bind(cfg.PublishEndpoint); err != nil {
			return nil, err
		}
		log.Info("publish endpoint bound",
			zap.String("endpoint", cfg.PublishEndpoint),
			zap.String("addr", transport.EndpointFromAddr(a.pubSrv.Addr())))
	}

	if cfg.AdminListen != "" {
		ln, lerr := net.Listen("tcp", cfg.AdminListen)
		if lerr != nil {
			return nil, errs.Wrap(errs.KindBind, "LH-BIND-010", "cannot listen on admin address "+cfg.AdminListen, lerr)
		}
		a.adminLn = ln
		a.admin = admin.New(a, log)
	}

	log.Info("relay ready",
		zap.String("verify_policy", mode.String()),
		zap.Int("signers", a.store.Snapshot().Len()),
		zap.Strings("publishers", backendNames(backends)))
	return a, nil
}

// Run serves until ctx is done. Accepted events still queued are published
// before it returns.
func (a *App) Run(ctx context.Context) error {
	var (
		wg       sync.WaitGroup
		adminErr error
	)
	if a.admin != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adminErr = a.admin.Serve(ctx, a.adminLn)
		}()
	}
	runErr := a.broker.Run(ctx)
	wg.Wait()
	return errors.Join(runErr, adminErr)
}

// Reload rescans the trusted key directory and returns the new signer count.
func (a *App) Reload() (int, error) {
	if err := a.store.Reload(); err != nil {
		return a.store.Snapshot().Len(), err
	}
	n := a.store.Snapshot().Len()
	broker.SetTrustedSigners(n)
	return n, nil
}

// State returns the broker lifecycle state name.
func (a *App) State() string { return a.broker.State().String() }

// Signers returns the currently trusted signer identities.
func (a *App) Signers() []string { return a.store.Signers() }

// SubmitAddr returns the bound submission address, e.g. "tcp://127.0.0.1:5570".
func (a *App) SubmitAddr() string {
	return transport.EndpointFromAddr(a.broker.Router().Addr())
}

// PublishAddr returns the bound publish address, or "" when disabled.
func (a *App) PublishAddr() string {
	if a.pubSrv == nil {
		return ""
	}
	return transport.EndpointFromAddr(a.pubSrv.Addr())
}

// AdminAddr returns the admin listener address, or "" when disabled.
func (a *App) AdminAddr() string {
	if a.adminLn == nil {
		return ""
	}
	return a.adminLn.Addr().String()
}

// Close releases sockets and publish backends. It is safe to call more than once.
func (a *App) Close() error {
	var errList []error
	a.closeOnce.Do(func() {
		if a.broker != nil {
			errList = append(errList, a.broker.Close())
		}
		if a.pub != nil {
			errList = append(errList, a.pub.Close())
		} else if a.hub != nil {
			errList = append(errList, a.hub.Close())
		}
		if a.pubSrv != nil {
			errList = append(errList, a.pubSrv.Close())
		}
		if a.adminLn != nil {
			// Serve owns the listener once running; closing twice is harmless.
			_ = a.adminLn.Close()
		}
	})
	return errors.Join(errList...)
}

func backendNames(ns []pubsub.Named) []string {
	out := make([]string, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Name)
	}
	return out
}
