package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"xdao.co/lighthouse/app"
	"xdao.co/lighthouse/config"
	"xdao.co/lighthouse/errs"
	"xdao.co/lighthouse/logging"
	"xdao.co/lighthouse/pubsub"

	_ "xdao.co/lighthouse/pubsub/natspub"
	_ "xdao.co/lighthouse/pubsub/redispub"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("xdao-lighthouse", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "JSON config file")
	keysDir := fs.String("keys-dir", "", "Trusted key directory (overrides config)")
	submit := fs.String("submit", "", "Submission endpoint, e.g. tcp://*:5570 (overrides config)")
	publish := fs.String("publish", "", "Publish endpoint; \"none\" disables it (overrides config)")
	adminListen := fs.String("admin", "", "Admin HTTP listen address; \"none\" disables it (overrides config)")
	logLevel := fs.String("log-level", "", "debug|info|warn|error (overrides config)")
	dev := fs.Bool("dev", false, "Human-readable development logging")
	listPublishers := fs.Bool("list-publishers", false, "List supported publish backends and exit")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listPublishers {
		for _, b := range pubsub.List() {
			if b.Description == "" {
				_, _ = fmt.Fprintf(out, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
	}
	if *keysDir != "" {
		cfg.TrustedKeysDir = *keysDir
	}
	if *submit != "" {
		cfg.SubmitEndpoint = *submit
	}
	cfg.PublishEndpoint = override(cfg.PublishEndpoint, *publish)
	cfg.AdminListen = override(cfg.AdminListen, *adminListen)
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *dev {
		cfg.Log.Development = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		fmt.Fprintf(errOut, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("startup failed", zap.String("rule_id", errs.RuleID(err)), zap.Error(err))
		if errs.IsKind(err, errs.KindConfig) {
			return 2
		}
		return 1
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if n, err := a.Reload(); err == nil {
					log.Info("trusted keys reloaded on SIGHUP", zap.Int("signers", n))
				}
			}
		}
	}()

	log.Info("xdao-lighthouse started",
		zap.String("submit", a.SubmitAddr()),
		zap.String("publish", a.PublishAddr()),
		zap.String("admin", a.AdminAddr()))
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("relay stopped with error", zap.Error(err))
		return 1
	}
	log.Info("xdao-lighthouse stopped")
	return 0
}

// override applies a flag value over a config value; "none" clears it.
func override(cur, flagVal string) string {
	switch flagVal {
	case "":
		return cur
	case "none":
		return ""
	default:
		return flagVal
	}
}
