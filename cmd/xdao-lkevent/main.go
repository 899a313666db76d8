package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"xdao.co/lighthouse/cidutil"
	"xdao.co/lighthouse/compliance"
	"xdao.co/lighthouse/envelope"
	"xdao.co/lighthouse/errs"
	"xdao.co/lighthouse/keys"
	"xdao.co/lighthouse/transport"
	"xdao.co/lighthouse/verify"
)

const defaultTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "cid":
		return cmdCID(args[1:], out, errOut)
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "listen":
		return cmdListen(args[1:], out, errOut)
	case "submit":
		return cmdSubmit(args[1:], out, errOut)
	case "verify":
		return cmdVerify(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "xdao-lkevent: sign, submit and inspect relay events")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  xdao-lkevent key init --id <signer> --out <file> [--public <file>] [--force]")
	fmt.Fprintln(w, "  xdao-lkevent key show <file>")
	fmt.Fprintln(w, "  xdao-lkevent submit --endpoint <ep> --key <file> --tag <tag> [--data <json>]")
	fmt.Fprintln(w, "  xdao-lkevent listen --endpoint <ep> [--prefix <p>] [--count N]")
	fmt.Fprintln(w, "  xdao-lkevent verify --keys-dir <dir> [--policy any-trusted-signer|first-resolved-signer] <file>")
	fmt.Fprintln(w, "  xdao-lkevent cid <file>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - endpoints are tcp://HOST:PORT or ipc:///path/to/socket")
	fmt.Fprintln(w, "  - key init writes the signing key file 0600; copy only the --public file into the relay's trusted key directory")
	fmt.Fprintln(w, "  - submit prints the CID of the exact envelope bytes it sent")
	fmt.Fprintln(w, "  - listen prints one line per event: <topic> <payload>")
}

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printKeyUsage(errOut)
		return 2
	}
	switch args[0] {
	case "init":
		return cmdKeyInit(args[1:], out, errOut)
	case "show":
		return cmdKeyShow(args[1:], out, errOut)
	case "help", "-h", "--help":
		printKeyUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n\n", args[0])
		printKeyUsage(errOut)
		return 2
	}
}

func printKeyUsage(w io.Writer) {
	fmt.Fprintln(w, "xdao-lkevent key: Ed25519 key files for event signers")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  xdao-lkevent key init --id <signer> --out <file> [--public <file>] [--force]")
	fmt.Fprintln(w, "  xdao-lkevent key show <file>")
}

func cmdKeyInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key init", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var id string
	var outPath string
	var publicPath string
	var force bool

	fs.StringVar(&id, "id", "", "Signer identity written to the metadata section")
	fs.StringVar(&outPath, "out", "", "Signing key file to write (0600)")
	fs.StringVar(&publicPath, "public", "", "Optional public key file for the relay's trusted key directory")
	fs.BoolVar(&force, "force", false, "Overwrite existing key files")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if id == "" {
		fmt.Fprintln(errOut, "missing --id")
		return 2
	}
	if outPath == "" {
		fmt.Fprintln(errOut, "missing --out")
		return 2
	}
	if err := keys.CheckSignerID(id); err != nil {
		fmt.Fprintf(errOut, "invalid --id: %v\n", err)
		return 2
	}

	kf, err := keys.Generate(id, rand.Reader)
	if err != nil {
		fmt.Fprintf(errOut, "generate: %v\n", err)
		return 1
	}
	if err := keys.WriteKeyFile(outPath, kf, true, force); err != nil {
		fmt.Fprintf(errOut, "write key: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Created signing key for %s: %s\n", kf.ID, kf.VerifyKey)
	fmt.Fprintf(out, "Stored at: %s\n", outPath)
	if publicPath != "" {
		if err := keys.WriteKeyFile(publicPath, kf, false, force); err != nil {
			fmt.Fprintf(errOut, "write public key: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "Public key file: %s\n", publicPath)
	}
	return 0
}

func cmdKeyShow(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("key show", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: xdao-lkevent key show <file>")
		return 2
	}
	kf, err := keys.ReadKeyFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read key: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "id: %s\n", kf.ID)
	fmt.Fprintf(out, "%s: %s\n", kf.VerifyKey.ID(), kf.VerifyKey.Encoded())
	if kf.SigningKey != nil {
		fmt.Fprintln(out, "signing-key: present")
	}
	return 0
}

func cmdSubmit(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var endpoint string
	var keyPath string
	var tag string
	var data string
	var timeout time.Duration

	fs.StringVar(&endpoint, "endpoint", "", "Relay submission endpoint")
	fs.StringVar(&keyPath, "key", "", "Signing key file")
	fs.StringVar(&tag, "tag", "", "Event tag (the topic subscribers filter on)")
	fs.StringVar(&data, "data", "{}", "Event data as a JSON object")
	fs.DurationVar(&timeout, "timeout", defaultTimeout, "Connect and submit timeout")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if endpoint == "" || keyPath == "" || tag == "" {
		fmt.Fprintln(errOut, "usage: xdao-lkevent submit --endpoint <ep> --key <file> --tag <tag> [--data <json>]")
		return 2
	}
	var payload map[string]any
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil || payload == nil {
		fmt.Fprintf(errOut, "invalid --data: expected a JSON object\n")
		return 2
	}

	signer, signingKey, err := keys.ReadSigningKey(keyPath)
	if err != nil {
		fmt.Fprintf(errOut, "read key: %v\n", err)
		return 1
	}
	env, err := envelope.Create(signer, tag, payload, signingKey)
	if err != nil {
		fmt.Fprintf(errOut, "sign: %v\n", err)
		return 1
	}
	raw, err := envelope.Marshal(env)
	if err != nil {
		fmt.Fprintf(errOut, "encode: %v\n", err)
		return 1
	}

	c, err := transport.Dial(endpoint, transport.DialOptions{Timeout: timeout})
	if err != nil {
		fmt.Fprintf(errOut, "connect: %v\n", err)
		return 1
	}
	defer c.Close()
	c.Timeout = timeout
	if err := c.Submit(context.Background(), raw); err != nil {
		fmt.Fprintf(errOut, "submit: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, cidutil.String(raw))
	return 0
}

func cmdListen(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var endpoint string
	var prefix string
	var count int
	var timeout time.Duration

	fs.StringVar(&endpoint, "endpoint", "", "Relay publish endpoint")
	fs.StringVar(&prefix, "prefix", "", "Topic prefix filter; empty receives everything")
	fs.IntVar(&count, "count", 0, "Exit after N events (0 = run until interrupted)")
	fs.DurationVar(&timeout, "timeout", defaultTimeout, "Connect timeout")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if endpoint == "" {
		fmt.Fprintln(errOut, "missing --endpoint")
		return 2
	}
	if count < 0 {
		fmt.Fprintln(errOut, "--count must not be negative")
		return 2
	}

	c, err := transport.Dial(endpoint, transport.DialOptions{Timeout: timeout})
	if err != nil {
		fmt.Fprintf(errOut, "connect: %v\n", err)
		return 1
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := c.Subscribe(ctx, prefix)
	if err != nil {
		fmt.Fprintf(errOut, "subscribe: %v\n", err)
		return 1
	}
	for n := 0; count == 0 || n < count; n++ {
		topic, payload, err := sub.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0
			}
			fmt.Fprintf(errOut, "receive: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "%s %s\n", topic, payload)
	}
	return 0
}

func cmdVerify(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(errOut)

	var keysDir string
	var policy string

	fs.StringVar(&keysDir, "keys-dir", "", "Trusted key directory")
	fs.StringVar(&policy, "policy", compliance.NameAnyTrustedSigner, "Verification policy")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if keysDir == "" || fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: xdao-lkevent verify --keys-dir <dir> [--policy <p>] <file>")
		return 2
	}
	mode, err := compliance.ParseMode(policy)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --policy: %v\n", err)
		return 2
	}
	store, err := keys.Load(keysDir, nil)
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read envelope: %v\n", err)
		return 1
	}

	res := verify.New(mode).Verify(raw, store.Snapshot())
	if !res.Accepted {
		fmt.Fprintf(out, "REJECTED %s %s: %v\n", res.Kind(), errs.RuleID(res.Reason), res.Reason)
		return 1
	}
	fmt.Fprintf(out, "ACCEPTED topic=%s signer=%s cid=%s\n", res.Topic, res.Signer, cidutil.String(raw))
	return 0
}

func cmdCID(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("cid", flag.ContinueOnError)
	fs.SetOutput(errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: xdao-lkevent cid <file>")
		return 2
	}
	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, cidutil.String(b))
	return 0
}
