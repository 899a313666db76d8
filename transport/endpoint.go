package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"

	"xdao.co/lighthouse/errs"
)

const (
	schemeTCP = "tcp://"
	schemeIPC = "ipc://"
)

// Endpoint is a parsed socket address: tcp://HOST:PORT or ipc:///path.
type Endpoint struct {
	// Network is "tcp" or "unix".
	Network string
	// Address is the listen address ("*" hosts become "").
	Address string

	raw string
}

// ParseEndpoint parses an endpoint string. Malformed endpoints are BindErrors.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, schemeTCP):
		hostport := strings.TrimPrefix(s, schemeTCP)
		host, port, err := net.SplitHostPort(hostport)
		if err != nil {
			return Endpoint{}, errs.Wrap(errs.KindBind, "LH-BIND-001", "malformed endpoint "+strconv.Quote(s), err)
		}
		n, err := strconv.Atoi(port)
		if err != nil || n < 0 || n > 65535 {
			return Endpoint{}, errs.New(errs.KindBind, "LH-BIND-001", "malformed endpoint "+strconv.Quote(s)+": invalid port")
		}
		if host == "*" {
			host = ""
		}
		return Endpoint{Network: "tcp", Address: net.JoinHostPort(host, port), raw: s}, nil
	case strings.HasPrefix(s, schemeIPC):
		path := strings.TrimPrefix(s, schemeIPC)
		if path == "" {
			return Endpoint{}, errs.New(errs.KindBind, "LH-BIND-001", "malformed endpoint "+strconv.Quote(s)+": empty socket path")
		}
		return Endpoint{Network: "unix", Address: path, raw: s}, nil
	default:
		return Endpoint{}, errs.New(errs.KindBind, "LH-BIND-002", fmt.Sprintf("unsupported endpoint %q (want tcp://HOST:PORT or ipc:///path)", s))
	}
}

func (e Endpoint) String() string {
	if e.raw != "" {
		return e.raw
	}
	if e.Network == "unix" {
		return schemeIPC + e.Address
	}
	return schemeTCP + e.Address
}

// Target returns a gRPC dial target for the endpoint. Wildcard TCP hosts
// are dialed on loopback.
func (e Endpoint) Target() string {
	if e.Network == "unix" {
		return "unix://" + e.Address
	}
	host, port, err := net.SplitHostPort(e.Address)
	if err != nil {
		return e.Address
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// Listen binds the endpoint.
func (e Endpoint) Listen() (net.Listener, error) {
	lis, err := net.Listen(e.Network, e.Address)
	if err != nil {
		msg := "cannot bind " + e.String()
		if errors.Is(err, syscall.EADDRINUSE) {
			msg += ": address already in use"
		}
		return nil, errs.Wrap(errs.KindBind, "LH-BIND-003", msg, err)
	}
	return lis, nil
}

// EndpointFromAddr renders a bound listener address back into endpoint form.
func EndpointFromAddr(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if addr.Network() == "unix" {
		return schemeIPC + addr.String()
	}
	return schemeTCP + addr.String()
}

// Listen parses and binds an endpoint string.
func Listen(endpoint string) (net.Listener, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return ep.Listen()
}
