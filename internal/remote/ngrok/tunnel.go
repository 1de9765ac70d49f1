// Package ngrok exposes the local control server through an ngrok tunnel so
// the status page and recovery endpoints are reachable away from the host.
package ngrok

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	ngrok "golang.ngrok.com/ngrok"
	"golang.ngrok.com/ngrok/config"
)

type Options struct {
	LocalAddr     string
	Authtoken     string
	Region        string
	Domain        string
	BasicAuthUser string
	BasicAuthPass string
}

// Tunnel is a live forwarder from a public ngrok edge to the local control
// server. The host never opens a port to the outside, the agent dials out.
type Tunnel struct {
	forwarder ngrok.Forwarder
	logger    *slog.Logger
}

func Start(ctx context.Context, logger *slog.Logger, opts Options) (*Tunnel, error) {
	if opts.LocalAddr == "" {
		return nil, errors.New("ngrok local address is required")
	}

	backend, err := url.Parse(opts.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("parsing local address %s: %w", opts.LocalAddr, err)
	}

	endpoint := config.HTTPEndpoint(endpointOptions(opts)...)
	fwd, err := ngrok.ListenAndForward(ctx, backend, endpoint, sessionOptions(opts)...)
	if err != nil {
		return nil, fmt.Errorf("starting ngrok forwarder: %w", err)
	}

	logger.Info("ngrok tunnel established",
		slog.String("url", fwd.URL()),
		slog.String("backend", opts.LocalAddr))
	return &Tunnel{forwarder: fwd, logger: logger}, nil
}

// endpointOptions maps the configured edge settings onto the public HTTP
// endpoint. The exposed endpoints can restart emulators, so basic auth is
// applied whenever a credential pair is configured.
func endpointOptions(opts Options) []config.HTTPEndpointOption {
	httpOpts := make([]config.HTTPEndpointOption, 0, 2)
	if opts.Domain != "" {
		httpOpts = append(httpOpts, config.WithDomain(opts.Domain))
	}
	if opts.BasicAuthUser != "" && opts.BasicAuthPass != "" {
		httpOpts = append(httpOpts, config.WithBasicAuth(opts.BasicAuthUser, opts.BasicAuthPass))
	}
	return httpOpts
}

// sessionOptions builds the agent session settings. The YAML authtoken wins
// over NGROK_AUTHTOKEN so one host can run differently tokened instances.
func sessionOptions(opts Options) []ngrok.ConnectOption {
	connectOpts := make([]ngrok.ConnectOption, 0, 2)
	switch {
	case opts.Authtoken != "":
		connectOpts = append(connectOpts, ngrok.WithAuthtoken(opts.Authtoken))
	case os.Getenv("NGROK_AUTHTOKEN") != "":
		connectOpts = append(connectOpts, ngrok.WithAuthtokenFromEnv())
	}
	if opts.Region != "" {
		connectOpts = append(connectOpts, ngrok.WithRegion(opts.Region))
	}
	return connectOpts
}

func (t *Tunnel) URL() string {
	if t == nil || t.forwarder == nil {
		return ""
	}
	return t.forwarder.URL()
}

func (t *Tunnel) Close() error {
	if t == nil || t.forwarder == nil {
		return nil
	}

	t.logger.Info("closing ngrok tunnel", slog.String("url", t.forwarder.URL()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.forwarder.CloseWithContext(ctx)
}
