package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rexliu/biosdk/pkg/bio"
	"github.com/rexliu/biosdk/pkg/config"
	"github.com/rexliu/biosdk/pkg/ipc"
	"github.com/rexliu/biosdk/pkg/logging"
	"github.com/rexliu/biosdk/pkg/window"
)

// client is a provider running in a remote window attached to the host.
type client struct {
	provider *bio.Provider
	remote   *window.Remote
	done     chan error
}

func (g *globalFlags) loadProfile() (*config.ProfileConfig, error) {
	cfg, err := config.LoadProfile(g.Profile)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", g.Profile, err)
	}
	return cfg, nil
}

func (g *globalFlags) logger(cfg *config.ProfileConfig) (*logging.Logger, error) {
	if !g.Verbose {
		return logging.Nop(), nil
	}
	l := logging.NewWithWriter("bio", os.Stderr)
	if err := l.Configure(config.LoggingConfig{Level: cfg.Logging.Level}); err != nil {
		return nil, err
	}
	return l, nil
}

func (g *globalFlags) dial(ctx context.Context) (*client, error) {
	cfg, err := g.loadProfile()
	if err != nil {
		return nil, err
	}
	logger, err := g.logger(cfg)
	if err != nil {
		return nil, err
	}
	var conn ipc.Conn
	if g.WSURL != "" {
		conn, err = ipc.DialWebSocket(ctx, g.WSURL, cfg.Provider.Origin)
	} else {
		socket := g.Socket
		if socket == "" {
			socket = config.ResolvePath(g.Profile, cfg.Host.SocketPath)
		}
		conn, err = ipc.DialUnix(ctx, socket, ipc.WithCompression(cfg.Host.Compression))
	}
	if err != nil {
		return nil, err
	}

	parentOrigin := cfg.Provider.TargetOrigin
	if parentOrigin == bio.DefaultTargetOrigin {
		parentOrigin = ""
	}
	remote := window.NewRemote(conn, cfg.Provider.Origin, parentOrigin)
	c := &client{remote: remote, done: make(chan error, 1)}
	go func() { c.done <- remote.Run(ctx) }()

	c.provider, err = bio.NewProvider(remote,
		bio.WithTargetOrigin(cfg.Provider.TargetOrigin),
		bio.WithRequestTimeout(cfg.Provider.RequestTimeout.Duration),
		bio.WithLogger(logger),
	)
	if err != nil {
		_ = remote.Close()
		return nil, err
	}
	return c, nil
}

func (c *client) Close() error {
	return c.remote.Close()
}

// parseParams reads each argument as JSON, falling back to a plain string.
func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, arg := range args {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			v = arg
		}
		params = append(params, v)
	}
	return params
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
