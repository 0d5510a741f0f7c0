package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rexliu/biosdk/pkg/config"
	"github.com/rexliu/biosdk/pkg/ipc"
	"github.com/rexliu/biosdk/pkg/logging"
)

// stdio joins the browser's pipes into one native-messaging stream.
type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return os.Stdin.Close() }

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override host socket path (optional)")
	flag.Parse()

	// stdout carries frames to the browser
	logger := logging.NewWithWriter("bio-bridge", os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *socket, logger); err != nil {
		logger.Printf("bridge exiting: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, profileDir, socketOverride string, logger *logging.Logger) error {
	socketPath := socketOverride
	compress := false
	if cfg, err := config.LoadProfile(profileDir); err == nil {
		if err := logger.Configure(cfg.Logging); err != nil {
			return err
		}
		if socketPath == "" {
			socketPath = config.ResolvePath(profileDir, cfg.Host.SocketPath)
		}
		compress = cfg.Host.Compression
	} else if socketPath == "" {
		return err
	}

	hostConn, err := ipc.DialUnix(ctx, socketPath, ipc.WithCompression(compress))
	if err != nil {
		return err
	}
	browser := ipc.NewFramedConn(stdio{Reader: os.Stdin, Writer: os.Stdout})
	logger.Printf("bridging native messaging to %s", socketPath)
	return pump(ctx, browser, hostConn)
}

// pump copies messages in both directions until either side closes or ctx
// is done. Both connections are closed on return.
func pump(ctx context.Context, browser, hostConn ipc.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		_ = browser.Close()
		_ = hostConn.Close()
	})
	defer stop()

	errc := make(chan error, 2)
	go func() { errc <- forward(hostConn, browser) }()
	go func() { errc <- forward(browser, hostConn) }()

	err := <-errc
	cancel()
	<-errc
	_ = browser.Close()
	_ = hostConn.Close()
	return err
}

func forward(dst, src ipc.Conn) error {
	for {
		msg, err := src.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ipc.ErrClosed) {
				return nil
			}
			return err
		}
		if err := dst.WriteMessage(msg); err != nil {
			if errors.Is(err, ipc.ErrClosed) {
				return nil
			}
			return err
		}
	}
}
