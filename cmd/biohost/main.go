package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rexliu/biosdk/pkg/config"
	"github.com/rexliu/biosdk/pkg/host"
	"github.com/rexliu/biosdk/pkg/logging"
	"github.com/rexliu/biosdk/pkg/metrics"
	"github.com/rexliu/biosdk/pkg/storage/sqlite"
)

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override IPC socket path (optional)")
	wsAddr := flag.String("ws", "", "Override WebSocket listen address (optional)")
	flag.Parse()

	logger := logging.New("biohost")
	logger.Printf("starting host with profile %s", *profile)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *socket, *wsAddr, logger); err != nil {
		logger.Printf("fatal error: %v", err)
		os.Exit(1)
	}
}

type daemon struct {
	journal *sqlite.Store
	srv     *host.Server
	logger  *logging.Logger
	started time.Time
}

func run(ctx context.Context, profileDir, socketOverride, wsOverride string, logger *logging.Logger) error {
	cfg, err := config.LoadProfile(profileDir)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	if err := logger.Configure(cfg.Logging); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	store, err := sqlite.Open(config.ResolvePath(profileDir, cfg.Storage.DBPath))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer store.Close()
	if err := store.Init(ctx, cfg.Storage); err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := host.NewServer(
		host.WithLogger(logger),
		host.WithJournal(store),
		host.WithMetrics(metrics.NewHost(reg)),
		host.WithAllowedOrigins(cfg.Host.AllowedOrigins...),
		host.WithLocalOrigin(cfg.Provider.Origin),
		host.WithCompression(cfg.Host.Compression),
	)
	d := &daemon{journal: store, srv: srv, logger: logger, started: time.Now()}
	d.registerHandlers()

	socketPath := socketOverride
	if socketPath == "" {
		socketPath = config.ResolvePath(profileDir, cfg.Host.SocketPath)
	}
	if err := srv.ListenUnix(ctx, socketPath); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	defer os.Remove(socketPath)

	wsAddr := wsOverride
	if wsAddr == "" {
		wsAddr = cfg.Host.WebSocketAddr
	}
	var servers []*http.Server
	if wsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/bio", srv.WebSocketHandler())
		servers = append(servers, d.serveHTTP("websocket", wsAddr, mux))
	}
	if cfg.Host.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		servers = append(servers, d.serveHTTP("metrics", cfg.Host.MetricsAddr, mux))
	}

	logger.Printf("host ready; socket at %s", socketPath)

	<-ctx.Done()
	logger.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, hs := range servers {
		_ = hs.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	return nil
}

func (d *daemon) serveHTTP(name, addr string, h http.Handler) *http.Server {
	hs := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		d.logger.Printf("%s listening on %s", name, addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Printf("%s server: %v", name, err)
		}
	}()
	return hs
}
