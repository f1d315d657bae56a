//go:build linux

// mstpd is the MSTP bridge control plane daemon (IEEE 802.1Q-2011
// Clause 13). It runs the spanning tree protocol for the ports of a Linux
// bridge and drives their forwarding state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gomstp/internal/config"
	mstpmetrics "github.com/dantte-lp/gomstp/internal/metrics"
	"github.com/dantte-lp/gomstp/internal/netio"
	"github.com/dantte-lp/gomstp/internal/server"
	appversion "github.com/dantte-lp/gomstp/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// readHeaderTimeout bounds slow clients on both HTTP listeners.
const readHeaderTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("mstpd"))
		return 0
	}

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("mstpd starting",
		slog.String("version", appversion.Version),
		slog.String("commit", appversion.Commit()),
		slog.String("bridge", cfg.Bridge.Name),
		slog.String("api_addr", cfg.API.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	// 4. Create Prometheus registry and MSTP collector.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := mstpmetrics.NewCollector(reg)

	// 5. Build the bridge; ports are attached once the loop runs.
	rt, err := newBridgeRuntime(cfg, collector, netio.OpenListener, logger)
	if err != nil {
		logger.Error("failed to create bridge", slog.String("error", err.Error()))
		return 1
	}

	// 6. Run servers.
	if err := runServers(cfg, rt, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("mstpd exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("mstpd stopped")
	return 0
}

// runServers runs the event loop, port I/O, link monitor and HTTP servers
// in an errgroup with a signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	rt *bridgeRuntime,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	apiSrv := newAPIServer(cfg.API, rt, logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	// Protocol event loop; every bridge access goes through it.
	g.Go(func() error {
		if err := rt.loop.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("event loop: %w", err)
		}
		return nil
	})

	startLinkMonitor(gCtx, g, cfg.DataPlane, rt, logger)

	// Attach ports and instances from the configuration. A port that
	// cannot be opened is logged; the rest of the bridge still runs.
	if err := rt.reconcile(gCtx, cfg); err != nil {
		logger.Error("initial configuration partially applied",
			slog.String("error", err.Error()),
		)
	}

	startHTTPServers(gCtx, g, cfg, apiSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, rt, logger)

	notifyReady(logger)

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, rt, logger, apiSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startHTTPServers registers the API and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	apiSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("api server listening", slog.String("addr", cfg.API.Addr))
		return listenAndServe(ctx, &lc, apiSrv, cfg.API.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startLinkMonitor feeds interface carrier changes into the bridge. With
// link monitoring disabled a static monitor keeps the wiring uniform.
func startLinkMonitor(
	ctx context.Context,
	g *errgroup.Group,
	cfg config.DataPlaneConfig,
	rt *bridgeRuntime,
	logger *slog.Logger,
) {
	var mon netio.InterfaceMonitor
	if cfg.LinkMonitor {
		mon = netio.NewNetlinkMonitor(logger)
	} else {
		mon = netio.NewStaticMonitor(logger)
	}

	g.Go(func() error {
		defer func() {
			if err := mon.Close(); err != nil {
				logger.Warn("failed to close link monitor", slog.String("error", err.Error()))
			}
		}()
		if err := mon.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			// Carrier tracking is best effort; ports keep their last state.
			logger.Error("link monitor stopped", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		return rt.watchLinks(ctx, mon.Events())
	})
}

func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	rt *bridgeRuntime,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	// Reload requests from SIGHUP and the file watcher are coalesced.
	reload := make(chan struct{}, 1)
	trigger := func() {
		select {
		case reload <- struct{}{}:
		default:
		}
	}

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigHUP:
				logger.Info("received SIGHUP, reloading configuration")
				trigger()
			}
		}
	})

	if configPath != "" {
		g.Go(func() error {
			if err := config.Watch(ctx, configPath, logger, trigger); err != nil {
				logger.Warn("config file watch disabled", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-reload:
				reloadConfig(ctx, configPath, logLevel, rt, logger)
			}
		}
	})
}

// -------------------------------------------------------------------------
// Systemd Integration: sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends watchdog keepalives at half of WatchdogSec. It returns
// immediately when the unit has no watchdog.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// Reload: log level + bridge reconciliation
// -------------------------------------------------------------------------

// reloadConfig loads a fresh configuration, updates the log level and
// reconciles the bridge. A configuration that fails to load or validate
// is rejected as a whole and the running settings stay in effect.
func reloadConfig(
	ctx context.Context,
	configPath string,
	logLevel *slog.LevelVar,
	rt *bridgeRuntime,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	if err := rt.reconcile(ctx, newCfg); err != nil {
		logger.Error("configuration partially applied",
			slog.String("error", err.Error()),
		)
	}
}

// gracefulShutdown stops the HTTP servers and detaches every port. The
// parent context is already cancelled when this function is called, so a
// fresh timeout context bounds the drain.
func gracefulShutdown(
	ctx context.Context,
	rt *bridgeRuntime,
	logger *slog.Logger,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	if err := rt.Close(); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("close ports: %w", err))
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig and serves
// HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// newAPIServer creates the HTTP server for the ConnectRPC control API.
// h2c serves HTTP/2 without TLS so gRPC clients can connect in plaintext.
// Includes standard gRPC health checking (grpc.health.v1).
func newAPIServer(cfg config.APIConfig, rt *bridgeRuntime, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()

	path, handler := server.New(rt.loop, rt.hub, logger,
		server.LoggingInterceptorOption(logger),
		server.RecoveryInterceptorOption(logger),
	)
	mux.Handle(path, handler)

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		server.ServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes on reload. The console format colors
// output only when stdout is a terminal.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	case "console":
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
		})
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
