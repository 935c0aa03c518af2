// Command biometric-authd is the authenticated biometric tool server (C7):
// it owns the token authority, the identity service, and the vector index,
// and exposes register/recognize/update/delete/list/stats as named MCP
// tools over stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/biosentry/biosentry/internal/audit"
	"github.com/biosentry/biosentry/internal/config"
	"github.com/biosentry/biosentry/internal/face"
	"github.com/biosentry/biosentry/internal/health"
	"github.com/biosentry/biosentry/internal/identity"
	"github.com/biosentry/biosentry/internal/keystore"
	"github.com/biosentry/biosentry/internal/mcpserver"
	"github.com/biosentry/biosentry/internal/model"
	"github.com/biosentry/biosentry/internal/observe"
	"github.com/biosentry/biosentry/internal/vectorindex"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "biometric-authd: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "biometric-authd: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("biometric-authd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "biometric-authd",
		ServiceVersion: "1.0.0",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry providers", "err", err)
		return 1
	}

	ks, err := keystore.Open(keystore.Options{
		Dir:          cfg.Keystore.Dir,
		TokenTTL:     cfg.Keystore.TokenTTL,
		ArgonTime:    cfg.Keystore.ArgonTime,
		ArgonMemory:  cfg.Keystore.ArgonMemoryKiB,
		ArgonThreads: cfg.Keystore.ArgonThreads,
	})
	if err != nil {
		slog.Error("failed to open keystore", "err", err)
		return 1
	}

	auditSink, err := audit.New(audit.Options{
		Dir:            cfg.Audit.Dir,
		RetentionDays:  cfg.Audit.RetentionDays,
		QueueCapacity:  cfg.Audit.QueueCapacity,
		RedactUserName: cfg.Audit.RedactUserName,
	})
	if err != nil {
		slog.Error("failed to open audit sink", "err", err)
		return 1
	}
	defer auditSink.Close()

	healthReg := health.New()
	healthReg.RegisterCallback(func(component string, old, new model.ComponentState) {
		slog.Info("component health changed", "component", component, "from", old.Status, "to", new.Status)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(ctx, 30*time.Second)
	idx, err := vectorindex.Open(connectCtx, cfg.Memory.PostgresDSN)
	cancelConnect()
	if err != nil {
		healthReg.Update(model.ComponentVectorIndex, model.StatusUnavailable, "initial connect failed", err)
		slog.Error("failed to open vector index", "err", err)
		return 1
	}
	defer idx.Close()
	healthReg.Update(model.ComponentVectorIndex, model.StatusHealthy, "connected", nil)

	detector := face.NewDeterministicDetector()
	healthReg.Update(model.ComponentFaceModel, model.StatusHealthy, "deterministic reference detector loaded", nil)
	healthReg.Update(model.ComponentTokenAuthority, model.StatusHealthy, "keypair and client registry loaded", nil)

	identitySvc := identity.New(identity.Options{
		Detector:          detector,
		Index:             idx,
		Health:            healthReg,
		Audit:             auditSink,
		MetadataWhitelist: cfg.Identity.MetadataWhitelist,
		DistanceThreshold: cfg.Identity.DistanceThreshold,
	})

	server := mcpserver.New(mcpserver.Options{
		Keystore: ks,
		Identity: identitySvc,
		Health:   healthReg,
		Audit:    auditSink,
	})

	httpSrv := newHealthServer(cfg.Server.ListenAddr, healthReg)

	printStartupSummary(cfg)
	slog.Info("biometric-authd ready — serving MCP tool catalogue over stdio")

	// The MCP stdio loop and the health/metrics HTTP server run as two
	// supervised goroutines: either one failing tears down the other via
	// the shared group context, rather than leaving an orphaned server
	// process behind.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health/metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("health/metrics server shutdown error", "err", err)
		}
		return nil
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("shutting down")
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newHealthServer serves /healthz, /readyz, and /metrics on addr. /healthz
// always returns 200 once the process is up; /readyz reflects the health
// registry's overall status.
func newHealthServer(addr string, reg *health.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		snap := reg.Snapshot()
		if snap.Overall == model.StatusUnavailable {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		fmt.Fprintf(w, "overall=%s queued=%d\n", snap.Overall, snap.QueuedCount)
	})
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: observe.Middleware(observe.DefaultMetrics())(mux)}
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      biometric-authd — startup        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Keystore dir    : %-19s ║\n", truncate(cfg.Keystore.Dir, 19))
	fmt.Printf("║  Audit dir       : %-19s ║\n", truncate(cfg.Audit.Dir, 19))
	fmt.Printf("║  Distance thresh : %-19.3f ║\n", cfg.Identity.DistanceThreshold)
	fmt.Printf("║  Listen addr     : %-19s ║\n", truncate(cfg.Server.ListenAddr, 19))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-1] + "…"
	}
	return s
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
