// respondctl-server is the governed response runtime's HTTP process: it
// loads configuration once, wires every component, serves /api/chat plus the
// health probes, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lumenforge/respondctl/internal/breaker"
	"github.com/lumenforge/respondctl/internal/bus"
	"github.com/lumenforge/respondctl/internal/config"
	"github.com/lumenforge/respondctl/internal/httpapi"
	"github.com/lumenforge/respondctl/internal/modelclient"
	"github.com/lumenforge/respondctl/internal/modelpipeline"
	"github.com/lumenforge/respondctl/internal/sessionstore"
	"github.com/lumenforge/respondctl/internal/telemetry"
	"github.com/lumenforge/respondctl/internal/tracelog"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[SERVER] %v", err)
	}

	homeDir, _ := os.UserHomeDir()
	cacheDir := filepath.Join(homeDir, ".cache", "respondctl")
	_ = os.MkdirAll(cacheDir, 0o755)

	// Bus first — telemetry and tracing hang off it.
	b := bus.New()

	rec := telemetry.NewRecorder(b, b.NewTap(),
		filepath.Join(cacheDir, "telemetry.jsonl"),
		filepath.Join(cacheDir, "telemetry_stats.json"))

	traces := tracelog.NewRegistry(cfg.TraceLogDir)

	brk := breaker.New(cfg.Breaker.Failures, cfg.Breaker.WindowSeconds, cfg.Breaker.OpenSeconds)

	var caller modelpipeline.Caller
	if cfg.ModelCallsEnabled && cfg.ModelAPIKey != "" {
		caller = modelclient.New(cfg.ModelBaseURL, cfg.ModelAPIKey, cfg.ModelName, modelclient.TransportConfig{
			TimeoutSeconds:          cfg.Outbound.TimeoutSeconds,
			ConnectTimeoutSeconds:   cfg.Outbound.ConnectTimeoutSeconds,
			ReadTimeoutSeconds:      cfg.Outbound.ReadTimeoutSeconds,
			MaxConnections:          cfg.Outbound.MaxConnections,
			MaxKeepaliveConnections: cfg.Outbound.MaxKeepaliveConnections,
			KeepaliveExpirySeconds:  cfg.Outbound.KeepaliveExpirySeconds,
		})
	} else {
		log.Printf("[SERVER] model calls disabled; responses use deterministic fallbacks")
	}

	var sessions *sessionstore.Store
	if cfg.SessionStoreDir != "" {
		sessions, err = sessionstore.Open(cfg.SessionStoreDir, time.Duration(cfg.SessionTTLSeconds)*time.Second)
		if err != nil {
			log.Fatalf("[SERVER] %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	stopRec := make(chan struct{})
	go rec.Run(stopRec)
	if sessions != nil {
		go sessions.Run(ctx)
	}

	srv := httpapi.New(httpapi.Options{
		Config:   cfg,
		Bus:      b,
		Traces:   traces,
		Breaker:  brk,
		Caller:   caller,
		Sessions: sessions,
		Version:  version,
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		close(stopRec)
	}()

	log.Printf("[SERVER] respondctl %s listening on %s (env=%s)", version, addr, cfg.AppEnv)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("[SERVER] %v", err)
	}
	log.Printf("[SERVER] shut down cleanly")
}
