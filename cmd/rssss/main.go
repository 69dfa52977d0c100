package main

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"rssss/internal/config"
	"rssss/internal/feeds"
	"rssss/internal/logging"
	"rssss/internal/storage"
	"rssss/internal/web"
)

func main() {
	// Get data directory
	dataDir, err := config.DataDir()
	if err != nil {
		log.Fatalf("Failed to get data directory: %v", err)
	}

	if err := config.EnsureDataDir(); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Load or create config
	configPath := filepath.Join(dataDir, "config.yaml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("Config file not found, creating default config at %s", configPath)
		cfg = config.DefaultConfig()
		if err := config.SaveConfig(configPath, cfg); err != nil {
			log.Fatalf("Failed to save default config: %v", err)
		}
	}
	cfg.ApplyEnv()

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional fetch journal
	var db *sql.DB
	if cfg.Journal.Enabled {
		dbPath := cfg.Journal.Path
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(dataDir, dbPath)
		}
		db, err = storage.InitDB(dbPath)
		if err != nil {
			logger.Fatal("failed to initialize journal", zap.String("path", dbPath), zap.Error(err))
		}
		defer db.Close()

		storage.StartPruner(ctx, db, cfg.Journal.Retention(), cfg.Journal.PruneInterval(), logger)
		logger.Info("fetch journal enabled", zap.String("path", dbPath))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Keep a bounded idle pool for the outbound client
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxIdleConnsPerHost = 4
	transport.IdleConnTimeout = 90 * time.Second
	transport.ResponseHeaderTimeout = cfg.Fetch.Timeout()

	resolver := feeds.NewResolver(cfg.Fetch, feeds.NewDecoder(), logger,
		feeds.WithHTTPClient(&http.Client{Transport: transport}))
	server := web.NewServer(resolver, db, registry, logger)

	listener, err := listen(cfg.Server.Addr)
	if err != nil {
		logger.Fatal("could not open listener", zap.Error(err))
	}

	httpServer := &http.Server{
		Handler: server.Routes(),
	}

	// Start server in a goroutine
	go func() {
		logger.Info("starting rssss server", zap.String("addr", listener.Addr().String()))
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// listen returns a socket inherited through LISTEN_FDS when one is
// present, so restarts can hand over the listener without dropping
// connections. Otherwise it binds addr.
func listen(addr string) (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, err
	}
	for _, l := range listeners {
		if l != nil {
			return l, nil
		}
	}
	return net.Listen("tcp", addr)
}
