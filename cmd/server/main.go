// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velcourt/pageharvest/internal/config"
	"github.com/velcourt/pageharvest/internal/extract"
	"github.com/velcourt/pageharvest/internal/fetch"
	"github.com/velcourt/pageharvest/internal/job"
	"github.com/velcourt/pageharvest/internal/monitoring"
	"github.com/velcourt/pageharvest/internal/proxy"
	"github.com/velcourt/pageharvest/internal/utils"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "pageharvest.yaml", "path to the application configuration")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pageharvest-server %s (built %s)\n", version, buildTime)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pageharvest-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return err
	}
	logger := utils.NewLoggerWithLevel(utils.ParseLevel(cfg.LogLevel))

	templates, err := config.NewTemplateStore(cfg.TemplateDir)
	if err != nil {
		return fmt.Errorf("template store: %w", err)
	}

	pool := proxy.NewPool(&cfg.Proxy)

	var metrics *monitoring.Metrics
	if cfg.Metrics.Enabled {
		metrics = monitoring.NewMetrics("pageharvest")
	}

	dispatcher := &fetch.StealthDispatcher{
		Plain:   fetch.NewHTTPFetcher(),
		Browser: fetch.NewBrowserFetcher(),
	}
	pipeline := fetch.NewPipeline(dispatcher, pool, nil, cfg.Fetch)
	if metrics != nil {
		pipeline.SetMetrics(metrics)
	}

	orchestrator := job.NewOrchestrator(pipeline, extract.NewEngine(), cfg.Orchestrator)
	if metrics != nil {
		orchestrator.SetMetrics(metrics)
	}

	hub := job.NewHub()
	orchestrator.Subscribe(hub)

	srv := newServer(orchestrator, templates, hub, metrics, pool)
	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Keep the proxy pool gauges current.
	if metrics != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				metrics.UpdatePoolStats(pool.Stats())
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("address", cfg.Server.Address).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
