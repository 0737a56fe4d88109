package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shehryarbajwa/cloud-workstations/internal/api"
	"github.com/shehryarbajwa/cloud-workstations/internal/catalog"
	"github.com/shehryarbajwa/cloud-workstations/internal/config"
	"github.com/shehryarbajwa/cloud-workstations/internal/logging"
	"github.com/shehryarbajwa/cloud-workstations/internal/provision"
	"github.com/shehryarbajwa/cloud-workstations/internal/proxy"
	"github.com/shehryarbajwa/cloud-workstations/internal/ratelimit"
	"github.com/shehryarbajwa/cloud-workstations/internal/region"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", "err", err)
	}

	logger, err := logging.New(os.Stderr, logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Fatal("Failed to create logger", "err", err)
	}
	if envErr != nil {
		logger.Debug("No .env file found, using system environment variables")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", "err", err)
	}
}

func run(cfg *config.Config, logger *log.Logger) error {
	logger.Info("Starting Cloud Workstations", "backend", cfg.Backend)

	setupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	factory, err := backendFactory(setupCtx, cfg)
	if err != nil {
		return err
	}

	// Initialize region manager
	regionMgr, err := region.NewManager(cfg.Regions, cfg.DefaultRegion, factory)
	if err != nil {
		return err
	}
	defer regionMgr.Close()
	logger.Info("Region manager initialized", "regions", strings.Join(cfg.Regions, ","), "default", regionMgr.DefaultRegion())

	logger.Info("Preparing backends...")
	if err := regionMgr.EnsureReady(setupCtx); err != nil {
		return err
	}
	logger.Info("Backends ready in all regions")

	workstations, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := provision.RegisterMetrics(registry); err != nil {
		return err
	}

	provisioner := provision.NewManager(regionMgr, provision.Options{
		LaunchTimeout:  cfg.LaunchTimeout,
		RegionCapacity: int64(cfg.RegionCapacity),
		Logger:         logger.WithPrefix("provision"),
	})

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitPerHour, cfg.RateLimitBurst)
	logger.Info("Rate limiter initialized", "per_hour", cfg.RateLimitPerHour, "burst", cfg.RateLimitBurst)

	handler := api.NewHandler(provisioner, logger.WithPrefix("api"), regionMgr.BackendName(), cfg.Regions)
	router := handler.SetupRoutes(api.RouterOptions{
		Catalog:     api.NewCatalogHandler(workstations),
		Proxy:       proxy.NewServer(provisioner, logger.WithPrefix("proxy")),
		RateLimiter: rateLimiter,
		Gatherer:    registry,
		Logger:      logger.WithPrefix("http"),
	})

	// WriteTimeout must outlast a launch, which blocks until the workstation is running
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LaunchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go pruneRateLimiter(ctx, rateLimiter)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server gracefully...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("Server stopped cleanly")
	return nil
}

func loadCatalog(path string) (catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(path)
}

// pruneRateLimiter drops clients idle for longer than a full bucket refill
func pruneRateLimiter(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune(2 * time.Hour)
		}
	}
}
