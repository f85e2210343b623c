package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"delivery-backend/internal/archive"
	"delivery-backend/internal/auth"
	"delivery-backend/internal/cache"
	"delivery-backend/internal/database"
	"delivery-backend/internal/db"
	"delivery-backend/internal/events"
	"delivery-backend/internal/handlers"
	"delivery-backend/internal/health"
	httpapi "delivery-backend/internal/http"
	"delivery-backend/internal/middleware"
	"delivery-backend/internal/policy"
	"delivery-backend/internal/repositories"
	"delivery-backend/internal/services"
)

var (
	servePort    int
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (overrides config)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "apply pending migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := db.NewGateway(cfg, log)
	defer gw.Close()

	if serveMigrate {
		if err := migrateUp(ctx, gw); err != nil {
			return err
		}
	}

	// Redis is optional: without it lists are simply not cached.
	redisCache, err := cache.New(cfg, log)
	if err != nil {
		log.WithError(err).Warn("[Redis] Cache unavailable, continuing without it")
		redisCache = nil
	} else if redisCache.Enabled() {
		log.Info("[Redis] Cache connected")
	}
	defer redisCache.Close()

	hub := events.NewHub(log)
	go hub.Run(ctx)

	requestRepo := repositories.NewDeliveryRequestRepository(gw)
	claimRepo := repositories.NewProcessingRepository(gw)
	deliveryRepo := repositories.NewDeliveryRepository(gw)
	archiveRepo := repositories.NewArchiveRepository(gw)
	userRepo := repositories.NewUserRepository(gw)

	pol := policy.New()
	jwtManager := auth.NewJWTManager(cfg)

	userService := services.NewUserService(userRepo, jwtManager, log)

	requestService := services.NewRequestService(requestRepo, pol, log)
	requestService.Events = hub
	requestService.Cache = redisCache

	processingService := services.NewProcessingService(requestRepo, claimRepo, pol, log)
	processingService.Events = hub

	deliveryService := services.NewDeliveryService(deliveryRepo, requestRepo, pol, log)
	deliveryService.Events = hub
	deliveryService.Cache = redisCache

	archiveService := services.NewArchiveService(archiveRepo, requestRepo, pol, log)
	archiveService.Events = hub
	archiveService.Cache = redisCache
	if cfg.Archive.Enabled {
		uploader, err := archive.NewS3Uploader(ctx, cfg, log)
		if err != nil {
			return errors.Wrap(err, "archive uploader")
		}
		archiveService.Snapshots = uploader
		log.WithField("bucket", cfg.Archive.Bucket).Info("[Archive] Snapshots enabled")
	}

	var cachePinger health.Pinger
	if redisCache.Enabled() {
		cachePinger = redisCache
	}

	router := httpapi.NewRouter(httpapi.Handlers{
		Auth:       handlers.NewAuthHandler(userService, log),
		Requests:   handlers.NewRequestHandler(requestService, processingService, redisCache, log),
		Deliveries: handlers.NewDeliveryHandler(deliveryService, services.NewWaybillService(deliveryService, requestRepo), redisCache, log),
		Admin:      handlers.NewAdminHandler(archiveService, log),
		Events:     handlers.NewEventsHandler(hub, log),
		Health:     handlers.NewHealthHandler(health.NewHealthChecker(gw, cachePinger)),
	}, middleware.NewAuthMiddleware(jwtManager, userService, log))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           httpapi.Wrap(cfg, log, router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.RequestTimeout,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("[Server] Listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "listen")
		}
	case <-ctx.Done():
	}

	log.Info("[Server] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("[Server] Forced to shut down")
	}
	log.Info("[Server] Stopped")
	return nil
}

func migrateUp(ctx context.Context, gw *db.Gateway) error {
	pool, err := gw.Pool(ctx)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return database.NewMigrator(pool, log).Up(migrateCtx)
}
