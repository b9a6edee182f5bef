package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendance-console-go/auth"
	"attendance-console-go/config"
	"attendance-console-go/db"
	"attendance-console-go/handlers"
	"attendance-console-go/localstore"
	"attendance-console-go/logger"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	if err := run(cfg, logg); err != nil {
		logg.Fatal("console stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Redis Client
	redisClient, err := db.InitializeRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	logg.Info("connected to redis", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))

	store := db.NewRedisStore(redisClient, logg.Named("store"))
	if cfg.Seed {
		if err := db.CheckAndSeed(ctx, store, logg); err != nil {
			logg.Warn("could not seed demo data", zap.Error(err))
		}
	}

	local, err := localstore.Open(cfg.LocalStorePath)
	if err != nil {
		return err
	}
	defer local.Close()

	var primary auth.Provider = auth.Unavailable{}
	if cfg.IdentityAPIKey != "" {
		toolkit := auth.NewIdentityToolkit(cfg.IdentityAPIKey, cfg.IdentityEndpoint, cfg.IdentityTimeout, local, logg.Named("identity"))
		if err := toolkit.Restore(ctx); err != nil {
			logg.Warn("could not restore primary session", zap.Error(err))
		}
		primary = toolkit
	} else {
		logg.Info("no identity API key configured, using the demo roster only")
	}

	gateway := auth.NewGateway(primary, auth.NewMockStore(local, auth.DefaultRoster), logg.Named("auth"))
	gateway.Start(ctx)
	defer gateway.Close()

	// Streams are hijacked connections that Shutdown does not wait for; serveCtx ends
	// them before redis goes away.
	serveCtx, endStreams := context.WithCancel(ctx)
	defer endStreams()

	apiHandler := handlers.NewAPIHandler(store, gateway, auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL), local, cfg.CORSOrigins, logg.Named("api"))
	apiHandler.SecureCookie = cfg.CookieSecure
	if err := apiHandler.Open(serveCtx); err != nil {
		return err
	}
	defer apiHandler.Close()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handlers.NewRouter(apiHandler, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info("starting server", zap.String("addr", srv.Addr))
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

	logg.Info("shutting down")
	endStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
