// Command devserver is a reference backend for the tovplay client.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/tovplay/api"
	"github.com/kasuganosora/tovplay/audit"
	"github.com/kasuganosora/tovplay/cache"
	"github.com/kasuganosora/tovplay/config"
	dbadapter "github.com/kasuganosora/tovplay/db"
	"github.com/kasuganosora/tovplay/model"
	"github.com/kasuganosora/tovplay/scheduler"
	"github.com/kasuganosora/tovplay/seed"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const notificationRetention = 30 * 24 * time.Hour

func main() {
	fs := pflag.NewFlagSet("devserver", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "path to a YAML config file")
	port := fs.IntP("port", "p", 0, "listen port (overrides server.port)")
	seedN := fs.Int("seed", -1, "number of fake accounts to create on an empty database")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *seedN >= 0 {
		cfg.Server.Seed = *seedN
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		logger.Fatal("security.jwt_secret is not set")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		logger.Fatal("pubsub", zap.Error(err))
	}
	logger.Info("Cache initialized")

	// ---- HTTP ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := api.New(api.Deps{
		Config: cfg,
		DB:     db,
		Cache:  c,
		PubSub: pubsub,
		Audit:  auditSvc,
		Logger: logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.Seed > 0 {
		if _, err := seed.Run(ctx, db, srv.Social, seed.Options{Accounts: cfg.Server.Seed}, logger); err != nil {
			logger.Error("seed failed", zap.Error(err))
		}
	}

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	sched.AddTicker("notification_prune", time.Hour, false, func(ctx context.Context) error {
		n, err := srv.Social.PruneNotifications(ctx, time.Now().Add(-notificationRetention))
		if n > 0 {
			logger.Info("pruned notifications", zap.Int64("count", n))
		}
		return err
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Hub.CloseAll()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	auditSvc.Stop(shutdownCtx)
}
