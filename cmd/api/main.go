package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/sessions"

	"simpleauth-prototype/core"
)

func main() {
	cfg := core.Load()
	ctx := context.Background()

	logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	// Gorilla cookie store for session management.
	store := sessions.NewCookieStore([]byte(cfg.SessionKey))
	manager := core.NewSessionManager(cfg, store)

	userRepo := core.NewPgUserRepository(db)

	retention := time.Duration(cfg.RateLimitRetentionSec) * time.Second
	attemptStore := core.NewRedisAttemptStore(redisClient, retention)
	limiter := core.NewRateLimiterFromConfig(attemptStore, cfg)

	authService := core.NewAuthService(userRepo, limiter)

	if cfg.BootstrapAdminEnabled {
		if err := core.EnsureSchema(ctx, db); err != nil {
			log.Fatalf("failed to ensure schema: %v", err)
		}
		if p := cfg.InitialAdminPasswordPath; p != "" {
			if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
				log.Fatalf("failed to prepare secrets dir: %v", err)
			}
		}
		if err := core.BootstrapAdmin(ctx, userRepo, cfg); err != nil {
			log.Fatalf("bootstrap admin failed: %v", err)
		}
	}

	router := core.NewRouter(cfg, manager, authService, userRepo)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("starting api server on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
