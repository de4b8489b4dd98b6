package main

import (
	"context"
	"log"
	"os"
	"time"

	"uiforge/internal/api"
	"uiforge/internal/auth"
	"uiforge/internal/config"
	"uiforge/internal/pipeline"
	"uiforge/internal/redis"
	"uiforge/internal/service/generator"
	"uiforge/internal/service/playground"
	"uiforge/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("UIFORGE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("UIFORGE_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Fatalf("create redis client: %v", err)
	}
	defer rdb.Close()

	// Create necessary tables: users, user_tokens, apiKeys, sessions, messages
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	playgroundService, err := playground.NewService(db)
	if err != nil {
		log.Fatalf("init playground service: %v", err)
	}
	authService := auth.NewService(db, rdb, 24*time.Hour)
	cleanCtx, cleanCancel := context.WithCancel(context.Background())
	defer cleanCancel()
	authService.StartTokenCleaner(cleanCtx, time.Hour)

	pipelineCfg := pipeline.Config{
		QueueSize:   cfg.BasicConfig.SendQueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.RunnerIdleTimeout) * time.Minute,
	}
	sender := pipeline.NewManager(playgroundService, generator.NewFactory(cfg), rdb, pipelineCfg)

	handlers := api.NewHandler(playgroundService, authService, sender)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
