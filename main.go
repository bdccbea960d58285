package main

import (
	"context"
	"log"
	"os"
	"time"

	"rollcall/internal/api"
	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/hub"
	"rollcall/internal/redis"
	"rollcall/internal/seed"
	"rollcall/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("ROLLCALL_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.Auth.Secret == "" {
		log.Fatalf("auth secret must be configured (config auth.secret or ROLLCALL_SECRET)")
	}

	dbType := os.Getenv("ROLLCALL_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	if err := seed.Users(context.Background(), db); err != nil {
		log.Fatalf("seed users: %v", err)
	}

	// Redis only backs token revocation; the service runs without it.
	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb, err = redis.NewClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
	} else {
		log.Printf("redis not configured; token revocation disabled")
	}

	eventHub := hub.New()
	attendanceService := attendance.NewService(db, dbType, eventHub, cfg.BasicConfig.LateThresholdMinutes)
	tokenTTL := time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
	authService := auth.NewService(db, rdb, cfg.Auth.Secret, tokenTTL)

	handlers := api.NewHandler(attendanceService, authService, eventHub, cfg.BasicConfig.BaseURL)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8080"
	}
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
