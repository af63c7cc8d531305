package main

import (
	"log"
	"os"

	"meowroast/internal/api"
	"meowroast/internal/auth"
	"meowroast/internal/config"
	"meowroast/internal/inference"
	"meowroast/internal/pipeline"
	"meowroast/internal/redis"
	"meowroast/internal/storage"
	"meowroast/internal/upload"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("MEOWROAST_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("MEOWROAST_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(cfg.Redis)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer cache.Close()
	}

	authService := auth.NewService(cfg.Auth)
	login := auth.NewGoogleLogin(cfg.Google, cfg.Server.BaseURL)
	uploader, err := upload.NewCloudinary(cfg.Cloudinary)
	if err != nil {
		log.Fatalf("init uploader: %v", err)
	}
	annotator := inference.NewClient(cfg.Inference, cfg.Server.BaseURL)
	photos := storage.NewPhotoStore(db, cache)
	runner := pipeline.NewRunner(uploader, annotator, photos)

	handlers := api.NewHandler(authService, login, runner, photos, cfg.Presets)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":3000"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
