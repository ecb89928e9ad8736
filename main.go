package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"udmportal/internal/api"
	"udmportal/internal/attachment"
	"udmportal/internal/auth"
	"udmportal/internal/config"
	"udmportal/internal/kv"
	"udmportal/internal/logger"
	"udmportal/internal/modules"
	"udmportal/internal/redis"
	"udmportal/internal/storage"
	"udmportal/internal/tab"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("PORTAL_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.L.Fatal().Err(err).Msg("load config")
	}
	logger.Setup(cfg.IsDevelopment(), cfg.BasicConfig.LogLevel)
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	dbType := cfg.BasicConfig.DBType
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.L.Info().Str("db_type", dbType).Str("storage", cfg.Storage.Backend).Str("notifier", cfg.Storage.Notifier).Msg("starting portal")
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.L.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	// Create necessary tables: users, user_tokens, kv_entries
	if err := storage.Migrate(db, dbType); err != nil {
		logger.L.Fatal().Err(err).Msg("migrate database")
	}

	needRedis := cfg.Storage.Backend == "redis" || cfg.Storage.Notifier == "redis"
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		if needRedis {
			logger.L.Fatal().Err(err).Msg("create redis client")
		}
		logger.L.Warn().Err(err).Msg("redis unavailable, token cache disabled")
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store kv.Store
	switch cfg.Storage.Backend {
	case "memory":
		store = kv.NewMemoryStore(cfg.Storage.QuotaBytes)
	case "redis":
		store = kv.NewRedisStore(rdb)
	default:
		sqlStore, err := kv.NewSQLStore(db, dbType)
		if err != nil {
			logger.L.Fatal().Err(err).Msg("init sql store")
		}
		store = sqlStore
	}

	var notifier kv.Notifier
	if cfg.Storage.Notifier == "redis" {
		rn := kv.NewRedisNotifier(rdb)
		if err := rn.Start(ctx); err != nil {
			logger.L.Fatal().Err(err).Msg("subscribe storage changes")
		}
		defer rn.Close()
		notifier = rn
	} else {
		notifier = kv.NewLocalBroker()
	}

	var recorder attachment.Recorder
	if cfg.Audio.Device != "" {
		recorder = &attachment.StreamRecorder{Path: cfg.Audio.Device, MediaType: cfg.Audio.MediaType}
	}
	encoder := attachment.NewEncoder(recorder, attachment.WithAudioType(cfg.Audio.MediaType))

	authService := auth.NewService(db, rdb, 24*time.Hour)
	seeds := cfg.SeedUsers
	if len(seeds) == 0 {
		seeds = auth.DemoUsers
	}
	if err := authService.SeedUsers(ctx, seeds); err != nil {
		logger.L.Fatal().Err(err).Msg("seed users")
	}

	tabs := tab.NewManager(tab.Deps{
		Store:        store,
		Notifier:     notifier,
		Encoder:      encoder,
		Pages:        &modules.PDFPageCounter{Client: &http.Client{Timeout: time.Minute}},
		Passkey:      cfg.Feed.Passkey,
		DraftTTL:     time.Duration(cfg.Feed.DraftTTL) * time.Minute,
		ReapInterval: time.Duration(cfg.Feed.ReapInterval) * time.Minute,
	}, time.Duration(cfg.BasicConfig.TabIdleTimeout)*time.Minute)
	defer tabs.CloseAll()

	handlers := api.NewHandler(authService, tabs, modules.NewCatalog(cfg.Modules))
	defer handlers.Close()

	router := gin.New()
	router.Use(gin.Recovery())
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		logger.L.Info().Str("addr", addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	logger.L.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.L.Warn().Err(err).Msg("graceful shutdown failed")
	}
}
