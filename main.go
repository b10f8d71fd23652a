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

	"github.com/gin-gonic/gin"
	apirest "github.com/nisekogame/backend/api/rest"
	"github.com/nisekogame/backend/api/sse"
	"github.com/nisekogame/backend/audit"
	"github.com/nisekogame/backend/cache"
	"github.com/nisekogame/backend/config"
	dbadapter "github.com/nisekogame/backend/db"
	"github.com/nisekogame/backend/game/character"
	"github.com/nisekogame/backend/game/coop"
	"github.com/nisekogame/backend/metrics"
	mw "github.com/nisekogame/backend/middleware"
	"github.com/nisekogame/backend/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	cfgPath := ""
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	} else if _, err := os.Stat(defaultConfigPath); err == nil {
		cfgPath = defaultConfigPath
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
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

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		logger.Fatal("db open failed", zap.String("mode", cfg.Database.Mode), zap.Error(err))
	}
	defer dbadapter.Close(db)
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate failed", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- PubSub ----
	pubsub, err := cache.NewPubSub(cache.Config{
		RedisAddr:      cfg.Cache.RedisAddr,
		RedisPassword:  cfg.Cache.RedisPassword,
		RedisDB:        cfg.Cache.RedisDB,
		LocalPubSubBuf: cfg.Cache.LocalPubSubBuf,
	})
	if err != nil {
		logger.Fatal("pubsub init failed", zap.Error(err))
	}
	defer pubsub.Close()
	if cfg.Cache.RedisAddr != "" {
		logger.Info("PubSub initialized", zap.String("backend", "redis"), zap.String("addr", cfg.Cache.RedisAddr))
	} else {
		logger.Info("PubSub initialized", zap.String("backend", "local"))
	}

	// ---- Audit ----
	var auditSvc *audit.Service
	if cfg.Audit.Enabled {
		auditSvc = audit.New(db, logger, audit.Options{
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval,
		})
		defer auditSvc.Stop(context.Background())
	}

	// ---- Metrics ----
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// ---- Services ----
	chars := character.NewService(db, logger)
	ledger := coop.NewLedger(db, chars, pubsub, logger)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	limiter := mw.NewRateLimiter(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst)
	defer limiter.Close()

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger, "/health", "/metrics", "/events"), mw.Recovery(logger))
	r.Use(mw.CORS(cfg.Security.AllowedOrigins))
	r.Use(m.Middleware())

	r.GET("/health", apirest.Health(db))
	if m != nil {
		r.GET("/metrics", mw.IPWhitelist(cfg.Metrics.Whitelist), gin.WrapH(m.Handler()))
	}

	sseH := sse.NewHandler(pubsub, logger)
	r.GET("/events", sseH.ServeSSE)

	api := r.Group("/")
	api.Use(limiter.Handler())
	apirest.Register(api,
		apirest.NewCharacterHandler(chars, auditSvc, m, logger),
		apirest.NewCooperativeHandler(ledger, auditSvc, m, logger))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	srv.RegisterOnShutdown(sseH.Shutdown)

	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
