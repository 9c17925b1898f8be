package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/puneet2715/taskmanager-sub000/api"
	"github.com/puneet2715/taskmanager-sub000/board"
	"github.com/puneet2715/taskmanager-sub000/gateway"
	"github.com/puneet2715/taskmanager-sub000/presence"
	"github.com/puneet2715/taskmanager-sub000/storage"
	"github.com/puneet2715/taskmanager-sub000/subscription"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("load .env: %v", err)
	}
	cfg := loadConfig()

	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rc *redis.Client
	if cfg.RedisConnStr != "" {
		redisOpts, err := parseRedisOptions(cfg.RedisConnStr)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(redisOpts)
		defer rc.Close()
	}

	tables, err := storage.New(cfg.StorageConnStr, cfg.TasksTable, cfg.ProjectsTable)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	if err := tables.EnsureTables(ctx); err != nil {
		log.Fatalf("storage tables: %v", err)
	}
	store := storage.NewCache(tables, rc, cfg.CacheTTL)

	auth := newAuth(cfg)

	tracker := presence.NewTracker()
	var dedup gateway.Deduper
	if rc != nil {
		dedup = gateway.NewRedisDeduper(rc, cfg.DedupWindow)
	} else {
		dedup = gateway.NewMemoryDeduper(cfg.DedupWindow)
	}
	hub := gateway.NewHub(tracker, dedup, logger, gateway.Options{
		SendBuffer:     cfg.SendBuffer,
		StaleThreshold: cfg.StaleThreshold,
		PingInterval:   cfg.PingInterval,
		PongWait:       cfg.PongWait,
	})

	sweeper := presence.NewSweeper(hub.Sweep, cfg.SweepInterval, cfg.StaleThreshold, logger)
	sweeper.Start(ctx)

	// With a shared channel every instance, including this one, receives
	// board changes through the subscription.
	var emitter board.Emitter = hub
	if cfg.EventsChannel != "" {
		emitter = subscription.NewRedisPublisher(rc, cfg.EventsChannel)
		go subscription.SubscribeUpdates(ctx, logger, rc, cfg.EventsChannel, hub)
	}
	if cfg.EventsQueue != "" {
		queue, err := newEventsQueue(cfg.StorageConnStr, cfg.EventsQueue)
		if err != nil {
			log.Fatalf("events queue: %v", err)
		}
		go subscription.ConsumeQueue(ctx, logger, queue, hub, subscription.QueueOptions{})
	}
	boardSvc := board.New(store, emitter, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: corsOrigins(cfg.AllowedOrigins),
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echoprometheus.NewMiddleware("board"))
	e.Use(api.DecodeBodyMiddleware(0))
	e.GET("/metrics", echoprometheus.NewHandler())
	registerHubMetrics(hub)

	api.Register(e, hub, boardSvc, auth, api.Config{
		AdminToken:     cfg.AdminToken,
		InternalToken:  cfg.InternalToken,
		StaleThreshold: cfg.StaleThreshold,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger)

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	sweeper.Stop()
	hub.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
}

func newAuth(cfg config) *api.Auth {
	if cfg.LocalAuthKey != "" {
		log.Warn("LOCAL_AUTH_SHARED_SECRET set; accepting HS256 tokens")
		return api.NewAuth(nil, api.AuthConfig{Audience: cfg.AuthAudience, TestSecret: []byte(cfg.LocalAuthKey)})
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.AuthDomain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{RefreshInterval: time.Hour, RefreshUnknownKID: true})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	return api.NewAuth(jwks, api.AuthConfig{
		Audience:    cfg.AuthAudience,
		Issuer:      "https://" + cfg.AuthDomain + "/",
		KeyCacheTTL: cfg.JWKSCacheTTL,
	})
}

func newEventsQueue(connStr, name string) (*azqueue.QueueClient, error) {
	return azqueue.NewQueueClientFromConnectionString(connStr, name, &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Minute,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	})
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func registerHubMetrics(hub *gateway.Hub) {
	prometheus.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "board",
			Name:      "realtime_connections",
			Help:      "Open realtime connections.",
		}, func() float64 { return float64(hub.ConnectionCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "board",
			Name:      "presence_active_users",
			Help:      "Users present across all projects.",
		}, func() float64 { return float64(hub.Stats().TotalActiveUsers) }),
	)
}
