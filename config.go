package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/puneet2715/taskmanager-sub000/presence"
)

type config struct {
	ListenAddr string
	Debug      bool

	StorageConnStr string
	TasksTable     string
	ProjectsTable  string
	EventsQueue    string

	RedisConnStr  string
	EventsChannel string
	CacheTTL      time.Duration

	AuthDomain     string
	AuthAudience   string
	LocalAuthKey   string
	JWKSCacheTTL   time.Duration
	AdminToken     string
	InternalToken  string
	AllowedOrigins []string

	SweepInterval  time.Duration
	StaleThreshold time.Duration
	DedupWindow    time.Duration
	SendBuffer     int
	PingInterval   time.Duration
	PongWait       time.Duration
}

func loadConfig() config {
	cfg := config{
		ListenAddr:     ":" + envString("PORT", "8080"),
		Debug:          envBool("DEBUG", false),
		StorageConnStr: os.Getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:     envString("TASKS_TABLE", "Tasks"),
		ProjectsTable:  envString("PROJECTS_TABLE", "Projects"),
		EventsQueue:    os.Getenv("PROJECT_EVENTS_QUEUE"),
		RedisConnStr:   os.Getenv("REDIS_CONNECTION_STRING"),
		EventsChannel:  os.Getenv("PROJECT_EVENTS_CHANNEL"),
		CacheTTL:       envDur("TASKS_CACHE_TTL", time.Minute),
		AuthDomain:     os.Getenv("AUTH0_DOMAIN"),
		AuthAudience:   os.Getenv("AUTH0_AUDIENCE"),
		LocalAuthKey:   os.Getenv("LOCAL_AUTH_SHARED_SECRET"),
		JWKSCacheTTL:   envDur("JWKS_CACHE_TTL", 15*time.Minute),
		AdminToken:     os.Getenv("ADMIN_TOKEN"),
		InternalToken:  os.Getenv("INTERNAL_TOKEN"),
		AllowedOrigins: envList("ALLOWED_ORIGINS"),
		SweepInterval:  envDur("PRESENCE_SWEEP_INTERVAL", presence.DefaultSweepInterval),
		StaleThreshold: envDur("PRESENCE_STALE_THRESHOLD", presence.DefaultStaleThreshold),
		DedupWindow:    envDur("DEDUP_WINDOW", time.Second),
		SendBuffer:     envInt("WS_SEND_BUFFER", 64),
		PingInterval:   envDur("WS_PING_INTERVAL", 25*time.Second),
		PongWait:       envDur("WS_PONG_WAIT", 60*time.Second),
	}
	if cfg.StorageConnStr == "" {
		log.Fatal("missing storage config")
	}
	if cfg.LocalAuthKey == "" && (cfg.AuthDomain == "" || cfg.AuthAudience == "") {
		log.Fatal("missing Auth0 config")
	}
	if cfg.EventsChannel != "" && cfg.RedisConnStr == "" {
		log.Fatal("PROJECT_EVENTS_CHANNEL requires REDIS_CONNECTION_STRING")
	}
	return cfg
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	if n <= 0 {
		log.Fatalf("invalid %s: must be greater than zero", key)
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %q", key, v)
	}
	return d
}

func envList(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseRedisOptions accepts a redis:// URL or the Azure style
// "host:port,password=...,ssl=true" connection string.
func parseRedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, fmt.Errorf("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}
