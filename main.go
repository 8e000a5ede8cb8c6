package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/optyhq/auth-service/handlers"
	"github.com/optyhq/auth-service/internal/config"
	"github.com/optyhq/auth-service/internal/database"
	"github.com/optyhq/auth-service/internal/identity"
	"github.com/optyhq/auth-service/internal/profiles"
	"github.com/optyhq/auth-service/internal/sessions"
	"github.com/optyhq/auth-service/pkg/logger"
	"github.com/optyhq/auth-service/pkg/metrics"
	"github.com/optyhq/auth-service/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

var startTime = time.Now()

func main() {
	// logging is controlled with LOG_LEVEL env: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: supabase=%v mongo=%v redis=%v", cfg.Supabase.URL != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "")

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Lightweight CORS middleware for dev/test: set common headers and respond to OPTIONS.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	ctx := context.Background()

	// Connect to Redis early; it backs the distributed rate limiter and can
	// serve as the refresh token store.
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("connected to Redis at %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	client, db, err := database.Connect(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.Timeout, 5)
	if err != nil {
		logger.Fatalf("could not connect to MongoDB: %v", err)
	}
	defer func() { _ = client.Disconnect(ctx) }()

	profileRepo := profiles.NewMongoRepository(db.Collection("users"))
	if err := profileRepo.EnsureIndexes(ctx); err != nil {
		logger.Warnf("profile index creation failed: %v", err)
	}

	// Refresh tokens live in Redis when available, MongoDB otherwise
	var store sessions.Store
	if redisClient != nil {
		store = sessions.NewRedisStore(redisClient, "rt:")
		logger.Infof("using Redis for refresh token storage")
	} else {
		mstore := sessions.NewMongoStore(db.Collection("refresh_tokens"))
		if err := mstore.EnsureIndexes(ctx); err != nil {
			logger.Fatalf("refresh token index creation failed: %v", err)
		}
		store = mstore
		logger.Infof("using MongoDB for refresh token storage")
	}

	provider := identity.NewSupabaseClient(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Supabase.ServiceKey, cfg.Supabase.Timeout)
	gen := sessions.NewGenerator(cfg.Tokens.RefreshTTL)
	mgr := sessions.NewManager(store, provider, profileRepo, gen, cfg.Tokens.OpTimeout)

	// Access tokens are provider-signed JWTs; verify locally when the shared
	// secret is configured, otherwise fall back to the provider's user-info
	// endpoint per request.
	var authn middleware.Authenticator
	if cfg.Supabase.JWTSecret != "" {
		authn = middleware.NewHS256Authenticator(cfg.Supabase.JWTSecret)
	} else {
		logger.Warn("SUPABASE_JWT_SECRET not set; validating access tokens remotely")
		authn = middleware.AuthenticatorFunc(func(c context.Context, token string) (string, error) {
			u, err := provider.UserFromToken(c, token)
			if err != nil {
				return "", err
			}
			if u == nil {
				return "", fmt.Errorf("token not accepted by provider")
			}
			return u.ID, nil
		})
	}

	h := handlers.NewAuthHandler(mgr)
	h.Register(r.Group("/"), middleware.AuthMiddleware(authn))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness: 200 only when critical dependencies answered at startup
	r.GET("/ready", func(c *gin.Context) {
		deps := map[string]bool{
			"mongo":    client != nil,
			"redis":    redisClient != nil || cfg.Redis.Host == "",
			"identity": cfg.Supabase.URL != "",
		}
		for _, ok := range deps {
			if !ok {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "deps": deps, "uptime": time.Since(startTime).String()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "deps": deps, "uptime": time.Since(startTime).String()})
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("starting auth service on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
