package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	feedhttp "github.com/radieske/horse-race-platform-poc/internal/feed/http"
	"github.com/radieske/horse-race-platform-poc/internal/feed/ws"
	"github.com/radieske/horse-race-platform-poc/internal/projector"
	"github.com/radieske/horse-race-platform-poc/internal/race/repo"
	sharedcache "github.com/radieske/horse-race-platform-poc/internal/shared/cache"
	"github.com/radieske/horse-race-platform-poc/internal/shared/config"
	"github.com/radieske/horse-race-platform-poc/internal/shared/db"
	"github.com/radieske/horse-race-platform-poc/internal/shared/logger"
	"github.com/radieske/horse-race-platform-poc/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()
	store := repo.NewPostgres(pg)

	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	rcache := projector.NewRaceCache(redisClient, cfg.RoundDuration+10*time.Minute)

	// Hub WebSocket alimentado pelo Pub/Sub do Redis; entrega best-effort
	hub := ws.NewHub(func(r *http.Request) bool { return true })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ws.StartRedisSubscriber(ctx, redisClient, hub)

	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		return redisClient.Ping(ctx).Err()
	})

	srv := feedhttp.NewServer(log, rcache, store, hub)

	addr := ":" + cfg.HTTPPort
	log.Info("race-feed-service listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, srv.Router()); err != nil && err != http.ErrServerClosed {
		log.Fatal("race-feed-service failed", zap.Error(err))
	}
}
