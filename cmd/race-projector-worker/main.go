package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/radieske/horse-race-platform-poc/internal/projector"
	sharedcache "github.com/radieske/horse-race-platform-poc/internal/shared/cache"
	"github.com/radieske/horse-race-platform-poc/internal/shared/config"
	sharedkafka "github.com/radieske/horse-race-platform-poc/internal/shared/kafka"
	"github.com/radieske/horse-race-platform-poc/internal/shared/logger"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	redisClient, err := sharedcache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// TTL folgado: a projeção cobre a corrida inteira mais a janela de settle
	ttl := cfg.RoundDuration + cfg.SettlingStuckAfter + 10*time.Minute
	rcache := projector.NewRaceCache(redisClient, ttl)
	broadcaster := projector.NewRedisBroadcaster(redisClient)

	const group = "race-projector"
	opened := sharedkafka.NewReader(cfg.KafkaBrokers, cfg.TopicRaceOpened, group)
	defer opened.Close()
	bets := sharedkafka.NewReader(cfg.KafkaBrokers, cfg.TopicBetRecorded, group)
	defer bets.Close()
	settled := sharedkafka.NewReader(cfg.KafkaBrokers, cfg.TopicRaceSettled, group)
	defer settled.Close()

	// Métricas Prometheus por estágio
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "race_proj_messages_consumed_total", Help: "mensagens consumidas"}, []string{"topic"})
	projected := prometheus.NewCounter(prometheus.CounterOpts{Name: "race_proj_projections_total", Help: "projeções gravadas"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "race_proj_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(consumed, projected, errorsBy)

	proc := &projector.Processor{
		Log:         log,
		Opened:      opened,
		Bets:        bets,
		Settled:     settled,
		Cache:       rcache,
		Broadcaster: broadcaster,
		OnConsumed:  func(topic string) { consumed.WithLabelValues(topic).Inc() },
		OnProjected: func() { projected.Inc() },
		OnError:     func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	// Servidor HTTP para métricas e health check
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		addr := fmt.Sprintf(":%s", cfg.MetricsPort)
		log.Info("metrics/health listening", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("race-projector started")
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("projector stopped with error", zap.Error(err))
	}
	log.Info("race-projector stopped")
}
