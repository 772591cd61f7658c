package main

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/horse-race-platform-poc/internal/chain"
	"github.com/radieske/horse-race-platform-poc/internal/race/deposit"
	"github.com/radieske/horse-race-platform-poc/internal/race/httpapi"
	"github.com/radieske/horse-race-platform-poc/internal/race/producer"
	"github.com/radieske/horse-race-platform-poc/internal/race/repo"
	"github.com/radieske/horse-race-platform-poc/internal/race/scheduler"
	"github.com/radieske/horse-race-platform-poc/internal/race/settlement"
	"github.com/radieske/horse-race-platform-poc/internal/shared/config"
	"github.com/radieske/horse-race-platform-poc/internal/shared/db"
	sharedkafka "github.com/radieske/horse-race-platform-poc/internal/shared/kafka"
	"github.com/radieske/horse-race-platform-poc/internal/shared/logger"
	"github.com/radieske/horse-race-platform-poc/internal/shared/metrics"
	"github.com/radieske/horse-race-platform-poc/pkg/contracts/events"
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
	rpc := chain.NewRPCClient(cfg.SolanaRPCURL)

	// Publishers dos eventos de mudança (publish-on-write)
	publ := &producer.KafkaPublisher{
		RaceOpened:  sharedkafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRaceOpened),
		RaceSettled: sharedkafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRaceSettled),
		BetRecorded: sharedkafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetRecorded),
	}
	defer publ.RaceOpened.Close()
	defer publ.RaceSettled.Close()
	defer publ.BetRecorded.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	engine := settlement.NewEngine(log, store, rng, cfg.HouseFeeBps)

	reconciler := deposit.NewReconciler(log, store, rpc, cfg.DepositScanLimit)
	reconciler.OnRecorded = func(bet repo.Bet) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = publ.PublishBetRecorded(ctx, events.BetRecorded{
			BetID:       bet.ID,
			RaceID:      bet.RaceID,
			HorseID:     bet.HorseID,
			Wallet:      bet.Wallet,
			Lamports:    bet.Lamports,
			TxSignature: bet.TxSignature.String,
			Origin:      "deposit-scan",
		})
	}

	sched := scheduler.New(log, store, reconciler, engine, cfg.RoundDuration, cfg.SettlingStuckAfter)
	sched.OnRaceOpened = func(race repo.Race) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = publ.PublishRaceOpened(ctx, events.RaceOpened{
			RaceID:          race.ID,
			RaceNumber:      race.Number,
			OpenedAt:        race.OpenedAt,
			BettingDeadline: race.BettingDeadline,
		})
	}
	sched.OnRaceSettled = func(res settlement.Result) {
		ev := events.RaceSettled{
			RaceID:        res.RaceID,
			WinnerHorseID: res.WinnerHorseID,
			WinnerName:    res.WinnerName,
			Positions:     res.Positions,
			PoolLamports:  res.PoolLamports,
			HouseFee:      res.HouseFee,
			SettledAt:     res.SettledAt,
		}
		for _, p := range res.Payouts {
			ev.Payouts = append(ev.Payouts, events.PayoutEntry{BetID: p.BetID, Wallet: p.Wallet, Lamports: p.Lamports})
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = publ.PublishRaceSettled(ctx, ev)
	}

	// Servidor lateral de métricas/health
	metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		return pg.PingContext(ctx)
	})

	srv := httpapi.NewServer(log, store, rpc, sched, publ, cfg.CronSecret, cfg.AdminSecret)

	addr := ":" + cfg.HTTPPort
	log.Info("race-service listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, srv.Router()); err != nil && err != http.ErrServerClosed {
		log.Fatal("race-service failed", zap.Error(err))
	}
}
