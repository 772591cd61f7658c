package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/radieske/horse-race-platform-poc/internal/chain"
	"github.com/radieske/horse-race-platform-poc/internal/payout"
	"github.com/radieske/horse-race-platform-poc/internal/race/producer"
	"github.com/radieske/horse-race-platform-poc/internal/race/repo"
	"github.com/radieske/horse-race-platform-poc/internal/shared/config"
	"github.com/radieske/horse-race-platform-poc/internal/shared/db"
	sharedkafka "github.com/radieske/horse-race-platform-poc/internal/shared/kafka"
	"github.com/radieske/horse-race-platform-poc/internal/shared/logger"
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

	// A chave da carteira pagadora é credencial singleton deste worker:
	// nenhum outro serviço assina transações com ela
	houseWallet, err := chain.WalletFromSecret(cfg.HouseWalletSecret)
	if err != nil {
		log.Fatal("house wallet secret", zap.Error(err))
	}

	rpc := chain.NewRPCClient(cfg.SolanaRPCURL)
	pipeline := payout.NewPipeline(log, rpc, cfg.PayoutBatchSize, cfg.PayoutMaxRetries, cfg.PayoutBatchDelay, cfg.PriorityFeeMicro)

	resultWriter := sharedkafka.NewWriter(cfg.KafkaBrokers, cfg.TopicPayoutResult)
	defer resultWriter.Close()
	publ := &producer.KafkaPublisher{PayoutResult: resultWriter}

	// Métricas Prometheus
	sent := prometheus.NewCounter(prometheus.CounterOpts{Name: "payout_sent_total", Help: "pagamentos enviados"})
	failed := prometheus.NewCounter(prometheus.CounterOpts{Name: "payout_failed_total", Help: "pagamentos falhos"})
	runs := prometheus.NewCounter(prometheus.CounterOpts{Name: "payout_runs_total", Help: "varreduras executadas"})
	prometheus.MustRegister(sent, failed, runs)

	// Servidor HTTP para métricas e health check
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()
			if err := pg.PingContext(ctx); err != nil {
				http.Error(w, "pg", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		addr := ":" + cfg.MetricsPort
		log.Info("metrics/health", zap.String("addr", addr))
		_ = http.ListenAndServe(addr, mux)
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("payout-worker started",
		zap.String("wallet", houseWallet.Address()),
		zap.Duration("pollInterval", cfg.PayoutPollInterval),
	)

	ticker := time.NewTicker(cfg.PayoutPollInterval)
	defer ticker.Stop()

	for {
		runs.Inc()
		if err := runOnce(ctx, log, store, pipeline, houseWallet, publ, sent, failed); err != nil && ctx.Err() == nil {
			log.Error("payout run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			log.Info("payout-worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// runOnce desembolsa os pagamentos PENDING de cada corrida fechada.
// Falha em uma corrida não bloqueia as outras
func runOnce(
	ctx context.Context,
	log *zap.Logger,
	store *repo.Postgres,
	pipeline *payout.Pipeline,
	houseWallet *chain.Wallet,
	publ *producer.KafkaPublisher,
	sent, failed prometheus.Counter,
) error {
	raceIDs, err := store.ListPendingPayoutRaces(ctx)
	if err != nil {
		return err
	}

	for _, raceID := range raceIDs {
		pending, err := store.ListPendingPayouts(ctx, raceID)
		if err != nil {
			log.Error("list pending payouts", zap.String("raceId", raceID), zap.Error(err))
			continue
		}
		if len(pending) == 0 {
			continue
		}

		items := make([]payout.Item, len(pending))
		for i, po := range pending {
			items[i] = payout.Item{ID: po.ID, Wallet: po.Wallet, Lamports: po.Lamports}
		}

		// O callback grava o desfecho de cada pagamento via update condicional:
		// re-execuções não sobrescrevem um payout já marcado
		summary, err := pipeline.Disburse(ctx, houseWallet, items, func(it payout.Item, ok bool, sig string) {
			status := repo.PayoutFailed
			if ok {
				status = repo.PayoutSent
			}
			mctx, mcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer mcancel()
			if _, err := store.MarkPayout(mctx, it.ID, status, sig); err != nil {
				log.Error("mark payout", zap.String("payoutId", it.ID), zap.Error(err))
			}
		})
		if err != nil {
			log.Error("disburse race", zap.String("raceId", raceID), zap.Error(err))
		}

		sent.Add(float64(summary.Sent))
		failed.Add(float64(summary.Failed))
		log.Info("race disbursed",
			zap.String("raceId", raceID),
			zap.Int("sent", summary.Sent),
			zap.Int("failed", summary.Failed),
		)

		pctx, pcancel := context.WithTimeout(context.Background(), time.Second)
		_ = publ.PublishPayoutResult(pctx, events.PayoutResult{
			RaceID:       raceID,
			Sent:         summary.Sent,
			Failed:       summary.Failed,
			TxSignatures: summary.TxSignatures,
		})
		pcancel()
	}
	return nil
}
