package deposit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/horse-race-platform-poc/internal/chain"
	"github.com/radieske/horse-race-platform-poc/internal/race/repo"
)

// Store é o recorte de persistência usado pelo scan de depósitos
type Store interface {
	ListHorses(ctx context.Context) ([]repo.Horse, error)
	HasBetWithSignature(ctx context.Context, signature string) (bool, error)
	InsertBet(ctx context.Context, b *repo.Bet) (string, error)
}

// Reconciler varre o histórico das carteiras dos cavalos e registra
// transferências diretas como apostas confirmadas. Transferência
// wallet-to-wallet é uma forma de apostar tão válida quanto a API:
// a fonte de verdade do engine é só o conjunto de apostas CONFIRMED
type Reconciler struct {
	log       *zap.Logger
	store     Store
	chain     chain.Client
	scanLimit int

	// OnRecorded é chamado para cada aposta nova inserida (publish-on-write);
	// a entrega é best-effort e nunca bloqueia o scan
	OnRecorded func(bet repo.Bet)
}

// NewReconciler cria o reconciler com o limite de assinaturas lidas por carteira
func NewReconciler(log *zap.Logger, store Store, c chain.Client, scanLimit int) *Reconciler {
	return &Reconciler{log: log, store: store, chain: c, scanLimit: scanLimit}
}

// Reconcile processa os depósitos pendentes de uma corrida aberta.
// Falha em um cavalo não interrompe os outros; retorna quantas apostas novas
// foram registradas. Rodar duas vezes sobre o mesmo histórico não duplica
// nada: a assinatura da transação é única na tabela de apostas
func (r *Reconciler) Reconcile(ctx context.Context, race *repo.Race) (int, error) {
	horses, err := r.store.ListHorses(ctx)
	if err != nil {
		return 0, fmt.Errorf("load horses: %w", err)
	}

	recorded := 0
	for _, h := range horses {
		n, err := r.scanHorse(ctx, race, h)
		if err != nil {
			r.log.Warn("deposit scan failed for horse",
				zap.String("horseId", h.ID), zap.String("wallet", h.Wallet), zap.Error(err))
			continue
		}
		recorded += n
	}
	return recorded, nil
}

func (r *Reconciler) scanHorse(ctx context.Context, race *repo.Race, h repo.Horse) (int, error) {
	sigs, err := r.chain.RecentSignatures(ctx, h.Wallet, r.scanLimit)
	if err != nil {
		return 0, fmt.Errorf("signatures: %w", err)
	}

	recorded := 0
	for _, s := range sigs {
		if s.Failed {
			continue
		}

		seen, err := r.store.HasBetWithSignature(ctx, s.Signature)
		if err != nil {
			return recorded, fmt.Errorf("dedup check: %w", err)
		}
		if seen {
			continue
		}

		detail, err := r.chain.TransactionDetail(ctx, s.Signature)
		if err != nil {
			// transação individual com problema não derruba o scan do cavalo
			r.log.Warn("transaction detail failed",
				zap.String("signature", s.Signature), zap.Error(err))
			continue
		}
		if detail.Failed {
			continue
		}

		bet, ok := r.depositFromDetail(race, h, detail)
		if !ok {
			continue
		}

		id, err := r.store.InsertBet(ctx, &bet)
		if err != nil {
			if errors.Is(err, repo.ErrDuplicateSignature) {
				// outro scan concorrente registrou primeiro
				continue
			}
			return recorded, fmt.Errorf("insert bet: %w", err)
		}
		bet.ID = id
		recorded++

		r.log.Info("deposit recorded as bet",
			zap.String("raceId", race.ID),
			zap.String("horseId", h.ID),
			zap.String("wallet", bet.Wallet),
			zap.Int64("lamports", bet.Lamports),
			zap.String("signature", s.Signature),
		)
		if r.OnRecorded != nil {
			r.OnRecorded(bet)
		}
	}
	return recorded, nil
}

// depositFromDetail decide se a transação é um depósito válido para a corrida
// e sintetiza a aposta como se tivesse vindo pelo fluxo normal
func (r *Reconciler) depositFromDetail(race *repo.Race, h repo.Horse, detail *chain.TransactionDetail) (repo.Bet, bool) {
	idx := -1
	for i, key := range detail.AccountKeys {
		if key == h.Wallet {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(detail.PreBalances) || idx >= len(detail.PostBalances) {
		return repo.Bet{}, false
	}

	// depósito = delta positivo de saldo na carteira do cavalo
	delta := detail.PostBalances[idx] - detail.PreBalances[idx]
	if delta <= 0 {
		return repo.Bet{}, false
	}

	if len(detail.AccountKeys) == 0 {
		return repo.Bet{}, false
	}
	sender := detail.AccountKeys[0]

	// cutoff estrito: o timestamp observado manda, depósito atrasado não conta
	ts := time.Unix(detail.BlockTime, 0)
	if detail.BlockTime == 0 || ts.After(race.BettingDeadline) || ts.Before(race.OpenedAt) {
		return repo.Bet{}, false
	}

	return repo.Bet{
		RaceID:      race.ID,
		HorseID:     h.ID,
		Wallet:      sender,
		Lamports:    delta,
		TxSignature: sql.NullString{String: detail.Signature, Valid: true},
		Status:      repo.BetConfirmed,
	}, true
}
