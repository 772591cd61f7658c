package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/horse-race-platform-poc/internal/race/repo"
	"github.com/radieske/horse-race-platform-poc/internal/race/settlement"
)

// Store é o recorte de persistência do scheduler
type Store interface {
	ListRacesByStatus(ctx context.Context, statuses ...string) ([]repo.Race, error)
	LatestRace(ctx context.Context) (*repo.Race, error)
	CreateRace(ctx context.Context, openedAt, deadline time.Time) (*repo.Race, error)
}

// Reconciler processa depósitos de uma corrida aberta
type Reconciler interface {
	Reconcile(ctx context.Context, race *repo.Race) (int, error)
}

// Settler fecha uma corrida; nil sem erro significa "outro caller cuidou"
type Settler interface {
	Settle(ctx context.Context, raceID string) (*settlement.Result, error)
}

// TickSummary é o resumo estruturado de uma invocação do scheduler
type TickSummary struct {
	SettledRaces     int    `json:"settledRaces"`
	NewRaceID        string `json:"newRaceId,omitempty"`
	DepositsRecorded int    `json:"depositsRecorded"`
	Errors           int    `json:"errors"`
}

// Scheduler é a rotina de controle invocada em cadência fixa por um trigger
// externo. Stateless: invocações sobrepostas são esperadas e seguras, toda a
// coordenação acontece via updates condicionais no banco
type Scheduler struct {
	log        *zap.Logger
	store      Store
	reconciler Reconciler
	settler    Settler

	roundDuration time.Duration // janela de apostas; dobra como espaçamento mínimo entre corridas
	stuckAfter    time.Duration // corrida em SETTLING além disso é re-settled

	now func() time.Time // injetável nos testes

	// Hooks de publish-on-write; entrega best-effort, nunca abortam o tick
	OnRaceOpened  func(race repo.Race)
	OnRaceSettled func(result settlement.Result)
}

// New cria o scheduler com as durações vindas da config
func New(log *zap.Logger, store Store, rec Reconciler, set Settler, roundDuration, stuckAfter time.Duration) *Scheduler {
	return &Scheduler{
		log:           log,
		store:         store,
		reconciler:    rec,
		settler:       set,
		roundDuration: roundDuration,
		stuckAfter:    stuckAfter,
		now:           time.Now,
	}
}

// RunTick executa uma rodada completa: reconcilia depósitos das corridas
// abertas, fecha as expiradas, destrava as presas em SETTLING e abre uma nova
// corrida quando não existe nenhuma ativa. Falha em uma corrida não aborta as
// outras; o resumo sai best-effort mesmo com erros parciais
func (s *Scheduler) RunTick(ctx context.Context) (TickSummary, error) {
	var summary TickSummary
	now := s.now()

	open, err := s.store.ListRacesByStatus(ctx, repo.RaceOpen)
	if err != nil {
		return summary, fmt.Errorf("list open races: %w", err)
	}

	// 1) depósitos das corridas em janela de apostas
	for i := range open {
		race := &open[i]
		n, err := s.reconciler.Reconcile(ctx, race)
		summary.DepositsRecorded += n
		if err != nil {
			summary.Errors++
			s.log.Warn("deposit reconcile failed", zap.String("raceId", race.ID), zap.Error(err))
		}
	}

	// 2) corridas abertas com deadline vencido
	for i := range open {
		race := &open[i]
		if race.BettingDeadline.After(now) {
			continue
		}
		s.settleOne(ctx, race.ID, &summary)
	}

	// 3) corridas presas em SETTLING (processo morreu segurando o lock);
	// o settle idempotente re-finaliza ou vira no-op
	settling, err := s.store.ListRacesByStatus(ctx, repo.RaceSettling)
	if err != nil {
		return summary, fmt.Errorf("list settling races: %w", err)
	}
	for i := range settling {
		race := &settling[i]
		if now.Sub(race.UpdatedAt) < s.stuckAfter {
			continue
		}
		s.log.Warn("race stuck in settling, forcing settle",
			zap.String("raceId", race.ID), zap.Time("since", race.UpdatedAt))
		s.settleOne(ctx, race.ID, &summary)
	}

	// 4) abre corrida nova quando não há nenhuma ativa, respeitando o
	// espaçamento mínimo (ticks sobrepostos não podem abrir duplicada)
	active, err := s.store.ListRacesByStatus(ctx, repo.RaceOpen, repo.RaceSettling)
	if err != nil {
		return summary, fmt.Errorf("list active races: %w", err)
	}
	if len(active) == 0 {
		latest, err := s.store.LatestRace(ctx)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return summary, fmt.Errorf("latest race: %w", err)
		}
		if latest == nil || now.Sub(latest.OpenedAt) >= s.roundDuration {
			race, err := s.store.CreateRace(ctx, now, now.Add(s.roundDuration))
			if err != nil {
				summary.Errors++
				s.log.Error("create race failed", zap.Error(err))
			} else {
				summary.NewRaceID = race.ID
				s.log.Info("race opened",
					zap.String("raceId", race.ID),
					zap.Int64("number", race.Number),
					zap.Time("deadline", race.BettingDeadline))
				if s.OnRaceOpened != nil {
					s.OnRaceOpened(*race)
				}
			}
		}
	}

	return summary, nil
}

func (s *Scheduler) settleOne(ctx context.Context, raceID string, summary *TickSummary) {
	res, err := s.settler.Settle(ctx, raceID)
	if err != nil {
		summary.Errors++
		s.log.Error("settle failed", zap.String("raceId", raceID), zap.Error(err))
		return
	}
	if res == nil {
		// contenção: outro tick/processo ficou com o settle
		return
	}
	summary.SettledRaces++
	if s.OnRaceSettled != nil {
		s.OnRaceSettled(*res)
	}
}
