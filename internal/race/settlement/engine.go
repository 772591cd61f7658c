package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/horse-race-platform-poc/internal/race/repo"
)

// Store é o contrato de persistência que o engine consome.
// Os updates condicionais retornam false quando zero linhas foram afetadas
// (contenção: outro caller chegou antes, não é erro)
type Store interface {
	GetRace(ctx context.Context, raceID string) (*repo.Race, error)
	MarkRaceSettling(ctx context.Context, raceID string) (bool, error)
	FinalizeRace(ctx context.Context, raceID, winnerID string, positions []string, houseFee int64) (bool, error)
	ListHorses(ctx context.Context) ([]repo.Horse, error)
	ListConfirmedBets(ctx context.Context, raceID string) ([]repo.Bet, error)
	SettleBet(ctx context.Context, betID, newStatus string, payoutLamports int64) (bool, error)
	InsertPayouts(ctx context.Context, payouts []repo.Payout) error
	ListPayouts(ctx context.Context, raceID string) ([]repo.Payout, error)
}

// HorseTotal é o total apostado (CONFIRMED) em um cavalo na corrida
type HorseTotal struct {
	HorseID  string
	Lamports int64
}

// PayoutEntry é um pagamento devido a uma aposta vencedora
type PayoutEntry struct {
	BetID    string
	Wallet   string
	Lamports int64
}

// Result é o resultado imutável de uma corrida fechada
type Result struct {
	RaceID        string
	WinnerHorseID string
	WinnerName    string
	Positions     []string
	PoolLamports  int64
	HouseFee      int64
	Payouts       []PayoutEntry
	SettledAt     time.Time
}

// Engine calcula vencedor, ranking e pagamentos e orquestra o settle idempotente.
// O RNG é injetado para permitir testes determinísticos
type Engine struct {
	log    *zap.Logger
	store  Store
	feeBps int64

	mu  sync.Mutex // *rand.Rand não é seguro para uso concorrente
	rng *rand.Rand
}

// NewEngine cria o engine com a taxa da casa em basis points
func NewEngine(log *zap.Logger, store Store, rng *rand.Rand, feeBps int64) *Engine {
	return &Engine{log: log, store: store, rng: rng, feeBps: feeBps}
}

// SelectWinner sorteia o vencedor com peso inverso ao total apostado:
// w_i = T - s_i + T/n, onde T é o pool total e n o número de cavalos.
// Cavalos menos apostados ganham mais vezes (a mecânica de vantagem da casa);
// o termo T/n impede que a probabilidade de alguém colapse para zero.
// Com pool zerado o sorteio é uniforme
func (e *Engine) SelectWinner(totals []HorseTotal) (string, error) {
	if len(totals) == 0 {
		return "", errors.New("no horses to select from")
	}

	var pool int64
	for _, t := range totals {
		pool += t.Lamports
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if pool == 0 {
		return totals[e.rng.Intn(len(totals))].HorseID, nil
	}

	n := int64(len(totals))
	var sum int64
	weights := make([]int64, len(totals))
	for i, t := range totals {
		weights[i] = pool - t.Lamports + pool/n
		sum += weights[i]
	}

	draw := e.rng.Int63n(sum)
	var cum int64
	for i, w := range weights {
		cum += w
		if draw < cum {
			return totals[i].HorseID, nil
		}
	}
	// inalcançável com sum > 0, mas o scan precisa de um fallback total
	return totals[len(totals)-1].HorseID, nil
}

// GeneratePositions monta o ranking final: vencedor em primeiro, o resto
// embaralhado (Fisher-Yates). As posições além da primeira são cosméticas
// e não influenciam pagamento nenhum
func (e *Engine) GeneratePositions(winnerID string, horseIDs []string) []string {
	rest := make([]string, 0, len(horseIDs))
	for _, id := range horseIDs {
		if id != winnerID {
			rest = append(rest, id)
		}
	}

	e.mu.Lock()
	e.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	e.mu.Unlock()

	return append([]string{winnerID}, rest...)
}

// CalculatePayouts divide o pool dos perdedores entre as apostas vencedoras.
// Cada vencedor recebe a própria aposta de volta mais uma fração pro-rata de
// (pool perdedor - taxa da casa). A sobra de arredondamento inteiro vai para a
// última aposta vencedora, conservando o distribuível exatamente.
// Sem apostas vencedoras a casa fica com o pool inteiro e a lista sai vazia
func (e *Engine) CalculatePayouts(winnerID string, bets []repo.Bet) ([]PayoutEntry, int64) {
	var winners []repo.Bet
	var loserPool, totalWinning int64
	for _, b := range bets {
		if b.HorseID == winnerID {
			winners = append(winners, b)
			totalWinning += b.Lamports
		} else {
			loserPool += b.Lamports
		}
	}

	if len(winners) == 0 || totalWinning == 0 {
		return nil, loserPool
	}

	houseFee := loserPool * e.feeBps / 10000
	distributable := loserPool - houseFee

	// distributable*stake não cabe em int64; a divisão pro-rata é feita em
	// big.Int para o truncamento ficar sempre para baixo, lamport a lamport
	distBig := big.NewInt(distributable)
	totalBig := big.NewInt(totalWinning)

	entries := make([]PayoutEntry, len(winners))
	var allocated int64
	for i, b := range winners {
		var share int64
		if i == len(winners)-1 {
			share = distributable - allocated
		} else {
			s := new(big.Int).Mul(distBig, big.NewInt(b.Lamports))
			share = s.Quo(s, totalBig).Int64()
		}
		allocated += share
		entries[i] = PayoutEntry{BetID: b.ID, Wallet: b.Wallet, Lamports: b.Lamports + share}
	}
	return entries, houseFee
}

// Settle fecha uma corrida exatamente uma vez, mesmo com N callers concorrentes.
// Retorna (nil, nil) quando não há nada a fazer: corrida inexistente ou outro
// processo segurou o lock. Retorna o resultado já gravado quando a corrida já
// está CLOSED (re-leitura idempotente, nunca recalcula)
func (e *Engine) Settle(ctx context.Context, raceID string) (*Result, error) {
	race, err := e.store.GetRace(ctx, raceID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load race: %w", err)
	}

	if race.Status == repo.RaceClosed && race.WinnerHorseID.Valid {
		return e.storedResult(ctx, race)
	}

	switch race.Status {
	case repo.RaceOpen:
		locked, err := e.store.MarkRaceSettling(ctx, raceID)
		if err != nil {
			return nil, fmt.Errorf("lock race: %w", err)
		}
		if !locked {
			// outro caller pegou o lock; quem segurou termina o trabalho
			return nil, nil
		}
	case repo.RaceSettling:
		// retomada de um settle travado: o design idempotente torna isso seguro
	default:
		e.log.Warn("race in unexpected status, skipping settle",
			zap.String("raceId", raceID), zap.String("status", race.Status))
		return nil, nil
	}

	// Só lê cavalos e apostas com o lock em mãos, senão computa sobre visão parcial
	horses, err := e.store.ListHorses(ctx)
	if err != nil {
		return nil, fmt.Errorf("load horses: %w", err)
	}
	if len(horses) == 0 {
		return nil, errors.New("no horses registered")
	}
	bets, err := e.store.ListConfirmedBets(ctx, raceID)
	if err != nil {
		return nil, fmt.Errorf("load bets: %w", err)
	}

	totals := make([]HorseTotal, len(horses))
	horseIDs := make([]string, len(horses))
	names := make(map[string]string, len(horses))
	for i, h := range horses {
		totals[i] = HorseTotal{HorseID: h.ID}
		horseIDs[i] = h.ID
		names[h.ID] = h.Name
	}
	byHorse := make(map[string]int, len(horses))
	for i, h := range horses {
		byHorse[h.ID] = i
	}
	var pool int64
	for _, b := range bets {
		if i, ok := byHorse[b.HorseID]; ok {
			totals[i].Lamports += b.Lamports
		}
		pool += b.Lamports
	}

	winnerID, err := e.SelectWinner(totals)
	if err != nil {
		return nil, err
	}
	positions := e.GeneratePositions(winnerID, horseIDs)
	payouts, houseFee := e.CalculatePayouts(winnerID, bets)

	finalized, err := e.store.FinalizeRace(ctx, raceID, winnerID, positions, houseFee)
	if err != nil {
		return nil, fmt.Errorf("finalize race: %w", err)
	}
	if !finalized {
		// corrida dupla de lock rara: alguém finalizou no meio do caminho.
		// O que está no banco é o autoritativo, nunca o que calculamos aqui
		e.log.Info("race finalized by another process, re-reading stored result",
			zap.String("raceId", raceID))
		stored, err := e.store.GetRace(ctx, raceID)
		if err != nil {
			return nil, fmt.Errorf("re-read finalized race: %w", err)
		}
		return e.storedResult(ctx, stored)
	}

	payoutByBet := make(map[string]int64, len(payouts))
	for _, p := range payouts {
		payoutByBet[p.BetID] = p.Lamports
	}
	for _, b := range bets {
		status := repo.BetLost
		if b.HorseID == winnerID {
			status = repo.BetPaid
		}
		if _, err := e.store.SettleBet(ctx, b.ID, status, payoutByBet[b.ID]); err != nil {
			return nil, fmt.Errorf("settle bet %s: %w", b.ID, err)
		}
	}

	rows := make([]repo.Payout, len(payouts))
	for i, p := range payouts {
		rows[i] = repo.Payout{
			RaceID:   raceID,
			BetID:    p.BetID,
			Wallet:   p.Wallet,
			Lamports: p.Lamports,
			Status:   repo.PayoutPending,
		}
	}
	if err := e.store.InsertPayouts(ctx, rows); err != nil {
		return nil, fmt.Errorf("insert payouts: %w", err)
	}

	e.log.Info("race settled",
		zap.String("raceId", raceID),
		zap.String("winner", winnerID),
		zap.Int64("pool", pool),
		zap.Int64("houseFee", houseFee),
		zap.Int("payouts", len(payouts)),
	)

	return &Result{
		RaceID:        raceID,
		WinnerHorseID: winnerID,
		WinnerName:    names[winnerID],
		Positions:     positions,
		PoolLamports:  pool,
		HouseFee:      houseFee,
		Payouts:       payouts,
		SettledAt:     time.Now().UTC(),
	}, nil
}

// storedResult reconstrói o resultado imutável de uma corrida já fechada
func (e *Engine) storedResult(ctx context.Context, race *repo.Race) (*Result, error) {
	if !race.WinnerHorseID.Valid {
		return nil, fmt.Errorf("race %s closed without winner", race.ID)
	}

	horses, err := e.store.ListHorses(ctx)
	if err != nil {
		return nil, fmt.Errorf("load horses: %w", err)
	}
	winnerName := ""
	for _, h := range horses {
		if h.ID == race.WinnerHorseID.String {
			winnerName = h.Name
			break
		}
	}

	stored, err := e.store.ListPayouts(ctx, race.ID)
	if err != nil {
		return nil, fmt.Errorf("load payouts: %w", err)
	}
	entries := make([]PayoutEntry, 0, len(stored))
	for _, p := range stored {
		entries = append(entries, PayoutEntry{BetID: p.BetID, Wallet: p.Wallet, Lamports: p.Lamports})
	}

	res := &Result{
		RaceID:        race.ID,
		WinnerHorseID: race.WinnerHorseID.String,
		WinnerName:    winnerName,
		Positions:     race.Positions,
		PoolLamports:  race.PoolLamports,
		HouseFee:      race.HouseFeeLamports,
		Payouts:       entries,
	}
	if race.SettledAt.Valid {
		res.SettledAt = race.SettledAt.Time
	}
	return res, nil
}
