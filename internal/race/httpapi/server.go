package httpapi

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/horse-race-platform-poc/internal/chain"
	"github.com/radieske/horse-race-platform-poc/internal/race/dto"
	"github.com/radieske/horse-race-platform-poc/internal/race/repo"
	"github.com/radieske/horse-race-platform-poc/internal/race/scheduler"
	"github.com/radieske/horse-race-platform-poc/pkg/contracts/events"
)

// Store é o recorte de persistência dos handlers
type Store interface {
	GetRace(ctx context.Context, raceID string) (*repo.Race, error)
	ListRacesByStatus(ctx context.Context, statuses ...string) ([]repo.Race, error)
	ListHorses(ctx context.Context) ([]repo.Horse, error)
	ListConfirmedBets(ctx context.Context, raceID string) ([]repo.Bet, error)
	InsertBet(ctx context.Context, b *repo.Bet) (string, error)
	UpdateHorseWallet(ctx context.Context, horseID, wallet, secretKey string) error
}

// Ticker roda uma invocação do scheduler
type Ticker interface {
	RunTick(ctx context.Context) (scheduler.TickSummary, error)
}

// Server expõe o trigger do scheduler, a aposta explícita, as leituras de
// corrida e a (re)inicialização administrativa de carteiras
type Server struct {
	log   *zap.Logger
	store Store
	chain chain.Client
	tick  Ticker
	publ  interface {
		PublishBetRecorded(context.Context, events.BetRecorded) error
	}

	cronSecret  string
	adminSecret string
}

func NewServer(log *zap.Logger, store Store, c chain.Client, tick Ticker, p interface {
	PublishBetRecorded(context.Context, events.BetRecorded) error
}, cronSecret, adminSecret string) *Server {
	return &Server{log: log, store: store, chain: c, tick: tick, publ: p, cronSecret: cronSecret, adminSecret: adminSecret}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/scheduler/tick", s.schedulerTick)     // POST
	mux.HandleFunc("/bets", s.placeBet)                    // POST
	mux.HandleFunc("/races/current", s.getCurrentRace)     // GET
	mux.HandleFunc("/races/", s.getRace)                   // GET /races/{id}
	mux.HandleFunc("/admin/wallets/init", s.adminInitWallets) // POST
	return mux
}

// schedulerTick é o endpoint chamado pelo trigger externo em cadência fixa.
// Idempotente por chamada; sempre responde um resumo JSON, mesmo com falha parcial
func (s *Server) schedulerTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cronSecret != "" {
		got := r.Header.Get("X-Cron-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cronSecret)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	start := time.Now()
	summary, err := s.tick.RunTick(r.Context())
	resp := dto.TickResponse{
		Ok:               err == nil,
		SettledRaces:     summary.SettledRaces,
		NewRaceID:        summary.NewRaceID,
		DepositsRecorded: summary.DepositsRecorded,
		Errors:           summary.Errors,
		ElapsedMs:        time.Since(start).Milliseconds(),
	}
	if err != nil {
		s.log.Error("scheduler tick failed", zap.Error(err))
		resp.Message = err.Error()
		writeJSONStatus(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, resp)
}

// placeBet registra uma aposta cuja transferência o cliente alega já ter feito.
// A transação é verificada on-chain antes de qualquer gravação: nada de
// registro parcial em caso de mismatch
func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.RaceID == "" || req.HorseID == "" || req.Wallet == "" || req.TxSignature == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	race, err := s.store.GetRace(r.Context(), req.RaceID)
	if errors.Is(err, repo.ErrNotFound) {
		http.Error(w, "race not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if race.Status != repo.RaceOpen {
		http.Error(w, "race is not open for betting", http.StatusConflict)
		return
	}

	horse, err := s.findHorse(r.Context(), req.HorseID)
	if err != nil {
		http.Error(w, "horse not found", http.StatusNotFound)
		return
	}

	// Verificação on-chain com retry limitado: a transação pode ainda não ter
	// propagado até o nó consultado
	detail, err := s.fetchTransaction(r.Context(), req.TxSignature)
	if err != nil {
		http.Error(w, "transaction not found on chain", http.StatusUnprocessableEntity)
		return
	}
	if detail.Failed {
		http.Error(w, "transaction failed on chain", http.StatusUnprocessableEntity)
		return
	}

	lamports, ok := receivedAt(detail, horse.Wallet)
	if !ok || lamports <= 0 {
		http.Error(w, "transaction does not pay the horse wallet", http.StatusUnprocessableEntity)
		return
	}
	if len(detail.AccountKeys) == 0 || detail.AccountKeys[0] != req.Wallet {
		http.Error(w, "transaction sender does not match wallet", http.StatusUnprocessableEntity)
		return
	}
	ts := time.Unix(detail.BlockTime, 0)
	if detail.BlockTime == 0 || ts.After(race.BettingDeadline) {
		http.Error(w, "transaction is past the betting deadline", http.StatusUnprocessableEntity)
		return
	}

	betID, err := s.store.InsertBet(r.Context(), &repo.Bet{
		RaceID:      race.ID,
		HorseID:     horse.ID,
		Wallet:      req.Wallet,
		Lamports:    lamports,
		TxSignature: sql.NullString{String: req.TxSignature, Valid: true},
		Status:      repo.BetConfirmed,
	})
	if errors.Is(err, repo.ErrDuplicateSignature) {
		http.Error(w, "transaction already used by another bet", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	_ = s.publ.PublishBetRecorded(r.Context(), events.BetRecorded{
		BetID:       betID,
		RaceID:      race.ID,
		HorseID:     horse.ID,
		Wallet:      req.Wallet,
		Lamports:    lamports,
		TxSignature: req.TxSignature,
		Origin:      "api",
	})

	writeJSON(w, dto.PlaceBetResponse{BetID: betID, Status: repo.BetConfirmed, Lamports: lamports})
}

// getCurrentRace retorna a corrida ativa com os totais por cavalo
func (s *Server) getCurrentRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	races, err := s.store.ListRacesByStatus(r.Context(), repo.RaceOpen, repo.RaceSettling)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(races) == 0 {
		http.Error(w, "no active race", http.StatusNotFound)
		return
	}
	view, err := s.raceView(r.Context(), &races[0])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, view)
}

// getRace retorna o detalhe de uma corrida; fechada inclui vencedor e ranking
func (s *Server) getRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Path[len("/races/"):]
	if id == "" || id == "current" {
		http.Error(w, "raceId required", http.StatusBadRequest)
		return
	}
	race, err := s.store.GetRace(r.Context(), id)
	if errors.Is(err, repo.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	view, err := s.raceView(r.Context(), race)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, view)
}

// adminInitWallets regenera carteira+chave de cada cavalo, reportando
// sucesso/falha individual. Com onlyPlaceholders só troca as ainda vazias
func (s *Server) adminInitWallets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req dto.InitWalletsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if s.adminSecret == "" || subtle.ConstantTimeCompare([]byte(req.Secret), []byte(s.adminSecret)) != 1 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	horses, err := s.store.ListHorses(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var resp dto.InitWalletsResponse
	for _, h := range horses {
		result := dto.InitWalletResult{HorseID: h.ID, Name: h.Name}
		if req.OnlyPlaceholders && h.Wallet != "" && h.SecretKey != "" {
			result.Ok = true
			result.Wallet = h.Wallet
			resp.Results = append(resp.Results, result)
			continue
		}

		wallet, err := chain.NewWallet()
		if err == nil {
			err = s.store.UpdateHorseWallet(r.Context(), h.ID, wallet.Address(), wallet.Secret())
		}
		if err != nil {
			result.Error = err.Error()
			s.log.Error("wallet init failed", zap.String("horseId", h.ID), zap.Error(err))
		} else {
			result.Ok = true
			result.Wallet = wallet.Address()
			s.log.Info("horse wallet rotated", zap.String("horseId", h.ID), zap.String("wallet", wallet.Address()))
		}
		resp.Results = append(resp.Results, result)
	}
	writeJSON(w, resp)
}

// fetchTransaction busca a transação com até 3 tentativas e backoff linear
func (s *Server) fetchTransaction(ctx context.Context, signature string) (*chain.TransactionDetail, error) {
	var detail *chain.TransactionDetail
	var err error
	for i := 0; i < 3; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(500*i) * time.Millisecond):
			}
		}
		if detail, err = s.chain.TransactionDetail(ctx, signature); err == nil {
			return detail, nil
		}
	}
	return nil, err
}

func (s *Server) findHorse(ctx context.Context, horseID string) (*repo.Horse, error) {
	horses, err := s.store.ListHorses(ctx)
	if err != nil {
		return nil, err
	}
	for i := range horses {
		if horses[i].ID == horseID {
			return &horses[i], nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *Server) raceView(ctx context.Context, race *repo.Race) (*dto.RaceView, error) {
	horses, err := s.store.ListHorses(ctx)
	if err != nil {
		return nil, err
	}
	bets, err := s.store.ListConfirmedBets(ctx, race.ID)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(horses))
	for _, b := range bets {
		totals[b.HorseID] += b.Lamports
	}

	view := &dto.RaceView{
		ID:              race.ID,
		Number:          race.Number,
		Status:          race.Status,
		PoolLamports:    race.PoolLamports,
		OpenedAt:        race.OpenedAt,
		BettingDeadline: race.BettingDeadline,
		Positions:       race.Positions,
	}
	for _, h := range horses {
		view.Horses = append(view.Horses, dto.HorseView{
			ID:           h.ID,
			Name:         h.Name,
			Wallet:       h.Wallet,
			PoolLamports: totals[h.ID],
		})
	}
	if race.WinnerHorseID.Valid {
		view.WinnerHorseID = race.WinnerHorseID.String
	}
	if race.SettledAt.Valid {
		t := race.SettledAt.Time
		view.SettledAt = &t
	}
	return view, nil
}

// receivedAt calcula o delta de saldo da carteira dentro da transação
func receivedAt(detail *chain.TransactionDetail, wallet string) (int64, bool) {
	for i, key := range detail.AccountKeys {
		if key != wallet {
			continue
		}
		if i >= len(detail.PreBalances) || i >= len(detail.PostBalances) {
			return 0, false
		}
		return detail.PostBalances[i] - detail.PreBalances[i], true
	}
	return 0, false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
