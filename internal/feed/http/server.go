package http

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/radieske/horse-race-platform-poc/internal/feed/ws"
	"github.com/radieske/horse-race-platform-poc/internal/projector"
	"github.com/radieske/horse-race-platform-poc/internal/race/repo"
)

// Store é o fallback de leitura quando o cache está frio
type Store interface {
	ListRacesByStatus(ctx context.Context, statuses ...string) ([]repo.Race, error)
	ListConfirmedBets(ctx context.Context, raceID string) ([]repo.Bet, error)
}

// Server é o read-side público: corrida corrente via cache Redis (com
// fallback no Postgres) e o feed WebSocket de mudanças
type Server struct {
	log   *zap.Logger
	cache *projector.RaceCache
	store Store
	hub   *ws.Hub
}

func NewServer(log *zap.Logger, cache *projector.RaceCache, store Store, hub *ws.Hub) *Server {
	return &Server{log: log, cache: cache, store: store, hub: hub}
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/races/current", s.getCurrentRace) // GET
	mux.HandleFunc("/ws", s.hub.HandleWS)
	return mux
}

// getCurrentRace responde a projeção corrente; cache-first, banco como fallback
func (s *Server) getCurrentRace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, err := s.cache.GetCurrent(r.Context())
	if err != nil {
		s.log.Warn("race cache read failed", zap.Error(err))
	}
	if st == nil {
		st, err = s.fromStore(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	if st == nil {
		http.Error(w, "no active race", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// fromStore remonta a projeção a partir do Postgres (fonte de verdade)
func (s *Server) fromStore(ctx context.Context) (*projector.RaceState, error) {
	races, err := s.store.ListRacesByStatus(ctx, repo.RaceOpen, repo.RaceSettling)
	if err != nil {
		return nil, err
	}
	if len(races) == 0 {
		return nil, nil
	}
	race := races[0]

	bets, err := s.store.ListConfirmedBets(ctx, race.ID)
	if err != nil {
		return nil, err
	}
	pools := map[string]int64{}
	for _, b := range bets {
		pools[b.HorseID] += b.Lamports
	}

	st := &projector.RaceState{
		RaceID:          race.ID,
		Number:          race.Number,
		Status:          race.Status,
		PoolLamports:    race.PoolLamports,
		HorsePools:      pools,
		OpenedAt:        race.OpenedAt,
		BettingDeadline: race.BettingDeadline,
		Positions:       race.Positions,
	}
	if race.WinnerHorseID.Valid {
		st.WinnerHorseID = race.WinnerHorseID.String
	}
	return st, nil
}
