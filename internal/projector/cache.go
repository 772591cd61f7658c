package projector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RaceState é a projeção da corrida corrente mantida no Redis para o read-side
// (feed service e gateway); nunca é fonte de verdade, o Postgres é
type RaceState struct {
	RaceID          string           `json:"raceId"`
	Number          int64            `json:"number"`
	Status          string           `json:"status"`
	PoolLamports    int64            `json:"poolLamports"`
	HorsePools      map[string]int64 `json:"horsePools"`
	OpenedAt        time.Time        `json:"openedAt"`
	BettingDeadline time.Time        `json:"bettingDeadline"`
	WinnerHorseID   string           `json:"winnerHorseId,omitempty"`
	Positions       []string         `json:"positions,omitempty"`
}

// RaceCache encapsula a projeção corrente no Redis
type RaceCache struct {
	Client *redis.Client
	TTL    time.Duration
}

// NewRaceCache cria o cache com TTL configurável
func NewRaceCache(c *redis.Client, ttl time.Duration) *RaceCache {
	return &RaceCache{Client: c, TTL: ttl}
}

const currentKey = "race:current"

// GetCurrent lê a projeção corrente; (nil, nil) quando não existe
func (r *RaceCache) GetCurrent(ctx context.Context) (*RaceState, error) {
	b, err := r.Client.Get(ctx, currentKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st RaceState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetCurrent grava a projeção corrente com TTL
func (r *RaceCache) SetCurrent(ctx context.Context, st *RaceState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, currentKey, b, r.TTL).Err()
}
