package dto

import "time"

type PlaceBetResponse struct {
	BetID    string `json:"betId"`
	Status   string `json:"status"` // CONFIRMED
	Lamports int64  `json:"lamports"`
}

// TickResponse é o resumo estruturado do trigger do scheduler.
// Ok=false com contadores best-effort distingue "nada aconteceu" de "deu erro"
type TickResponse struct {
	Ok               bool   `json:"ok"`
	SettledRaces     int    `json:"settledRaces"`
	NewRaceID        string `json:"newRaceId,omitempty"`
	DepositsRecorded int    `json:"depositsRecorded"`
	Errors           int    `json:"errors"`
	ElapsedMs        int64  `json:"elapsedMs"`
	Message          string `json:"message,omitempty"`
}

type HorseView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Wallet       string `json:"wallet"`
	PoolLamports int64  `json:"poolLamports"`
}

type RaceView struct {
	ID              string      `json:"id"`
	Number          int64       `json:"number"`
	Status          string      `json:"status"`
	PoolLamports    int64       `json:"poolLamports"`
	OpenedAt        time.Time   `json:"openedAt"`
	BettingDeadline time.Time   `json:"bettingDeadline"`
	Horses          []HorseView `json:"horses"`
	WinnerHorseID   string      `json:"winnerHorseId,omitempty"`
	Positions       []string    `json:"positions,omitempty"`
	SettledAt       *time.Time  `json:"settledAt,omitempty"`
}

type InitWalletResult struct {
	HorseID string `json:"horseId"`
	Name    string `json:"name"`
	Wallet  string `json:"wallet,omitempty"`
	Ok      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

type InitWalletsResponse struct {
	Results []InitWalletResult `json:"results"`
}
