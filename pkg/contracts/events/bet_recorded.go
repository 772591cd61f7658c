package events

import "time"

// Evento publicado no tópico "bet_recorded" para cada aposta confirmada,
// tanto pela API quanto pelo scan de depósitos on-chain.
type BetRecorded struct {
	BetID       string    `json:"bet_id"`
	RaceID      string    `json:"race_id"`
	HorseID     string    `json:"horse_id"`
	Wallet      string    `json:"wallet"`
	Lamports    int64     `json:"lamports"`
	TxSignature string    `json:"tx_signature,omitempty"`
	Origin      string    `json:"origin"` // "api" | "deposit-scan"
	Ts          time.Time `json:"ts"`
}
