package events

import "time"

// Evento publicado no tópico "payout_result" pelo payout-worker após cada
// tentativa de desembolso de uma corrida.
type PayoutResult struct {
	RaceID       string    `json:"race_id"`
	Sent         int       `json:"sent"`
	Failed       int       `json:"failed"`
	TxSignatures []string  `json:"tx_signatures"`
	Ts           time.Time `json:"ts"`
}
