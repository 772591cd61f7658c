package events

import "time"

// Uma entrada da lista de pagamentos calculada no settle.
type PayoutEntry struct {
	BetID    string `json:"bet_id"`
	Wallet   string `json:"wallet"`
	Lamports int64  `json:"lamports"`
}

// Evento publicado no tópico "race_settled" após a corrida ser fechada.
// Winner e Positions são imutáveis depois de gravados.
type RaceSettled struct {
	RaceID        string        `json:"race_id"`
	WinnerHorseID string        `json:"winner_horse_id"`
	WinnerName    string        `json:"winner_name"`
	Positions     []string      `json:"positions"` // horse ids, vencedor primeiro
	PoolLamports  int64         `json:"pool_lamports"`
	HouseFee      int64         `json:"house_fee_lamports"`
	Payouts       []PayoutEntry `json:"payouts"`
	SettledAt     time.Time     `json:"settled_at"`
}
