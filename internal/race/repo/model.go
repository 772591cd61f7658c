package repo

import (
	"database/sql"
	"time"
)

// Status de corrida: OPEN -> SETTLING -> CLOSED, nenhuma outra transição é válida
const (
	RaceOpen     = "OPEN"
	RaceSettling = "SETTLING"
	RaceClosed   = "CLOSED"
)

// Status de aposta
const (
	BetPending   = "PENDING"
	BetConfirmed = "CONFIRMED"
	BetPaid      = "PAID"
	BetLost      = "LOST"
)

// Status de pagamento
const (
	PayoutPending   = "PENDING"
	PayoutSent      = "SENT"
	PayoutConfirmed = "CONFIRMED"
	PayoutFailed    = "FAILED"
)

// Horse é um cavalo com carteira própria de recebimento.
// SecretKey fica só no servidor, nunca é exposta em respostas
type Horse struct {
	ID        string
	Name      string
	Wallet    string
	SecretKey string
	APIKey    sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Race é uma corrida persistida no Postgres.
// WinnerHorseID e Positions só são gravados uma vez, no finalize
type Race struct {
	ID               string
	Number           int64
	Status           string
	WinnerHorseID    sql.NullString
	Positions        []string
	PoolLamports     int64
	HouseFeeLamports int64
	OpenedAt         time.Time
	BettingDeadline  time.Time
	SettledAt        sql.NullTime
	UpdatedAt        time.Time
}

// Bet é uma aposta em um cavalo de uma corrida.
// TxSignature é única globalmente (uma transferência nunca vira duas apostas)
type Bet struct {
	ID             string
	RaceID         string
	HorseID        string
	Wallet         string
	Lamports       int64
	TxSignature    sql.NullString
	Status         string
	PayoutLamports int64
	CreatedAt      time.Time
}

// Payout é um desembolso devido a uma aposta vencedora
type Payout struct {
	ID          string
	RaceID      string
	BetID       string
	Wallet      string
	Lamports    int64
	Status      string
	TxSignature sql.NullString
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
