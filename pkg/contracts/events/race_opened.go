package events

import "time"

// Evento publicado no tópico "race_opened" quando o scheduler abre uma nova corrida.
type RaceOpened struct {
	RaceID          string    `json:"race_id"`
	RaceNumber      int64     `json:"race_number"`
	OpenedAt        time.Time `json:"opened_at"`
	BettingDeadline time.Time `json:"betting_deadline"`
}
