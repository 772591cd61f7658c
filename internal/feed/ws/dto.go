package ws

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
// RaceID: obrigatório para subscribe/unsubscribe ("*" assina todas as corridas)
type ClientMsg struct {
	Type   string `json:"type"`
	RaceID string `json:"raceId"`
}

// RaceUpdate representa uma mudança de estado enviada aos clientes WebSocket
type RaceUpdate struct {
	RaceID  string      `json:"raceId"`
	Kind    string      `json:"kind"` // race_opened | bet_recorded | race_settled
	Payload interface{} `json:"payload"`
}
