package dto

// PlaceBetRequest é a aposta explícita via API: o cliente já fez a
// transferência on-chain e manda a assinatura para verificação
type PlaceBetRequest struct {
	RaceID      string `json:"raceId"`
	HorseID     string `json:"horseId"`
	Wallet      string `json:"wallet"` // carteira do apostador (remetente da transferência)
	TxSignature string `json:"txSignature"`
}

// InitWalletsRequest regenera as carteiras de recebimento dos cavalos
type InitWalletsRequest struct {
	Secret           string `json:"secret"`
	OnlyPlaceholders bool   `json:"onlyPlaceholders"` // só cavalos ainda sem carteira real
}
