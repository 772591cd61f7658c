package topics

const (
	// Corridas
	RaceOpened  = "race_opened"
	RaceSettled = "race_settled"

	// Apostas
	BetRecorded = "bet_recorded"

	// Pagamentos
	PayoutResult = "payout_result"
)
