package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Postgres implementa a persistência de cavalos, corridas, apostas e pagamentos
type Postgres struct{ db *sql.DB }

// NewPostgres retorna uma instância do repositório
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicateSignature = errors.New("tx signature already recorded")
)

const raceColumns = `id, race_number, status, winner_horse_id, positions, pool_lamports, house_fee_lamports, opened_at, betting_deadline, settled_at, updated_at`

func scanRace(row interface{ Scan(...any) error }) (*Race, error) {
	var r Race
	var positions pq.StringArray
	err := row.Scan(&r.ID, &r.Number, &r.Status, &r.WinnerHorseID, &positions,
		&r.PoolLamports, &r.HouseFeeLamports, &r.OpenedAt, &r.BettingDeadline, &r.SettledAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Positions = []string(positions)
	return &r, nil
}

// GetRace busca uma corrida pelo id
func (p *Postgres) GetRace(ctx context.Context, raceID string) (*Race, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+raceColumns+` FROM races WHERE id=$1`, raceID)
	return scanRace(row)
}

// ListRacesByStatus retorna as corridas nos status informados, mais antiga primeiro
func (p *Postgres) ListRacesByStatus(ctx context.Context, statuses ...string) ([]Race, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+raceColumns+` FROM races WHERE status = ANY($1) ORDER BY opened_at ASC`,
		pq.Array(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Race
	for rows.Next() {
		r, err := scanRace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// LatestRace retorna a corrida aberta mais recentemente (para o guard de espaçamento)
func (p *Postgres) LatestRace(ctx context.Context) (*Race, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+raceColumns+` FROM races ORDER BY opened_at DESC LIMIT 1`)
	return scanRace(row)
}

// CreateRace abre uma nova corrida com status OPEN e número sequencial
func (p *Postgres) CreateRace(ctx context.Context, openedAt, deadline time.Time) (*Race, error) {
	id := uuid.NewString()
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO races (id, race_number, status, positions, pool_lamports, house_fee_lamports, opened_at, betting_deadline, updated_at)
		VALUES ($1, (SELECT COALESCE(MAX(race_number),0)+1 FROM races), 'OPEN', '{}', 0, 0, $2, $3, NOW())
		RETURNING `+raceColumns, id, openedAt, deadline)
	return scanRace(row)
}

// MarkRaceSettling tenta o lock OPEN -> SETTLING.
// Retorna false quando zero linhas afetadas: outro caller chegou antes
func (p *Postgres) MarkRaceSettling(ctx context.Context, raceID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE races SET status='SETTLING', updated_at=NOW() WHERE id=$1 AND status='OPEN'`, raceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FinalizeRace tenta a transição SETTLING -> CLOSED gravando vencedor, ranking e fee.
// Retorna false quando outro processo já finalizou (os valores gravados são os autoritativos)
func (p *Postgres) FinalizeRace(ctx context.Context, raceID, winnerID string, positions []string, houseFee int64) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE races
		SET status='CLOSED', winner_horse_id=$2, positions=$3, house_fee_lamports=$4, settled_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status='SETTLING'`,
		raceID, winnerID, pq.Array(positions), houseFee)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListHorses retorna todos os cavalos cadastrados
func (p *Postgres) ListHorses(ctx context.Context) ([]Horse, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, name, wallet, secret_key, api_key, created_at, updated_at FROM horses ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Horse
	for rows.Next() {
		var h Horse
		if err := rows.Scan(&h.ID, &h.Name, &h.Wallet, &h.SecretKey, &h.APIKey, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpdateHorseWallet troca a carteira de recebimento de um cavalo in place.
// Invariante: um cavalo tem exatamente uma carteira ativa por vez
func (p *Postgres) UpdateHorseWallet(ctx context.Context, horseID, wallet, secretKey string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE horses SET wallet=$2, secret_key=$3, updated_at=NOW() WHERE id=$1`,
		horseID, wallet, secretKey)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertBet grava uma aposta e soma o valor no pool da corrida, na mesma transação.
// Assinatura duplicada (unique index em tx_signature) vira ErrDuplicateSignature
func (p *Postgres) InsertBet(ctx context.Context, b *Bet) (string, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO bets (id, race_id, horse_id, wallet, lamports, tx_signature, status, payout_lamports, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,NOW())`,
		id, b.RaceID, b.HorseID, b.Wallet, b.Lamports, b.TxSignature, b.Status)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return "", ErrDuplicateSignature
		}
		return "", err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE races SET pool_lamports = pool_lamports + $1, updated_at=NOW() WHERE id=$2`,
		b.Lamports, b.RaceID); err != nil {
		return "", err
	}

	if err = tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// HasBetWithSignature diz se uma transferência on-chain já virou aposta
func (p *Postgres) HasBetWithSignature(ctx context.Context, signature string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx, `SELECT 1 FROM bets WHERE tx_signature=$1`, signature).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListConfirmedBets retorna as apostas CONFIRMED de uma corrida
func (p *Postgres) ListConfirmedBets(ctx context.Context, raceID string) ([]Bet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, race_id, horse_id, wallet, lamports, tx_signature, status, payout_lamports, created_at
		FROM bets WHERE race_id=$1 AND status='CONFIRMED' ORDER BY created_at ASC`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bet
	for rows.Next() {
		var b Bet
		if err := rows.Scan(&b.ID, &b.RaceID, &b.HorseID, &b.Wallet, &b.Lamports, &b.TxSignature, &b.Status, &b.PayoutLamports, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SettleBet move uma aposta de CONFIRMED para PAID ou LOST gravando o payout.
// Condicional no status atual: re-runs parciais não sobrescrevem
func (p *Postgres) SettleBet(ctx context.Context, betID, newStatus string, payoutLamports int64) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE bets SET status=$2, payout_lamports=$3 WHERE id=$1 AND status='CONFIRMED'`,
		betID, newStatus, payoutLamports)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// InsertPayouts grava os pagamentos PENDING de uma corrida em uma transação só
func (p *Postgres) InsertPayouts(ctx context.Context, payouts []Payout) error {
	if len(payouts) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, po := range payouts {
		id := po.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO payouts (id, race_id, bet_id, wallet, lamports, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,'PENDING',NOW(),NOW())
			ON CONFLICT (bet_id) DO NOTHING`,
			id, po.RaceID, po.BetID, po.Wallet, po.Lamports); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListPendingPayoutRaces retorna os ids de corridas CLOSED com pagamentos PENDING
func (p *Postgres) ListPendingPayoutRaces(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT po.race_id
		FROM payouts po JOIN races r ON r.id = po.race_id
		WHERE po.status='PENDING' AND r.status='CLOSED'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListPayouts retorna todos os pagamentos de uma corrida (qualquer status)
func (p *Postgres) ListPayouts(ctx context.Context, raceID string) ([]Payout, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, race_id, bet_id, wallet, lamports, status, tx_signature, created_at, updated_at
		FROM payouts WHERE race_id=$1 ORDER BY created_at ASC`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayouts(rows)
}

// ListPendingPayouts retorna os pagamentos PENDING de uma corrida, mais antigo primeiro
func (p *Postgres) ListPendingPayouts(ctx context.Context, raceID string) ([]Payout, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, race_id, bet_id, wallet, lamports, status, tx_signature, created_at, updated_at
		FROM payouts WHERE race_id=$1 AND status='PENDING' ORDER BY created_at ASC`, raceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPayouts(rows)
}

func scanPayouts(rows *sql.Rows) ([]Payout, error) {
	var out []Payout
	for rows.Next() {
		var po Payout
		if err := rows.Scan(&po.ID, &po.RaceID, &po.BetID, &po.Wallet, &po.Lamports, &po.Status, &po.TxSignature, &po.CreatedAt, &po.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

// MarkPayout move um pagamento de PENDING para SENT ou FAILED gravando a assinatura
func (p *Postgres) MarkPayout(ctx context.Context, payoutID, newStatus, txSignature string) (bool, error) {
	var sig sql.NullString
	if txSignature != "" {
		sig = sql.NullString{String: txSignature, Valid: true}
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE payouts SET status=$2, tx_signature=$3, updated_at=NOW() WHERE id=$1 AND status='PENDING'`,
		payoutID, newStatus, sig)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
