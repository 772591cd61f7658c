package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/horse-race-platform-poc/internal/chain"
)

// Item é um pagamento pendente a desembolsar
type Item struct {
	ID       string
	Wallet   string
	Lamports int64
}

// Callback recebe o desfecho de cada pagamento: sucesso com a assinatura da
// transação, ou falha depois de esgotadas as tentativas do batch
type Callback func(item Item, ok bool, txSignature string)

// Summary agrega o resultado de uma rodada de desembolso
type Summary struct {
	Sent         int
	Failed       int
	TxSignatures []string
}

// ErrInsufficientBalance indica que a carteira pagadora não cobre o total;
// nesse caso nenhuma transferência é tentada e todos os pagamentos falham
var ErrInsufficientBalance = errors.New("insufficient balance for disbursement")

// Pipeline envia pagamentos em batches de tamanho fixo, estritamente
// sequenciais: duas submissões concorrentes da mesma carteira pagadora
// conflitam na ordenação das transações. Isso é requisito, não otimização
type Pipeline struct {
	log   *zap.Logger
	chain chain.Client

	BatchSize        int           // teto de transfers por transação
	MaxRetries       int           // tentativas por batch
	RetryBaseDelay   time.Duration // backoff exponencial parte daqui
	BatchDelay       time.Duration // pausa entre batches ok (evita rate-limit do nó)
	PriorityFeeMicro uint64
}

// NewPipeline cria o pipeline com os parâmetros de batch/retry
func NewPipeline(log *zap.Logger, c chain.Client, batchSize, maxRetries int, batchDelay time.Duration, priorityFeeMicro uint64) *Pipeline {
	return &Pipeline{
		log:              log,
		chain:            c,
		BatchSize:        batchSize,
		MaxRetries:       maxRetries,
		RetryBaseDelay:   500 * time.Millisecond,
		BatchDelay:       batchDelay,
		PriorityFeeMicro: priorityFeeMicro,
	}
}

// Disburse paga os itens a partir da carteira signer.
// Contrato: melhor esforço, pelo menos uma tentativa por batch, desfecho
// explícito por pagamento via callback. Batch que falha não bloqueia os
// seguintes; pagamento falho fica para remediação do operador
func (p *Pipeline) Disburse(ctx context.Context, signer *chain.Wallet, items []Item, done Callback) (Summary, error) {
	var summary Summary
	if len(items) == 0 {
		return summary, nil
	}

	batches := splitBatches(items, p.BatchSize)

	// Pre-check de saldo: com saldo sabidamente insuficiente não existe
	// desembolso parcial, tudo falha de uma vez
	var total int64
	for _, it := range items {
		total += it.Lamports
	}
	required := total + chain.FeePerTransaction*int64(len(batches))

	balance, err := p.chain.Balance(ctx, signer.Address())
	if err != nil {
		return summary, fmt.Errorf("paying wallet balance: %w", err)
	}
	if balance < required {
		p.log.Error("paying wallet cannot cover payouts",
			zap.Int64("balance", balance), zap.Int64("required", required))
		for _, it := range items {
			done(it, false, "")
			summary.Failed++
		}
		return summary, ErrInsufficientBalance
	}

	for bi, batch := range batches {
		sig, err := p.sendBatch(ctx, signer, batch)
		if err != nil {
			p.log.Error("batch failed after retries",
				zap.Int("batch", bi), zap.Int("payouts", len(batch)), zap.Error(err))
			for _, it := range batch {
				done(it, false, "")
				summary.Failed++
			}
			continue
		}

		summary.TxSignatures = append(summary.TxSignatures, sig)
		for _, it := range batch {
			done(it, true, sig)
			summary.Sent++
		}
		p.log.Info("batch disbursed",
			zap.Int("batch", bi), zap.Int("payouts", len(batch)), zap.String("signature", sig))

		if bi < len(batches)-1 {
			if err := wait(ctx, p.BatchDelay); err != nil {
				return summary, err
			}
		}
	}
	return summary, nil
}

// sendBatch tenta um batch até MaxRetries vezes com backoff exponencial.
// Cada tentativa busca um blockhash novo: o anterior pode ter expirado
func (p *Pipeline) sendBatch(ctx context.Context, signer *chain.Wallet, batch []Item) (string, error) {
	transfers := make([]chain.Transfer, len(batch))
	for i, it := range batch {
		transfers[i] = chain.Transfer{Recipient: it.Wallet, Lamports: it.Lamports}
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := p.RetryBaseDelay << (attempt - 1)
			if err := wait(ctx, backoff); err != nil {
				return "", err
			}
		}

		blockhash, err := p.chain.LatestBlockhash(ctx)
		if err != nil {
			lastErr = fmt.Errorf("blockhash: %w", err)
			continue
		}

		sig, err := p.chain.SendTransferBatch(ctx, signer, blockhash, transfers, p.PriorityFeeMicro)
		if err != nil {
			lastErr = err
			p.log.Warn("batch attempt failed",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		return sig, nil
	}
	return "", lastErr
}

func splitBatches(items []Item, size int) [][]Item {
	if size <= 0 {
		size = 1
	}
	var out [][]Item
	for len(items) > 0 {
		n := size
		if len(items) < n {
			n = len(items)
		}
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
