package chain

import "context"

// SignatureInfo é uma entrada do histórico de transações de um endereço
type SignatureInfo struct {
	Signature string
	BlockTime int64 // unix seconds; 0 quando o nó não informa
	Failed    bool
}

// TransactionDetail é o detalhe de uma transação confirmada
// Pre/PostBalances são paralelos a AccountKeys (lamports por conta)
type TransactionDetail struct {
	Signature    string
	BlockTime    int64
	AccountKeys  []string
	PreBalances  []int64
	PostBalances []int64
	Failed       bool
}

// Transfer é uma transferência de lamports para um destinatário
type Transfer struct {
	Recipient string
	Lamports  int64
}

// Client é a interface consumida pelo motor de corridas para falar com a chain
// Implementada pelo RPCClient; os testes usam fakes
type Client interface {
	// RecentSignatures retorna as assinaturas mais recentes de um endereço (mais nova primeiro)
	RecentSignatures(ctx context.Context, address string, limit int) ([]SignatureInfo, error)

	// TransactionDetail busca o detalhe completo de uma transação pela assinatura
	TransactionDetail(ctx context.Context, signature string) (*TransactionDetail, error)

	// Balance retorna o saldo em lamports de um endereço
	Balance(ctx context.Context, address string) (int64, error)

	// LatestBlockhash retorna um blockhash recente; expira rápido, buscar imediatamente antes de montar a transação
	LatestBlockhash(ctx context.Context) (string, error)

	// SendTransferBatch monta, assina e envia uma transação com todas as
	// transferências do batch mais a instrução de priority fee, e espera confirmação
	SendTransferBatch(ctx context.Context, signer *Wallet, blockhash string, transfers []Transfer, priorityFeeMicro uint64) (string, error)
}

// Custo estimado de uma transação de desembolso (1 assinatura)
const FeePerTransaction int64 = 5000
