package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RPCClient fala JSON-RPC com um nó Solana (devnet/mainnet)
// Timeouts de transporte ficam no http.Client
type RPCClient struct {
	url  string
	http *http.Client
}

// NewRPCClient cria um client apontando para a URL do nó
func NewRPCClient(url string) *RPCClient {
	return &RPCClient{
		url:  url,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Client = (*RPCClient)(nil)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call executa uma chamada JSON-RPC e decodifica o result em out
func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("rpc %s: http %s", method, resp.Status)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("rpc %s: decode: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc %s: %d %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("rpc %s: result: %w", method, err)
		}
	}
	return nil
}

// RecentSignatures retorna o histórico recente de um endereço, mais novo primeiro
func (c *RPCClient) RecentSignatures(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	var raw []struct {
		Signature string          `json:"signature"`
		BlockTime *int64          `json:"blockTime"`
		Err       json.RawMessage `json:"err"`
	}
	params := []any{address, map[string]any{"limit": limit, "commitment": "confirmed"}}
	if err := c.call(ctx, "getSignaturesForAddress", params, &raw); err != nil {
		return nil, err
	}

	out := make([]SignatureInfo, 0, len(raw))
	for _, r := range raw {
		info := SignatureInfo{Signature: r.Signature, Failed: string(r.Err) != "null" && len(r.Err) > 0}
		if r.BlockTime != nil {
			info.BlockTime = *r.BlockTime
		}
		out = append(out, info)
	}
	return out, nil
}

// TransactionDetail busca a transação com saldos pre/post por conta
func (c *RPCClient) TransactionDetail(ctx context.Context, signature string) (*TransactionDetail, error) {
	var raw *struct {
		BlockTime *int64 `json:"blockTime"`
		Meta      *struct {
			PreBalances  []int64         `json:"preBalances"`
			PostBalances []int64         `json:"postBalances"`
			Err          json.RawMessage `json:"err"`
		} `json:"meta"`
		Transaction struct {
			Message struct {
				AccountKeys []string `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
	}
	params := []any{signature, map[string]any{
		"encoding":                       "json",
		"commitment":                     "confirmed",
		"maxSupportedTransactionVersion": 0,
	}}
	if err := c.call(ctx, "getTransaction", params, &raw); err != nil {
		return nil, err
	}
	if raw == nil || raw.Meta == nil {
		return nil, ErrTransactionNotFound
	}

	detail := &TransactionDetail{
		Signature:    signature,
		AccountKeys:  raw.Transaction.Message.AccountKeys,
		PreBalances:  raw.Meta.PreBalances,
		PostBalances: raw.Meta.PostBalances,
		Failed:       string(raw.Meta.Err) != "null" && len(raw.Meta.Err) > 0,
	}
	if raw.BlockTime != nil {
		detail.BlockTime = *raw.BlockTime
	}
	return detail, nil
}

// ErrTransactionNotFound indica que o nó ainda não enxerga a transação
// (pode ser lag de propagação; o caller decide se tenta de novo)
var ErrTransactionNotFound = errors.New("transaction not found")

// Balance retorna o saldo em lamports
func (c *RPCClient) Balance(ctx context.Context, address string) (int64, error) {
	var res struct {
		Value int64 `json:"value"`
	}
	params := []any{address, map[string]any{"commitment": "confirmed"}}
	if err := c.call(ctx, "getBalance", params, &res); err != nil {
		return 0, err
	}
	return res.Value, nil
}

// LatestBlockhash retorna um blockhash recente para montar transações
func (c *RPCClient) LatestBlockhash(ctx context.Context) (string, error) {
	var res struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	params := []any{map[string]any{"commitment": "finalized"}}
	if err := c.call(ctx, "getLatestBlockhash", params, &res); err != nil {
		return "", err
	}
	return res.Value.Blockhash, nil
}

// SendTransferBatch monta, assina, envia e espera a confirmação da transação
func (c *RPCClient) SendTransferBatch(ctx context.Context, signer *Wallet, blockhash string, transfers []Transfer, priorityFeeMicro uint64) (string, error) {
	tx, err := buildTransferTransaction(signer, blockhash, transfers, priorityFeeMicro)
	if err != nil {
		return "", err
	}

	var signature string
	params := []any{base64.StdEncoding.EncodeToString(tx), map[string]any{"encoding": "base64"}}
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}

	if err := c.waitConfirmation(ctx, signature); err != nil {
		return signature, err
	}
	return signature, nil
}

// waitConfirmation consulta o status da assinatura até confirmar ou estourar o contexto
func (c *RPCClient) waitConfirmation(ctx context.Context, signature string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		var res struct {
			Value []*struct {
				ConfirmationStatus string          `json:"confirmationStatus"`
				Err                json.RawMessage `json:"err"`
			} `json:"value"`
		}
		params := []any{[]string{signature}, map[string]any{"searchTransactionHistory": false}}
		if err := c.call(ctx, "getSignatureStatuses", params, &res); err != nil {
			return err
		}
		if len(res.Value) > 0 && res.Value[0] != nil {
			st := res.Value[0]
			if string(st.Err) != "null" && len(st.Err) > 0 {
				return fmt.Errorf("transaction %s failed on chain", signature)
			}
			if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation of %s: %w", signature, ctx.Err())
		case <-ticker.C:
		}
	}
}
