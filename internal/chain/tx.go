package chain

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// Program ids usados nas transações de desembolso
const (
	systemProgramID        = "11111111111111111111111111111111"
	computeBudgetProgramID = "ComputeBudget111111111111111111111111111111"
)

// appendCompactU16 codifica um comprimento no formato compact-u16 da Solana
// (varint de até 3 bytes, 7 bits por byte)
func appendCompactU16(dst []byte, n int) []byte {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// transferInstructionData monta o payload da instrução Transfer do System Program
// (índice u32 LE = 2, lamports u64 LE)
func transferInstructionData(lamports int64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:12], uint64(lamports))
	return data
}

// computeUnitPriceData monta o payload da instrução SetComputeUnitPrice do
// ComputeBudget (índice u8 = 3, micro-lamports u64 LE)
func computeUnitPriceData(microLamports uint64) []byte {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:9], microLamports)
	return data
}

// buildTransferTransaction serializa e assina uma transação legacy contendo a
// instrução de priority fee seguida de uma transferência por destinatário.
// O signer é a única conta que assina e paga a fee.
func buildTransferTransaction(signer *Wallet, blockhash string, transfers []Transfer, priorityFeeMicro uint64) ([]byte, error) {
	if len(transfers) == 0 {
		return nil, fmt.Errorf("empty transfer batch")
	}

	hash, err := base58.Decode(blockhash)
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("invalid blockhash %q", blockhash)
	}

	// Tabela de contas: signer, destinatários (writable), programas (readonly).
	// Destinatário repetido reaproveita o índice
	keys := []string{signer.Address()}
	index := map[string]byte{signer.Address(): 0}
	for _, t := range transfers {
		if _, ok := index[t.Recipient]; ok {
			continue
		}
		index[t.Recipient] = byte(len(keys))
		keys = append(keys, t.Recipient)
	}
	computeIdx := byte(len(keys))
	keys = append(keys, computeBudgetProgramID)
	systemIdx := byte(len(keys))
	keys = append(keys, systemProgramID)

	var msg []byte

	// Header: 1 assinatura obrigatória, 0 signers readonly, 2 contas readonly (os programas)
	msg = append(msg, 1, 0, 2)

	msg = appendCompactU16(msg, len(keys))
	for _, k := range keys {
		raw, err := base58.Decode(k)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("invalid account key %q", k)
		}
		msg = append(msg, raw...)
	}

	msg = append(msg, hash...)

	// Instruções: priority fee primeiro, depois um transfer por payout
	msg = appendCompactU16(msg, 1+len(transfers))

	msg = append(msg, computeIdx)
	msg = appendCompactU16(msg, 0)
	feeData := computeUnitPriceData(priorityFeeMicro)
	msg = appendCompactU16(msg, len(feeData))
	msg = append(msg, feeData...)

	for _, t := range transfers {
		msg = append(msg, systemIdx)
		msg = appendCompactU16(msg, 2)
		msg = append(msg, 0, index[t.Recipient])
		data := transferInstructionData(t.Lamports)
		msg = appendCompactU16(msg, len(data))
		msg = append(msg, data...)
	}

	sig := signer.Sign(msg)

	var tx bytes.Buffer
	tx.Write(appendCompactU16(nil, 1))
	tx.Write(sig)
	tx.Write(msg)
	return tx.Bytes(), nil
}
