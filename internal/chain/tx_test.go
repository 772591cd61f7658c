package chain

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
)

func TestAppendCompactU16(t *testing.T) {
	cases := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x80, 0x80, 0x01}},
	}
	for _, tc := range cases {
		got := appendCompactU16(nil, tc.n)
		if !bytes.Equal(got, tc.want) {
			t.Errorf("appendCompactU16(%d) = %x, want %x", tc.n, got, tc.want)
		}
	}
}

func TestTransferInstructionData(t *testing.T) {
	data := transferInstructionData(1_500_000_000)
	if len(data) != 12 {
		t.Fatalf("got %d bytes, want 12", len(data))
	}
	if idx := binary.LittleEndian.Uint32(data[0:4]); idx != 2 {
		t.Errorf("instruction index %d, want 2 (Transfer)", idx)
	}
	if lamports := binary.LittleEndian.Uint64(data[4:12]); lamports != 1_500_000_000 {
		t.Errorf("lamports %d, want 1500000000", lamports)
	}
}

func TestComputeUnitPriceData(t *testing.T) {
	data := computeUnitPriceData(10_000)
	if len(data) != 9 {
		t.Fatalf("got %d bytes, want 9", len(data))
	}
	if data[0] != 3 {
		t.Errorf("instruction index %d, want 3 (SetComputeUnitPrice)", data[0])
	}
	if micro := binary.LittleEndian.Uint64(data[1:9]); micro != 10_000 {
		t.Errorf("micro-lamports %d, want 10000", micro)
	}
}

func testBlockhash() string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return base58.Encode(raw)
}

func TestBuildTransferTransaction_SignatureVerifies(t *testing.T) {
	signer, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	recipient, _ := NewWallet()
	other, _ := NewWallet()

	tx, err := buildTransferTransaction(signer, testBlockhash(), []Transfer{
		{Recipient: recipient.Address(), Lamports: 1_000},
		{Recipient: other.Address(), Lamports: 2_000},
	}, 10_000)
	if err != nil {
		t.Fatalf("buildTransferTransaction: %v", err)
	}

	// 1 byte de contagem + 64 bytes de assinatura + mensagem
	if tx[0] != 1 {
		t.Fatalf("signature count %d, want 1", tx[0])
	}
	sig := tx[1:65]
	msg := tx[65:]

	pub, err := base58.Decode(signer.Address())
	if err != nil {
		t.Fatalf("decode signer address: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		t.Error("transaction signature does not verify against the signer key")
	}

	// header legacy: 1 assinatura, 0 signers readonly, 2 contas readonly
	if msg[0] != 1 || msg[1] != 0 || msg[2] != 2 {
		t.Errorf("message header %v, want [1 0 2]", msg[:3])
	}
	// signer + 2 destinatários + ComputeBudget + System Program
	if msg[3] != 5 {
		t.Errorf("account count %d, want 5", msg[3])
	}

	// a primeira conta da tabela é o pagador
	first := base58.Encode(msg[4 : 4+32])
	if first != signer.Address() {
		t.Errorf("first account %s, want signer %s", first, signer.Address())
	}
}

func TestBuildTransferTransaction_DedupsRecipients(t *testing.T) {
	signer, _ := NewWallet()
	recipient, _ := NewWallet()

	tx, err := buildTransferTransaction(signer, testBlockhash(), []Transfer{
		{Recipient: recipient.Address(), Lamports: 1_000},
		{Recipient: recipient.Address(), Lamports: 2_000},
	}, 0)
	if err != nil {
		t.Fatalf("buildTransferTransaction: %v", err)
	}

	msg := tx[65:]
	// signer + 1 destinatário único + 2 programas
	if msg[3] != 4 {
		t.Errorf("account count %d, want 4 with deduped recipient", msg[3])
	}
}

func TestBuildTransferTransaction_Rejections(t *testing.T) {
	signer, _ := NewWallet()
	recipient, _ := NewWallet()

	if _, err := buildTransferTransaction(signer, testBlockhash(), nil, 0); err == nil {
		t.Error("expected error for empty batch")
	}
	if _, err := buildTransferTransaction(signer, "not-a-blockhash!!", []Transfer{{Recipient: recipient.Address(), Lamports: 1}}, 0); err == nil {
		t.Error("expected error for invalid blockhash")
	}
	if _, err := buildTransferTransaction(signer, testBlockhash(), []Transfer{{Recipient: "bogus", Lamports: 1}}, 0); err == nil {
		t.Error("expected error for invalid recipient address")
	}
}
