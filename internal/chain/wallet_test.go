package chain

import (
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
)

func TestWalletSecretRoundtrip(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}

	restored, err := WalletFromSecret(w.Secret())
	if err != nil {
		t.Fatalf("WalletFromSecret: %v", err)
	}
	if restored.Address() != w.Address() {
		t.Errorf("restored address %s, want %s", restored.Address(), w.Address())
	}
}

func TestWalletFromSeed(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	w, err := WalletFromSecret(base58.Encode(seed))
	if err != nil {
		t.Fatalf("WalletFromSecret(seed): %v", err)
	}

	// a seed reconstrói sempre o mesmo par de chaves
	again, err := WalletFromSecret(base58.Encode(seed))
	if err != nil {
		t.Fatalf("WalletFromSecret(seed): %v", err)
	}
	if again.Address() != w.Address() {
		t.Errorf("seed produced address %s and %s", w.Address(), again.Address())
	}
}

func TestWalletFromSecret_Invalid(t *testing.T) {
	if _, err := WalletFromSecret("not-base58-0OIl"); err == nil {
		t.Error("expected error for invalid base58")
	}
	if _, err := WalletFromSecret(base58.Encode(make([]byte, 16))); err == nil {
		t.Error("expected error for wrong key length")
	}
}

func TestWalletSign(t *testing.T) {
	w, err := NewWallet()
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	msg := []byte("race settlement message")
	sig := w.Sign(msg)

	pub, err := base58.Decode(w.Address())
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		t.Error("signature does not verify")
	}
	if ed25519.Verify(ed25519.PublicKey(pub), []byte("tampered"), sig) {
		t.Error("signature verified for a different message")
	}
}
