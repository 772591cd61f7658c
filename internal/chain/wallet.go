package chain

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// Wallet é um par de chaves ed25519 no formato usado pela Solana
// A chave privada (64 bytes: seed+pub) nunca sai do servidor
type Wallet struct {
	priv ed25519.PrivateKey
}

// NewWallet gera um novo par de chaves
func NewWallet() (*Wallet, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Wallet{priv: priv}, nil
}

// WalletFromSecret reconstrói a carteira a partir da chave privada em base58
// Aceita tanto a chave completa (64 bytes) quanto só a seed (32 bytes)
func WalletFromSecret(secret string) (*Wallet, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return &Wallet{priv: ed25519.PrivateKey(raw)}, nil
	case ed25519.SeedSize:
		return &Wallet{priv: ed25519.NewKeyFromSeed(raw)}, nil
	default:
		return nil, fmt.Errorf("secret key has %d bytes, want %d or %d", len(raw), ed25519.PrivateKeySize, ed25519.SeedSize)
	}
}

// Address retorna o endereço público em base58
func (w *Wallet) Address() string {
	pub := w.priv.Public().(ed25519.PublicKey)
	return base58.Encode(pub)
}

// Secret retorna a chave privada completa em base58
func (w *Wallet) Secret() string {
	return base58.Encode(w.priv)
}

// Sign assina a mensagem serializada de uma transação
func (w *Wallet) Sign(message []byte) []byte {
	return ed25519.Sign(w.priv, message)
}
