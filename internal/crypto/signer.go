package crypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// Signer signs Solana transaction messages with an ed25519 key.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewSigner creates a Signer from a base58-encoded private key. Both the
// 64-byte keypair format exported by Solana wallets and a bare 32-byte seed
// are accepted.
func NewSigner(privateKeyBase58 string) (*Signer, error) {
	raw, err := decodeKeyBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w", err)
	}

	var pk ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		pk = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		pk = ed25519.PrivateKey(raw)
		// The trailing 32 bytes must be the public key the seed derives.
		derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !pk.Public().(ed25519.PublicKey).Equal(derived.Public().(ed25519.PublicKey)) {
			return nil, fmt.Errorf("crypto/signer: keypair public half does not match seed")
		}
	}

	return &Signer{
		privateKey: pk,
		publicKey:  pk.Public().(ed25519.PublicKey),
	}, nil
}

// PublicKey returns the base58-encoded public key, which is also the wallet
// address on Solana.
func (s *Signer) PublicKey() string {
	return base58.Encode(s.publicKey)
}

// Sign signs a serialized transaction message and returns the raw 64-byte
// signature.
func (s *Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.privateKey, message)
}

// SignBase58 signs a message and returns the base58 signature string used as
// the transaction id on Solana.
func (s *Signer) SignBase58(message []byte) string {
	return base58.Encode(s.Sign(message))
}

// Verify reports whether sig is a valid signature of message under the
// signer's public key.
func (s *Signer) Verify(message, sig []byte) bool {
	return ed25519.Verify(s.publicKey, message, sig)
}
