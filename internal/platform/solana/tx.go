package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sniperlabs/sniperbot/internal/crypto"
)

// SignTransactionBase64 signs a serialized transaction built by the swap
// aggregator. The wire format is a compact-u16 signature count, that many
// 64-byte signature slots, then the message bytes. Jupiter places the fee
// payer (the wallet) in slot zero, so the wallet's signature goes there.
func SignTransactionBase64(txBase64 string, signer *crypto.Signer) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("solana: decode transaction: %w", err)
	}

	numSigs, offset, err := decodeCompactU16(raw)
	if err != nil {
		return "", fmt.Errorf("solana: parse transaction: %w", err)
	}
	if numSigs == 0 {
		return "", errors.New("solana: transaction reserves no signature slots")
	}

	msgStart := offset + numSigs*ed25519.SignatureSize
	if len(raw) < msgStart {
		return "", errors.New("solana: transaction shorter than its signature table")
	}

	sig := signer.Sign(raw[msgStart:])
	copy(raw[offset:offset+ed25519.SignatureSize], sig)

	return base64.StdEncoding.EncodeToString(raw), nil
}

// decodeCompactU16 reads Solana's compact-u16 length prefix and returns the
// value and the number of bytes it occupied.
func decodeCompactU16(b []byte) (int, int, error) {
	var value, shift uint
	for i := 0; i < 3; i++ {
		if i >= len(b) {
			return 0, 0, errors.New("truncated compact-u16")
		}
		elem := uint(b[i])
		value |= (elem & 0x7f) << shift
		if elem&0x80 == 0 {
			return int(value), i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errors.New("compact-u16 prefix too long")
}
