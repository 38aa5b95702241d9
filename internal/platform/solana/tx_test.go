package solana

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniperlabs/sniperbot/internal/crypto"
)

func testSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	signer, err := crypto.NewSigner(base58.Encode(seed))
	require.NoError(t, err)
	return signer
}

// buildUnsignedTx assembles a wire transaction with one empty signature
// slot followed by the message bytes.
func buildUnsignedTx(message []byte) string {
	raw := make([]byte, 0, 1+ed25519.SignatureSize+len(message))
	raw = append(raw, 0x01)
	raw = append(raw, make([]byte, ed25519.SignatureSize)...)
	raw = append(raw, message...)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestSignTransactionBase64(t *testing.T) {
	signer := testSigner(t)
	message := []byte("swap route payload")

	signed, err := SignTransactionBase64(buildUnsignedTx(message), signer)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(signed)
	require.NoError(t, err)
	require.Len(t, raw, 1+ed25519.SignatureSize+len(message))

	assert.Equal(t, byte(0x01), raw[0])
	sig := raw[1 : 1+ed25519.SignatureSize]
	assert.True(t, signer.Verify(message, sig), "slot zero must hold the wallet signature over the message")
	assert.Equal(t, message, raw[1+ed25519.SignatureSize:])
}

func TestSignTransactionBase64_Malformed(t *testing.T) {
	signer := testSigner(t)

	_, err := SignTransactionBase64("not base64!!!", signer)
	assert.Error(t, err)

	// Zero signature slots.
	noSlots := base64.StdEncoding.EncodeToString([]byte{0x00, 0xAA})
	_, err = SignTransactionBase64(noSlots, signer)
	assert.Error(t, err)

	// Claims one slot but the buffer ends before it.
	truncated := base64.StdEncoding.EncodeToString([]byte{0x01, 0x00, 0x00})
	_, err = SignTransactionBase64(truncated, signer)
	assert.Error(t, err)
}
