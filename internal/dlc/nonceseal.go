package dlc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Nonce scalars are sealed with AES-256-GCM under a key derived from the
// oracle signing key before they touch the metadata store. Only the nonce
// point is ever published; the plaintext scalar exists in memory during
// event creation and signing only.

func sealKey(priv *secp256k1.PrivateKey) [32]byte {
	raw := priv.Serialize()
	h := sha256.New()
	h.Write(raw)
	h.Write([]byte("skycommit/nonce-seal/v1"))
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}

// SealNonce encrypts a nonce scalar for persistence.
func SealNonce(priv *secp256k1.PrivateKey, nonce *secp256k1.ModNScalar) ([]byte, error) {
	key := sealKey(priv)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("draw seal iv: %w", err)
	}

	plain := nonce.Bytes()
	sealed := gcm.Seal(iv, iv, plain[:], nil)
	for i := range plain {
		plain[i] = 0
	}
	return sealed, nil
}

// OpenNonce decrypts a sealed nonce scalar.
func OpenNonce(priv *secp256k1.PrivateKey, sealed []byte) (*secp256k1.ModNScalar, error) {
	key := sealKey(priv)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed nonce too short: %d bytes", len(sealed))
	}

	iv, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed nonce: %w", err)
	}
	defer func() {
		for i := range plain {
			plain[i] = 0
		}
	}()
	return NonceFromBytes(plain)
}
