package dlc

import (
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const pemLabel = "EC PRIVATE KEY"

// LoadOrCreateKey reads the oracle signing key from a PEM file, generating a
// fresh key with 0600 permissions when the file does not exist yet.
func LoadOrCreateKey(path string) (*secp256k1.PrivateKey, error) {
	if !strings.HasSuffix(path, ".pem") {
		return nil, fmt.Errorf("private key path %q must end in .pem", path)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return generateKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	if block.Type != pemLabel {
		return nil, fmt.Errorf("unexpected PEM label %q in %s", block.Type, path)
	}
	if len(block.Bytes) != 32 {
		return nil, fmt.Errorf("private key in %s is %d bytes, want 32", path, len(block.Bytes))
	}
	return secp256k1.PrivKeyFromBytes(block.Bytes), nil
}

func generateKey(path string) (*secp256k1.PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create key directory: %w", err)
		}
	}

	raw := key.Serialize()
	block := &pem.Block{Type: pemLabel, Bytes: raw}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}
	return key, nil
}

// PubkeyBytes returns the compressed 33-byte encoding used everywhere the
// oracle publishes its key.
func PubkeyBytes(key *secp256k1.PrivateKey) []byte {
	return key.PubKey().SerializeCompressed()
}
