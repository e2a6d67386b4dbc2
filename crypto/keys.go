package crypto

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ErrKeyMissing is returned when a keypair source resolves to nothing.
var ErrKeyMissing = errors.New("crypto: key material missing")

// Keypair wraps a Solana ed25519 signing key together with its derived
// public identity. All constructors validate the key length so a malformed
// key fails at load time rather than at first signature.
type Keypair struct {
	key solana.PrivateKey
}

func newKeypair(key solana.PrivateKey) (*Keypair, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("crypto: private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key))
	}
	return &Keypair{key: key}, nil
}

// GenerateKeypair creates a fresh random keypair.
func GenerateKeypair() (*Keypair, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return newKeypair(key)
}

// KeypairFromBase58 decodes a base58-encoded 64-byte private key.
func KeypairFromBase58(raw string) (*Keypair, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrKeyMissing
	}
	key, err := solana.PrivateKeyFromBase58(trimmed)
	if err != nil {
		return nil, fmt.Errorf("crypto: decode base58 key: %w", err)
	}
	return newKeypair(key)
}

// KeypairFromFile reads a solana-keygen JSON key file (a JSON array of the
// 64 private-key bytes).
func KeypairFromFile(path string) (*Keypair, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrKeyMissing
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("crypto: read key file %s: %w", trimmed, err)
	}
	return newKeypair(key)
}

// ParseKeypair accepts the three key encodings configuration may carry: a
// base58 string, an inline solana-keygen JSON array, or a path to a keygen
// file.
func ParseKeypair(raw string) (*Keypair, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrKeyMissing
	}
	if strings.HasPrefix(trimmed, "[") {
		var values []byte
		if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
			return nil, fmt.Errorf("crypto: decode inline key: %w", err)
		}
		return newKeypair(solana.PrivateKey(values))
	}
	if key, err := solana.PrivateKeyFromBase58(trimmed); err == nil && len(key) == ed25519.PrivateKeySize {
		return newKeypair(key)
	}
	if _, err := os.Stat(trimmed); err == nil {
		return KeypairFromFile(trimmed)
	}
	return nil, fmt.Errorf("crypto: key %q is neither a base58 key, an inline key, nor a readable file", trimmed)
}

// PublicKey returns the keypair's public identity.
func (k *Keypair) PublicKey() solana.PublicKey {
	return k.key.PublicKey()
}

// Address returns the base58 form of the public identity.
func (k *Keypair) Address() string {
	return k.key.PublicKey().String()
}

// Sign produces a detached ed25519 signature over msg.
func (k *Keypair) Sign(msg []byte) (solana.Signature, error) {
	sig, err := k.key.Sign(msg)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("crypto: sign: %w", err)
	}
	return sig, nil
}

// PrivateKey exposes the underlying key for transaction signing.
func (k *Keypair) PrivateKey() solana.PrivateKey {
	return k.key
}
