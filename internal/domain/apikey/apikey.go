package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// User is an API client allowed to call the protected endpoints.
// Only the SHA-256 hash of its key is stored.
type User struct {
	Name      string
	KeyHash   string
	CreatedAt time.Time
}

// HashKey returns the hex SHA-256 digest stored for a plaintext key.
func HashKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new random URL-safe key.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
