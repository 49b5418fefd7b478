// apikey.go handles API key generation and validation. Keys look like
// "lora_<random>" where the random part is 32 url-safe base64 bytes. Only the
// bcrypt hash of the full key is stored; the plaintext prefix column narrows
// database lookups to a handful of candidates before the hash comparison.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// KeyPrefixLength is the number of characters stored in the indexed
	// key_prefix column and shown in listings
	KeyPrefixLength = 10

	// APIKeyBcryptCost is the cost factor for API key hashing
	APIKeyBcryptCost = 12
)

// GenerateAPIKey creates a new random API key with the given scheme prefix
// (e.g. "lora"). Returns the full key (shown to the owner exactly once), the
// bcrypt hash to store, and the plaintext lookup prefix.
func GenerateAPIKey(scheme string) (key string, hash string, keyPrefix string, err error) {
	randomBytes := make([]byte, APIKeyLength)
	if _, err = rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := fmt.Sprintf("%s_%s", scheme, base64.RawURLEncoding.EncodeToString(randomBytes))

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), APIKeyBcryptCost)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to hash API key: %w", err)
	}

	prefix := fullKey
	if len(fullKey) > KeyPrefixLength {
		prefix = fullKey[:KeyPrefixLength]
	}

	return fullKey, string(hashBytes), prefix, nil
}

// ValidateAPIKey checks if a provided key matches the stored hash
func ValidateAPIKey(providedKey, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey)) == nil
}

// LookupPrefix returns the indexed prefix of a presented key
func LookupPrefix(key string) string {
	if len(key) > KeyPrefixLength {
		return key[:KeyPrefixLength]
	}
	return key
}
