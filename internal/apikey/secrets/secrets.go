// Package secrets issues API key secrets, hashes them for storage and parses
// the plaintext key format dpk_<key-id-hex>_<secret>.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"dataplane/pkg/domain"
	dErrors "dataplane/pkg/domain-errors"
)

const (
	KeyPrefix   = "dpk_"
	secretBytes = 32
	keyIDHexLen = 32
)

// Generate creates a 32-byte random secret, base64url encoded.
func Generate() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash creates a bcrypt hash of the secret.
func Hash(secret string) (string, error) {
	if secret == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "secret is too long")
		}
		return "", fmt.Errorf("could not hash secret: %w", err)
	}
	return string(hashed), nil
}

// Verify checks a plaintext secret against a bcrypt hash.
func Verify(secret, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
		}
		return fmt.Errorf("could not verify secret: %w", err)
	}
	return nil
}

func keyIDHex(keyID domain.APIKeyID) string {
	id := uuid.UUID(keyID)
	return hex.EncodeToString(id[:])
}

// Format builds the plaintext key handed to the caller once.
func Format(keyID domain.APIKeyID, secret string) string {
	return KeyPrefix + keyIDHex(keyID) + "_" + secret
}

// DisplayPrefix is the non-secret part shown in listings.
func DisplayPrefix(keyID domain.APIKeyID) string {
	return KeyPrefix + keyIDHex(keyID)[:8]
}

// Parse splits a plaintext key into its id and secret. The secret may itself
// contain underscores.
func Parse(plaintext string) (domain.APIKeyID, string, error) {
	invalid := dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
	rest, ok := strings.CutPrefix(strings.TrimSpace(plaintext), KeyPrefix)
	if !ok {
		return domain.APIKeyID{}, "", invalid
	}
	idHex, secret, ok := strings.Cut(rest, "_")
	if !ok || len(idHex) != keyIDHexLen || secret == "" {
		return domain.APIKeyID{}, "", invalid
	}
	raw, err := hex.DecodeString(idHex)
	if err != nil {
		return domain.APIKeyID{}, "", invalid
	}
	id, err := uuid.FromBytes(raw)
	if err != nil || id == uuid.Nil {
		return domain.APIKeyID{}, "", invalid
	}
	return domain.APIKeyID(id), secret, nil
}
