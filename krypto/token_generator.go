package krypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/google/uuid"
)

// GenerateSecureToken generates a secure token of the specified length.
// It utilizes the cryptographic randomness provided by the rand package
// to ensure the security and unpredictability of the generated token.
//
// Parameters:
//
//	length: The number of random bytes. The hex result is twice as long.
//
// Returns:
//
//	string: The randomly generated secure token in hexadecimal format.
//	error: An error, if any, encountered during the token generation process.
func GenerateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateURLSafeToken returns length random bytes encoded as unpadded
// base64url, the encoding OAuth uses for state, nonce and PKCE verifiers.
func GenerateURLSafeToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewID returns a random UUID string used to tag sessions and artifacts.
func NewID() string {
	return uuid.NewString()
}
