package authflow

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/gobeaver/authflow/krypto"
)

// PKCEMethodS256 is the only challenge method this client sends.
const PKCEMethodS256 = "S256"

// PKCEChallenge holds a PKCE verifier and its derived challenge
type PKCEChallenge struct {
	Verifier        string
	Challenge       string
	ChallengeMethod string
}

// GeneratePKCEChallenge generates a PKCE challenge with verifier and challenge
func GeneratePKCEChallenge(method string) (*PKCEChallenge, error) {
	// 32 random bytes encode to a 43 character verifier
	verifier, err := krypto.GenerateURLSafeToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	if len(verifier) < 43 || len(verifier) > 128 {
		return nil, fmt.Errorf("generated verifier has invalid length %d", len(verifier))
	}

	var challenge string
	switch method {
	case PKCEMethodS256:
		challenge = s256Challenge(verifier)
	case "plain":
		challenge = verifier
	default:
		return nil, fmt.Errorf("unsupported PKCE method: %s", method)
	}

	return &PKCEChallenge{
		Verifier:        verifier,
		Challenge:       challenge,
		ChallengeMethod: method,
	}, nil
}

func s256Challenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// ValidatePKCEChallenge validates that a verifier matches a challenge
func ValidatePKCEChallenge(verifier, challenge, method string) bool {
	switch method {
	case PKCEMethodS256:
		return challenge == s256Challenge(verifier)
	case "plain":
		return verifier == challenge
	default:
		return false
	}
}

// TokenParams returns the token exchange parameters for this challenge
func (p *PKCEChallenge) TokenParams() map[string]string {
	if p == nil {
		return nil
	}
	return map[string]string{"code_verifier": p.Verifier}
}
