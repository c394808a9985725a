// Package krypto provides the random values an authorization flow needs.
//
// State, nonce and PKCE code verifiers use GenerateURLSafeToken, which
// returns unpadded base64url so the values can travel in a query string
// without further escaping:
//
//	state, err := krypto.GenerateURLSafeToken(16)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// GenerateSecureToken returns hex instead, for opaque values such as
// client secrets and authorization codes in test providers. NewID returns
// a UUID and tags authorization sessions and warmed browser artifacts.
//
// All functions read from crypto/rand and return its error.
package krypto
