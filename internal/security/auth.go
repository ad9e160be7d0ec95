package security

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingCredentials = errors.New("missing agent key or bearer token")
	ErrInvalidAgentKey    = errors.New("invalid agent key")
)

// Principal identifies an authenticated caller.
type Principal struct {
	Subject string
	Method  string // "agent_key", "token" or "none"
}

// Authenticator checks relay requests. A request may carry an agent key in
// X-Agent-Key, compared against bcrypt hashes, or an HS256 bearer token.
// With neither hashes nor a secret configured every request is accepted.
type Authenticator struct {
	keyHashes [][]byte
	secret    []byte
}

func NewAuthenticator(keyHashes []string, secret string) *Authenticator {
	a := &Authenticator{secret: []byte(secret)}
	for _, h := range keyHashes {
		if h = strings.TrimSpace(h); h != "" {
			a.keyHashes = append(a.keyHashes, []byte(h))
		}
	}
	return a
}

// Open reports whether the authenticator accepts unauthenticated requests.
func (a *Authenticator) Open() bool {
	return len(a.keyHashes) == 0 && len(a.secret) == 0
}

// Authenticate verifies the credentials on r.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	if a.Open() {
		return Principal{Method: "none"}, nil
	}

	if key := r.Header.Get("X-Agent-Key"); key != "" {
		if err := a.VerifyAgentKey(key); err != nil {
			return Principal{}, err
		}
		return Principal{Subject: KeyPrefix(key), Method: "agent_key"}, nil
	}

	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		claims, err := VerifyToken(a.secret, strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			return Principal{}, err
		}
		return Principal{Subject: claims.Subject, Method: "token"}, nil
	}

	return Principal{}, ErrMissingCredentials
}

// VerifyAgentKey compares a raw key against every configured hash.
func (a *Authenticator) VerifyAgentKey(raw string) error {
	for _, h := range a.keyHashes {
		if bcrypt.CompareHashAndPassword(h, []byte(raw)) == nil {
			return nil
		}
	}
	return ErrInvalidAgentKey
}

// HashAgentKey returns the bcrypt hash to configure for raw.
func HashAgentKey(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// KeyPrefix is the loggable part of an agent key.
func KeyPrefix(raw string) string {
	if len(raw) > 10 {
		return raw[:10]
	}
	return raw
}
