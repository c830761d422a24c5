package ports

import "time"

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// SessionClaims is the content of an issued session token. Tokens are
// informational: the engine verifies signatures but tracks no session state,
// so continuity across calls is not enforced. AccountID is empty on tokens
// issued at application init, before any user has authenticated.
type SessionClaims struct {
	ApplicationID string    `json:"application_id"`
	AccountID     string    `json:"account_id,omitempty"`
	Username      string    `json:"username,omitempty"`
	Role          string    `json:"role,omitempty"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	KeyID         string    `json:"kid"`
}

type TokenSigner interface {
	Sign(claims SessionClaims) (string, error)
	ParseAndValidate(token string) (SessionClaims, error)
}
