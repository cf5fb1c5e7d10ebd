package gateway

import (
	"crypto/subtle"

	"nousim/internal/domain"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name string
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

// TokenEntry is one accepted static token.
type TokenEntry struct {
	Token string
	Name  string
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []TokenEntry
}

// NewStaticTokenAuth builds an authenticator from a set of token entries.
// Entries with an empty token are ignored.
func NewStaticTokenAuth(entries []TokenEntry) *StaticTokenAuth {
	a := &StaticTokenAuth{}
	for _, e := range entries {
		if e.Token != "" {
			a.entries = append(a.entries, e)
		}
	}
	return a
}

// Authenticate returns client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, []byte(e.Token)) == 1 {
			return &ClientInfo{Name: e.Name}, nil
		}
	}
	return nil, domain.ErrGatewayAuthFailed
}

// OpenAuth admits every client. It is used when no auth type is configured.
type OpenAuth struct{}

// Authenticate always succeeds.
func (OpenAuth) Authenticate(string) (*ClientInfo, error) {
	return &ClientInfo{Name: "anonymous"}, nil
}
