package gateway

import (
	"crypto/subtle"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/infra/config"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name  string
	Roles []string
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a fixed token list.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from configured tokens.
func NewStaticTokenAuth(tokens []config.TokenConfig) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, len(tokens))}
	for i, t := range tokens {
		a.entries[i] = authEntry{
			token: []byte(t.Token),
			info:  &ClientInfo{Name: t.Name, Roles: t.Roles},
		}
	}
	return a
}

// Authenticate returns client info if the token is valid. Every entry is
// compared in constant time.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	var found *ClientInfo
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 && found == nil {
			found = e.info
		}
	}
	if found == nil || token == "" {
		return nil, domain.ErrGatewayAuthFailed
	}
	return found, nil
}

// OpenAuth admits every client. It backs gateways bound to loopback with
// auth type "".
type OpenAuth struct{}

func (OpenAuth) Authenticate(string) (*ClientInfo, error) {
	return &ClientInfo{Name: "anonymous"}, nil
}

// NewAuthenticator picks the authenticator for cfg.
func NewAuthenticator(cfg config.AuthConfig) Authenticator {
	if cfg.Type == "static" {
		return NewStaticTokenAuth(cfg.Tokens)
	}
	return OpenAuth{}
}
