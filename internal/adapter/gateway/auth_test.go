package gateway

import (
	"errors"
	"testing"

	"sirsi-hub/internal/domain"
	"sirsi-hub/internal/infra/config"
)

func TestStaticTokenAuthValid(t *testing.T) {
	auth := NewStaticTokenAuth([]config.TokenConfig{
		{Token: "secret-123", Name: "ops-bot", Roles: []string{"admin"}},
		{Token: "secret-456", Name: "viewer", Roles: []string{"viewer"}},
	})

	info, err := auth.Authenticate("secret-456")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if info.Name != "viewer" {
		t.Errorf("Name = %q", info.Name)
	}
	if len(info.Roles) != 1 || info.Roles[0] != "viewer" {
		t.Errorf("Roles = %v", info.Roles)
	}
}

func TestStaticTokenAuthInvalid(t *testing.T) {
	auth := NewStaticTokenAuth([]config.TokenConfig{{Token: "secret-123", Name: "ops-bot"}})

	_, err := auth.Authenticate("wrong-token")
	if !errors.Is(err, domain.ErrGatewayAuthFailed) {
		t.Errorf("err = %v, want ErrGatewayAuthFailed", err)
	}
	if !errors.Is(err, domain.ErrAuthInvalid) {
		t.Errorf("err = %v, want to wrap ErrAuthInvalid", err)
	}
}

func TestStaticTokenAuthEmptyToken(t *testing.T) {
	auth := NewStaticTokenAuth([]config.TokenConfig{{Token: "", Name: "blank"}})
	if _, err := auth.Authenticate(""); err == nil {
		t.Fatal("empty token must never authenticate")
	}
	if _, err := NewStaticTokenAuth(nil).Authenticate("anything"); err == nil {
		t.Fatal("expected error for empty token list")
	}
}

func TestNewAuthenticator(t *testing.T) {
	if _, ok := NewAuthenticator(config.AuthConfig{}).(OpenAuth); !ok {
		t.Error("empty type should give OpenAuth")
	}
	a := NewAuthenticator(config.AuthConfig{Type: "static", Tokens: []config.TokenConfig{{Token: "t", Name: "n"}}})
	if _, err := a.Authenticate("t"); err != nil {
		t.Errorf("static auth rejected valid token: %v", err)
	}
}
