package auth

import (
	"context"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := NewMemoryStore([]Seed{
		{Username: "alice", Password: "secret", Roles: []string{"user"}, Permissions: []string{"chat:read", "chat:write"}},
		{Username: "mallory", Password: "secret", Disabled: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	svc, err := NewService(context.Background(), Config{
		Mode: ModeJWT,
		JWT:  JWTOptions{Secret: "test-secret", Issuer: "defiseek", AccessTTL: 60},
	}, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return svc
}

func TestAuthenticateIssuesTokenPair(t *testing.T) {
	svc := newTestService(t)

	pair, err := svc.Authenticate(context.Background(), TokenRequest{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token type: %s", pair.TokenType)
	}

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject.Username != "alice" {
		t.Fatalf("unexpected subject: %+v", subject)
	}
	if !subject.HasPermission("chat:write") {
		t.Fatal("expected chat:write permission")
	}
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Authenticate(context.Background(), TokenRequest{Username: "alice", Password: "wrong"}); err != ErrInvalidCredentials {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthenticateRejectsDisabledUser(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.Authenticate(context.Background(), TokenRequest{Username: "mallory", Password: "secret"}); err != ErrSubjectRevoked {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthenticateRequestRejectsRefreshToken(t *testing.T) {
	svc := newTestService(t)
	pair, err := svc.Authenticate(context.Background(), TokenRequest{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer "+pair.RefreshToken); err != ErrInvalidToken {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAuthenticateRequestRejectsMissingToken(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.AuthenticateRequest(context.Background(), ""); err != ErrMissingToken {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTokenExpiresWithClock(t *testing.T) {
	m := newJWTManager(JWTOptions{Secret: "k", AccessTTL: 60})
	base := time.Now()
	m.now = func() time.Time { return base }

	pair, err := m.Generate(&Subject{ID: "u1", Username: "alice", Permissions: []string{"chat:read"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Verify(pair.AccessToken); err != nil {
		t.Fatalf("fresh token should verify: %v", err)
	}

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := m.Verify(pair.AccessToken); err != ErrInvalidToken {
		t.Fatalf("expired token should be rejected, got %v", err)
	}
}

func TestRefreshTokenCarriesNoPermissions(t *testing.T) {
	m := newJWTManager(JWTOptions{Secret: "k"})
	pair, err := m.Generate(&Subject{ID: "u1", Username: "alice", Permissions: []string{"chat:write"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := m.Verify(pair.RefreshToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.TokenType != tokenTypeRefresh {
		t.Fatalf("unexpected token type: %s", claims.TokenType)
	}
	if len(claims.Permissions) != 0 {
		t.Fatalf("refresh token must not embed permissions: %v", claims.Permissions)
	}
}

func TestExpiredTokenIsRejected(t *testing.T) {
	m := &jwtManager{secret: []byte("k"), accessTTL: time.Second, refreshTTL: time.Second}
	claims := jwtClaims{
		TokenType: tokenTypeAccess,
		Subject:   "u1",
		IssuedAt:  time.Now().Add(-2 * time.Hour).Unix(),
		ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	}
	token, err := m.sign(claims)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Verify(token); err != ErrInvalidToken {
		t.Fatalf("unexpected error: %v", err)
	}
}
