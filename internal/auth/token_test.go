package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testSigningSecret = []byte("unit-test-signing-secret")

func TestIssueAndValidateServiceToken(t *testing.T) {
	manager := NewServiceTokenManager(ServiceTokenManagerConfig{
		SigningSecret: testSigningSecret,
		TokenTTL:      time.Hour,
	})

	token, expiresIn, err := manager.IssueServiceToken("ingestion-worker-7")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if expiresIn != int64(time.Hour.Seconds()) {
		t.Fatalf("expected expiry of %d seconds, got %d", int64(time.Hour.Seconds()), expiresIn)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("token is not a compact JWT: %s", token)
	}

	subject, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if subject != "ingestion-worker-7" {
		t.Fatalf("got subject %s, want ingestion-worker-7", subject)
	}
}

func TestIssueServiceTokenRequiresSubject(t *testing.T) {
	manager := NewServiceTokenManager(ServiceTokenManagerConfig{SigningSecret: testSigningSecret})

	if _, _, err := manager.IssueServiceToken(""); !errors.Is(err, errMissingSubjectClaim) {
		t.Fatalf("expected errMissingSubjectClaim, got %v", err)
	}
}

func TestIssueServiceTokenRequiresSecret(t *testing.T) {
	manager := NewServiceTokenManager(ServiceTokenManagerConfig{})

	if _, _, err := manager.IssueServiceToken("worker"); !errors.Is(err, errMissingSigningSecret) {
		t.Fatalf("expected errMissingSigningSecret, got %v", err)
	}
	if _, err := manager.ValidateToken("whatever"); !errors.Is(err, errMissingSigningSecret) {
		t.Fatalf("expected errMissingSigningSecret, got %v", err)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	issuedAt := time.Unix(1700000000, 0)
	manager := NewServiceTokenManager(ServiceTokenManagerConfig{
		SigningSecret: testSigningSecret,
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issuedAt },
	})

	token, _, err := manager.IssueServiceToken("worker")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}

	lateManager := NewServiceTokenManager(ServiceTokenManagerConfig{
		SigningSecret: testSigningSecret,
		Clock:         func() time.Time { return issuedAt.Add(2 * time.Minute) },
	})
	if _, err := lateManager.ValidateToken(token); err == nil {
		t.Fatal("expected validation error for expired token")
	}
}

func TestValidateTokenRejectsForeignIssuerAndAudience(t *testing.T) {
	manager := NewServiceTokenManager(ServiceTokenManagerConfig{SigningSecret: testSigningSecret})

	foreignIssuer := NewServiceTokenManager(ServiceTokenManagerConfig{
		SigningSecret: testSigningSecret,
		Issuer:        "other-gateway",
	})
	token, _, err := foreignIssuer.IssueServiceToken("worker")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if _, err := manager.ValidateToken(token); err == nil {
		t.Fatal("expected validation error for foreign issuer")
	}

	foreignAudience := NewServiceTokenManager(ServiceTokenManagerConfig{
		SigningSecret: testSigningSecret,
		Audience:      "other-api",
	})
	token, _, err = foreignAudience.IssueServiceToken("worker")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if _, err := manager.ValidateToken(token); err == nil {
		t.Fatal("expected validation error for foreign audience")
	}
}

func TestValidateTokenRejectsTamperedSignature(t *testing.T) {
	manager := NewServiceTokenManager(ServiceTokenManagerConfig{SigningSecret: testSigningSecret})
	other := NewServiceTokenManager(ServiceTokenManagerConfig{SigningSecret: []byte("another-secret")})

	token, _, err := other.IssueServiceToken("worker")
	if err != nil {
		t.Fatalf("unexpected issue error: %v", err)
	}
	if _, err := manager.ValidateToken(token); err == nil {
		t.Fatal("expected validation error for mismatched secret")
	}
}
