package auth

import (
	"testing"
	"time"
)

func TestTokenServiceIssueAndVerify(t *testing.T) {
	svc, err := NewTokenService("access-secret", "refresh-secret", WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	pair, err := svc.Issue("user-1", "Ada@Example.COM", "company-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", pair)
	}
	if !pair.RefreshExpiresAt.After(pair.AccessExpiresAt) {
		t.Fatalf("refresh expiry %v should be after access expiry %v", pair.RefreshExpiresAt, pair.AccessExpiresAt)
	}

	claims, err := svc.VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Email != "ada@example.com" {
		t.Fatalf("email not normalized: %s", claims.Email)
	}
	if claims.CompanyID != "company-1" {
		t.Fatalf("unexpected company: %s", claims.CompanyID)
	}
	if claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatalf("expected a token id")
	}

	if _, err := svc.VerifyRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
}

func TestTokenServiceRejectsWrongKind(t *testing.T) {
	svc, err := NewTokenService("access-secret", "refresh-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	pair, err := svc.Issue("user-1", "a@b.c", "company-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.VerifyAccess(pair.RefreshToken); err == nil {
		t.Fatalf("refresh token accepted as access token")
	}
	if _, err := svc.VerifyRefresh(pair.AccessToken); err == nil {
		t.Fatalf("access token accepted as refresh token")
	}
}

func TestTokenServiceExpiry(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewTokenService("access-secret", "refresh-secret",
		WithAccessTTL(time.Minute),
		WithTokenClock(func() time.Time { return current }),
	)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	pair, err := svc.Issue("user-1", "a@b.c", "company-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.VerifyAccess(pair.AccessToken); err != nil {
		t.Fatalf("VerifyAccess before expiry: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := svc.VerifyAccess(pair.AccessToken); err == nil {
		t.Fatalf("expired access token accepted")
	}
	// The refresh token outlives the access token.
	if _, err := svc.VerifyRefresh(pair.RefreshToken); err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
}

func TestTokenServiceRejectsForeignSignature(t *testing.T) {
	svcA, err := NewTokenService("secret-a", "refresh-a")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	svcB, err := NewTokenService("secret-b", "refresh-b")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	pair, err := svcA.Issue("user-1", "a@b.c", "company-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svcB.VerifyAccess(pair.AccessToken); err == nil {
		t.Fatalf("token with foreign signature accepted")
	}
	if _, err := svcB.VerifyAccess("not-a-token"); err == nil {
		t.Fatalf("garbage token accepted")
	}
	if _, err := svcB.VerifyAccess(""); err == nil {
		t.Fatalf("empty token accepted")
	}
}

func TestNewTokenServiceRequiresSecrets(t *testing.T) {
	if _, err := NewTokenService("", "refresh"); err == nil {
		t.Fatalf("expected error for empty access secret")
	}
	if _, err := NewTokenService("access", " "); err == nil {
		t.Fatalf("expected error for empty refresh secret")
	}
}

func TestHashTokenStable(t *testing.T) {
	a := HashToken("token")
	b := HashToken("token")
	if a != b {
		t.Fatalf("hash not deterministic: %s vs %s", a, b)
	}
	if a == HashToken("other") {
		t.Fatalf("distinct tokens hashed equal")
	}
	if len(a) != 64 {
		t.Fatalf("unexpected digest length: %d", len(a))
	}
}
