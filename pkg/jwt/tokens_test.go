package jwt

import (
	"testing"
	"time"
)

func TestGenerateAndParse(t *testing.T) {
	token, err := GenerateToken("user-1", "ops@example.com", "org-1", "secret", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	claims, err := Parse(token, "secret")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.UserID != "user-1" || claims.Email != "ops@example.com" || claims.OrgID != "org-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseRejectsExpiredAndForeignTokens(t *testing.T) {
	expired, err := GenerateToken("user-1", "", "", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}
	if _, err := Parse(expired, "secret"); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
	foreign, _ := GenerateToken("user-1", "", "", "other", time.Minute)
	if _, err := Parse(foreign, "secret"); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}
}
