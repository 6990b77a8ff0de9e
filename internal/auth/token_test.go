package auth

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	now := time.Now()
	tok := MintStreamToken("secret", "call-1", now.Add(time.Hour))

	callID, err := ValidateStreamToken("secret", tok, "call-1", now, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if callID != "call-1" {
		t.Fatalf("wrong call id %q", callID)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	tok := MintStreamToken("secret", "call-1", time.Now().Add(time.Hour))
	if _, err := ValidateStreamToken("other", tok, "call-1", time.Now(), 0); !errors.Is(err, ErrTokenSig) {
		t.Fatalf("expected ErrTokenSig, got %v", err)
	}
}

func TestTokenWrongCall(t *testing.T) {
	tok := MintStreamToken("secret", "call-1", time.Now().Add(time.Hour))
	if _, err := ValidateStreamToken("secret", tok, "call-2", time.Now(), 0); !errors.Is(err, ErrTokenCall) {
		t.Fatalf("expected ErrTokenCall, got %v", err)
	}
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	tok := MintStreamToken("secret", "call-1", now.Add(-time.Minute))
	if _, err := ValidateStreamToken("secret", tok, "call-1", now, 0); !errors.Is(err, ErrTokenExp) {
		t.Fatalf("expected ErrTokenExp, got %v", err)
	}
	// still inside skew
	if _, err := ValidateStreamToken("secret", tok, "call-1", now, 120); err != nil {
		t.Fatalf("skew should allow it: %v", err)
	}
}

func TestTokenGarbage(t *testing.T) {
	if _, err := ValidateStreamToken("secret", "not-a-token", "call-1", time.Now(), 0); !errors.Is(err, ErrTokenFormat) {
		t.Fatalf("expected ErrTokenFormat, got %v", err)
	}
}
