package httputil

import (
	"context"
	"testing"
)

func TestGenerateNonce_Unique(t *testing.T) {
	a := GenerateNonce()
	b := GenerateNonce()
	if a == "" || b == "" {
		t.Fatal("expected non-empty nonces")
	}
	if a == b {
		t.Errorf("expected unique nonces, got %q twice", a)
	}
	// 16 bytes base64url-encoded without padding = 22 characters
	if len(a) != 22 {
		t.Errorf("expected 22-character nonce, got %d: %q", len(a), a)
	}
}

func TestNonceContextRoundTrip(t *testing.T) {
	ctx := ContextWithNonce(context.Background(), "nonce-abc")
	if got := NonceFromContext(ctx); got != "nonce-abc" {
		t.Errorf("got %q", got)
	}
	if got := NonceFromContext(context.Background()); got != "" {
		t.Errorf("expected empty for missing nonce, got %q", got)
	}
}
