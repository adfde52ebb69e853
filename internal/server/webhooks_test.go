package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"bountyboard/internal/domain"
)

func TestSignPayload(t *testing.T) {
	body := []byte(`{"id":1}`)
	got := signPayload("key", body)
	mac := hmac.New(sha256.New, []byte("key"))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if got != want {
		t.Fatalf("signature = %q, want %q", got, want)
	}
}

func TestCallbackTargets(t *testing.T) {
	poster := "https://example.com/poster"
	claimer := "https://example.com/claimer"
	b := domain.Bounty{PosterCallbackURL: &poster, ClaimerCallback: &claimer}

	if got := callbackTargets("bounty.created", b); len(got) != 0 {
		t.Fatalf("created should notify nobody, got %v", got)
	}
	if got := callbackTargets("bounty.claimed", b); len(got) != 1 || got[0] != poster {
		t.Fatalf("claimed targets = %v", got)
	}
	if got := callbackTargets("bounty.fulfilled", b); len(got) != 2 {
		t.Fatalf("fulfilled targets = %v", got)
	}
	if got := callbackTargets("bounty.cancelled", domain.Bounty{}); len(got) != 0 {
		t.Fatalf("no callbacks registered, got %v", got)
	}
}
