package secrets

import "testing"

func TestGenerateRoundTrip(t *testing.T) {
	plain, hash, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if plain == "" || hash == "" {
		t.Fatalf("expected non-empty secret and hash")
	}
	if plain == hash {
		t.Fatalf("plaintext must differ from hash")
	}
	if !Verify(plain, hash) {
		t.Fatalf("expected generated secret to verify")
	}
	if Verify("wrong-secret", hash) {
		t.Fatalf("wrong secret must not verify")
	}
}

func TestGenerateUnique(t *testing.T) {
	a, _, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("two generated secrets collided")
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	_, hash, err := Generate()
	if err != nil {
		t.Fatal(err)
	}
	if Verify("", hash) {
		t.Fatalf("empty secret must not verify")
	}
	if Verify("anything", "") {
		t.Fatalf("missing stored hash must not verify")
	}
	if Verify("", "") {
		t.Fatalf("empty-empty must not verify")
	}
}

func TestHashStable(t *testing.T) {
	if Hash("token") != Hash("token") {
		t.Fatalf("hash must be deterministic")
	}
	if Hash(" token ") != Hash("token") {
		t.Fatalf("hash must trim surrounding whitespace")
	}
}
