package internal

import (
	"strings"
	"testing"
)

func TestRefreshTokenRoundTrip(t *testing.T) {
	id, err := NewTokenID()
	if err != nil {
		t.Fatal(err)
	}
	secret, err := NewRefreshSecret()
	if err != nil {
		t.Fatal(err)
	}

	token, err := EncodeRefreshToken(id.String(), secret)
	if err != nil {
		t.Fatal(err)
	}

	gotID, gotSecret, err := DecodeRefreshToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if gotID != id.String() {
		t.Fatalf("id: got %s want %s", gotID, id.String())
	}
	if gotSecret != secret {
		t.Fatal("secret mismatch")
	}
}

func TestDecodeRefreshTokenRejectsMalformed(t *testing.T) {
	for _, token := range []string{"", "!!!not-base64!!!", "c2hvcnQ"} {
		if _, _, err := DecodeRefreshToken(token); err == nil {
			t.Fatalf("token %q: expected error", token)
		}
	}
}

func TestParseTokenIDSize(t *testing.T) {
	id, err := NewTokenID()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseTokenID(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != id {
		t.Fatal("round trip mismatch")
	}

	if _, err := ParseTokenID("dG9vc2hvcnQ"); err == nil {
		t.Fatal("expected size error")
	}
}

func TestCSRFBinding(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	token, err := NewCSRFToken(key, "session-a")
	if err != nil {
		t.Fatal(err)
	}

	if !VerifyCSRFBinding(key, "session-a", token) {
		t.Fatal("token must verify against its own session")
	}
	if VerifyCSRFBinding(key, "session-b", token) {
		t.Fatal("token must not verify against another session")
	}
	if VerifyCSRFBinding([]byte("another-key-entirely-32-bytes!!!"), "session-a", token) {
		t.Fatal("token must not verify under a different key")
	}
}

func TestCSRFBindingRejectsTampering(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	token, err := NewCSRFToken(key, "session-a")
	if err != nil {
		t.Fatal(err)
	}

	flipped := []byte(token)
	if flipped[0] == 'A' {
		flipped[0] = 'B'
	} else {
		flipped[0] = 'A'
	}
	if VerifyCSRFBinding(key, "session-a", string(flipped)) {
		t.Fatal("tampered token verified")
	}

	if VerifyCSRFBinding(key, "session-a", "") {
		t.Fatal("empty token verified")
	}
	if VerifyCSRFBinding(key, "session-a", strings.Repeat("A", 20)) {
		t.Fatal("short token verified")
	}
}

func TestTokensAreUnique(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		token, err := NewCSRFToken(key, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if seen[token] {
			t.Fatal("duplicate CSRF token")
		}
		seen[token] = true
	}
}
