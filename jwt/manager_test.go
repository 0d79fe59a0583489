package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func newEdManager(t *testing.T, ttl time.Duration) (*Manager, ed25519.PrivateKey) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(Config{
		AccessTTL:     ttl,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "posauth-test",
	})
	if err != nil {
		t.Fatal(err)
	}
	return m, priv
}

func TestCreateAndParse(t *testing.T) {
	m, _ := newEdManager(t, time.Minute)

	token, expiresAt, err := m.CreateAccess("u1", "manager", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatal("expiry in the past")
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UID != "u1" || claims.Role != "manager" || claims.SID != "s1" {
		t.Fatalf("claims: %+v", claims)
	}
	if claims.Issuer != "posauth-test" {
		t.Fatalf("issuer: %s", claims.Issuer)
	}
}

func TestParseExpired(t *testing.T) {
	m, _ := newEdManager(t, time.Millisecond)

	token, _, err := m.CreateAccess("u1", "cashier", "s1")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	if _, err := m.ParseAccess(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("got %v, want ErrExpired", err)
	}
}

func TestParseAccessClaimsToleratesExpiry(t *testing.T) {
	m, _ := newEdManager(t, time.Millisecond)

	token, _, err := m.CreateAccess("u1", "cashier", "s1")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)

	claims, err := m.ParseAccessClaims(token)
	if err != nil {
		t.Fatalf("expired token must still yield claims: %v", err)
	}
	if claims.UID != "u1" || claims.SID != "s1" {
		t.Fatalf("claims: %+v", claims)
	}

	// Signature checking is not relaxed.
	other, _ := newEdManager(t, time.Minute)
	if _, err := other.ParseAccessClaims(token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("got %v, want ErrInvalid", err)
	}
	if _, err := m.ParseAccessClaims("not.a.jwt"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("got %v, want ErrInvalid", err)
	}
}

func TestParseWrongKey(t *testing.T) {
	a, _ := newEdManager(t, time.Minute)
	b, _ := newEdManager(t, time.Minute)

	token, _, err := a.CreateAccess("u1", "cashier", "s1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.ParseAccess(token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("got %v, want ErrInvalid", err)
	}
}

func TestParseGarbage(t *testing.T) {
	m, _ := newEdManager(t, time.Minute)

	for _, token := range []string{"", "not.a.jwt", "aaaa.bbbb.cccc"} {
		if _, err := m.ParseAccess(token); !errors.Is(err, ErrInvalid) {
			t.Fatalf("token %q: got %v, want ErrInvalid", token, err)
		}
	}
}

func TestParseVerifiesWithPublicKeyOnly(t *testing.T) {
	signer, priv := newEdManager(t, time.Minute)

	verifier, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PublicKey:     priv.Public().(ed25519.PublicKey),
		Issuer:        "posauth-test",
	})
	if err != nil {
		t.Fatal(err)
	}

	token, _, err := signer.CreateAccess("u1", "cashier", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := verifier.ParseAccess(token); err != nil {
		t.Fatalf("public key verify: %v", err)
	}
}

func TestHS256RoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatal(err)
	}

	token, _, err := m.CreateAccess("u1", "cashier", "s1")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UID != "u1" {
		t.Fatalf("claims: %+v", claims)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	cases := []Config{
		{AccessTTL: 0, SigningMethod: MethodEd25519, PrivateKey: priv},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519},
		{AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: priv},
		{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, Leeway: 5 * time.Minute},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Errorf("case %d: expected config error", i)
		}
	}
}
