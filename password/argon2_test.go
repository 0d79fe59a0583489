package password

import (
	"strings"
	"testing"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()

	// Minimum legal cost keeps the test suite fast.
	h, err := New(Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher(t)

	encoded, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$") {
		t.Fatalf("unexpected encoding: %s", encoded)
	}

	ok, err := h.Verify("correct-horse-battery", encoded)
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}

	ok, err = h.Verify("wrong-password-here", encoded)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("wrong password verified")
	}
}

func TestHashesAreSalted(t *testing.T) {
	h := testHasher(t)

	a, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatal(err)
	}
	b, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("two hashes of the same password must differ")
	}
}

func TestHashRejectsShortPassword(t *testing.T) {
	h := testHasher(t)

	if _, err := h.Hash("short"); err == nil {
		t.Fatal("expected length error")
	}
}

func TestHashPinValidation(t *testing.T) {
	h := testHasher(t)

	for _, pin := range []string{"4321", "12345678"} {
		encoded, err := h.HashPin(pin)
		if err != nil {
			t.Fatalf("pin %q: %v", pin, err)
		}
		ok, err := h.Verify(pin, encoded)
		if err != nil || !ok {
			t.Fatalf("pin %q verify: ok=%v err=%v", pin, ok, err)
		}
	}

	for _, pin := range []string{"123", "123456789", "12a4", "", "12.4"} {
		if _, err := h.HashPin(pin); err == nil {
			t.Fatalf("pin %q should be rejected", pin)
		}
	}
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	h := testHasher(t)

	encoded, err := h.Hash("correct-horse-battery")
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(encoded, "$")

	cases := map[string]string{
		"empty":              "",
		"not phc":            "plaintext",
		"wrong algorithm":    strings.Replace(encoded, "argon2id", "argon2i", 1),
		"wrong version":      strings.Replace(encoded, parts[2], "v=13", 1),
		"bad params":         strings.Replace(encoded, parts[3], "m=0,t=0,p=0", 1),
		"missing params":     strings.Replace(encoded, parts[3], "m=8192,t=1", 1),
		"bad salt encoding":  strings.Replace(encoded, parts[4], "***", 1),
		"truncated sections": "$argon2id$v=19$m=8192,t=1,p=1",
	}

	for name, bad := range cases {
		if _, err := h.Verify("correct-horse-battery", bad); err == nil {
			t.Errorf("%s: expected parse error", name)
		}
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak := testHasher(t)
	encoded, err := weak.Hash("correct-horse-battery")
	if err != nil {
		t.Fatal(err)
	}

	upgrade, err := weak.NeedsUpgrade(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if upgrade {
		t.Fatal("hash at current parameters should not need upgrade")
	}

	strong, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	upgrade, err = strong.NeedsUpgrade(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if !upgrade {
		t.Fatal("hash below current parameters should need upgrade")
	}
}

func TestNewRejectsWeakConfig(t *testing.T) {
	cases := []Config{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
	}
	for i, cfg := range cases {
		if _, err := New(cfg); err == nil {
			t.Errorf("case %d: expected config error", i)
		}
	}
}
