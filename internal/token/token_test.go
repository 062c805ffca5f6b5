package token

import (
	"strings"
	"testing"
	"time"
)

func withNow(t *testing.T, at time.Time) func(time.Duration) {
	t.Helper()
	cur := at
	now = func() time.Time { return cur }
	t.Cleanup(func() { now = time.Now })
	return func(d time.Duration) { cur = cur.Add(d) }
}

func TestGenerateVerify(t *testing.T) {
	secret := []byte("secret")
	tok, err := Generate("pv-1", "visitor-9", secret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	c, err := Verify(tok, secret, time.Minute)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.PageViewID != "pv-1" || c.VisitorID != "visitor-9" {
		t.Fatalf("unexpected claims: %+v", c)
	}
}

func TestVerifyExpired(t *testing.T) {
	advance := withNow(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	secret := []byte("s")
	tok, err := Generate("pv", "", secret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	advance(2 * time.Hour)
	if _, err := Verify(tok, secret, time.Hour); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := Verify(tok, secret, 0); err != nil {
		t.Fatalf("zero ttl should not expire: %v", err)
	}
}

func TestVerifyInvalid(t *testing.T) {
	secret := []byte("s")
	tok, _ := Generate("pv", "", secret)

	cases := map[string]string{
		"tampered signature": tok + "x",
		"wrong secret":       "",
		"no separator":       strings.ReplaceAll(tok, ".", ""),
		"empty":              "",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			key := secret
			if name == "wrong secret" {
				in, key = tok, []byte("other")
			}
			if _, err := Verify(in, key, time.Minute); err != ErrInvalid {
				t.Fatalf("expected invalid, got %v", err)
			}
		})
	}
}

func TestVerifyFor(t *testing.T) {
	secret := []byte("s")
	tok, _ := Generate("pv-a", "", secret)
	if _, err := VerifyFor(tok, "pv-a", secret, time.Minute); err != nil {
		t.Fatalf("verify for own page view: %v", err)
	}
	if _, err := VerifyFor(tok, "pv-b", secret, time.Minute); err != ErrInvalid {
		t.Fatalf("token for another page view must be rejected, got %v", err)
	}
}

func TestGenerateValidation(t *testing.T) {
	if _, err := Generate("", "", []byte("s")); err == nil {
		t.Fatal("expected error for empty page view id")
	}
	if _, err := Generate("pv", strings.Repeat("v", MaxVisitorIDLength+1), []byte("s")); err == nil {
		t.Fatal("expected error for oversized visitor id")
	}
}
