package session

import (
	"strings"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	s := NewTokenStore("secret", time.Minute, 100)

	tok, err := s.Issue("Alice", 7, "10.0.0.1:5555")
	if err != nil {
		t.Fatal(err)
	}
	name, cid, err := s.Validate(tok, "10.0.0.1:6666")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if name != "alice" || cid != 7 {
		t.Fatalf("got %s/%d, want alice/7", name, cid)
	}

	// Single-use: a second validation fails.
	if _, _, err := s.Validate(tok, "10.0.0.1:6666"); err != ErrTokenInvalid {
		t.Fatalf("reuse err = %v, want ErrTokenInvalid", err)
	}
}

func TestTokenTamperRejected(t *testing.T) {
	s := NewTokenStore("secret", time.Minute, 100)
	tok, err := s.Issue("alice", 1, "10.0.0.1:5555")
	if err != nil {
		t.Fatal(err)
	}

	payload, sig, _ := strings.Cut(tok, ".")
	forged := payload + "x." + sig
	if _, _, err := s.Validate(forged, ""); err != ErrTokenInvalid {
		t.Fatalf("forged payload err = %v", err)
	}
	if _, _, err := s.Validate(payload+"."+sig[1:], ""); err != ErrTokenInvalid {
		t.Fatalf("forged signature err = %v", err)
	}
	if _, _, err := s.Validate("garbage", ""); err != ErrTokenInvalid {
		t.Fatalf("garbage err = %v", err)
	}

	// Original token still lives; tampering must not consume it.
	if _, _, err := s.Validate(tok, ""); err != nil {
		t.Fatalf("original token rejected: %v", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	s := NewTokenStore("secret", 10*time.Millisecond, 100)
	tok, err := s.Issue("alice", 1, "10.0.0.1:5555")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, _, err := s.Validate(tok, ""); err != ErrTokenExpired {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestTokenAddressMismatch(t *testing.T) {
	s := NewTokenStore("secret", time.Minute, 100)
	tok, err := s.Issue("alice", 1, "10.0.0.1:5555")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Validate(tok, "10.9.9.9:5555"); err != ErrTokenInvalid {
		t.Fatalf("err = %v, want ErrTokenInvalid for new address", err)
	}
}

func TestTokenInvalidate(t *testing.T) {
	s := NewTokenStore("secret", time.Minute, 100)
	t1, _ := s.Issue("alice", 1, "10.0.0.1:5555")
	t2, _ := s.Issue("alice", 2, "10.0.0.1:5555")
	t3, _ := s.Issue("bob", 3, "10.0.0.2:5555")

	s.Invalidate(t1)
	if _, _, err := s.Validate(t1, ""); err != ErrTokenInvalid {
		t.Fatal("invalidated token still validates")
	}

	s.InvalidateName("ALICE")
	if _, _, err := s.Validate(t2, ""); err != ErrTokenInvalid {
		t.Fatal("name invalidation missed a token")
	}
	if _, _, err := s.Validate(t3, ""); err != nil {
		t.Fatalf("unrelated token dropped: %v", err)
	}
}

func TestTokenCapEvictsExpiredThenRefuses(t *testing.T) {
	s := NewTokenStore("secret", 5*time.Millisecond, 2)
	if _, err := s.Issue("a", 1, "10.0.0.1:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Issue("b", 2, "10.0.0.1:1"); err != nil {
		t.Fatal(err)
	}
	// Both live: refuse.
	if _, err := s.Issue("c", 3, "10.0.0.1:1"); err != ErrSessionCap {
		t.Fatalf("err = %v, want ErrSessionCap", err)
	}
	// After TTL the expired entries are evicted first.
	time.Sleep(10 * time.Millisecond)
	if _, err := s.Issue("c", 3, "10.0.0.1:1"); err != nil {
		t.Fatalf("issue after expiry eviction: %v", err)
	}
	if s.Count() != 1 {
		t.Fatalf("count = %d, want 1", s.Count())
	}
}
