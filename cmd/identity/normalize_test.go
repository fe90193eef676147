package identity

import "testing"

func TestNormalize_TrimAndLower(t *testing.T) {
	t.Parallel()

	if got := NormalizeUsername("  ReelFan42 "); got != "reelfan42" {
		t.Fatalf("NormalizeUsername = %q", got)
	}
	if got := NormalizeEmail("\tUser@Example.COM\n"); got != "user@example.com" {
		t.Fatalf("NormalizeEmail = %q", got)
	}
}

func TestCtEqHex64_LengthGate(t *testing.T) {
	t.Parallel()

	a := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	if !ctEqHex64(a, a) {
		t.Fatal("equal 64-char strings must compare true")
	}
	if ctEqHex64(a, a[:63]) {
		t.Fatal("length mismatch must compare false")
	}
	if ctEqHex64("", "") {
		t.Fatal("empty fingerprints must never match")
	}
}
