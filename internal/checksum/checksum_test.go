package checksum

import "testing"

func TestSum_Deterministic(t *testing.T) {
	a := Sum("---\ntitle: Hello\n---\nBody\n")
	b := Sum("---\ntitle: Hello\n---\nBody\n")
	if a != b {
		t.Errorf("same input hashed differently: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Errorf("len(sum) = %d, want 16 hex chars", len(a))
	}
}

func TestSum_DetectsDrift(t *testing.T) {
	if Sum("one") == Sum("two") {
		t.Error("different content produced identical checksum")
	}
}

func TestShortCommit(t *testing.T) {
	got := ShortCommit("https://example.com/acme/site/commit/0a1b2c3d4e5f6789")
	if got != "0a1b2c3" {
		t.Errorf("ShortCommit = %q, want %q", got, "0a1b2c3")
	}
}

func TestShortCommit_ShortOID(t *testing.T) {
	if got := ShortCommit("https://example.com/commit/abc"); got != "abc" {
		t.Errorf("ShortCommit = %q, want %q", got, "abc")
	}
}

func TestShortCommit_Malformed(t *testing.T) {
	if got := ShortCommit(""); got != "" {
		t.Errorf("ShortCommit(\"\") = %q, want empty", got)
	}
	if got := ShortCommit("nopath"); got != "" {
		t.Errorf("ShortCommit(no slash) = %q, want empty", got)
	}
}
