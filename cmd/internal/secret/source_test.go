package secret

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	src := NewSource("BOUNTY_AUTH_SECRET", "secret: ").WithLookup(func(key string) (string, bool) {
		if key != "BOUNTY_AUTH_SECRET" {
			t.Fatalf("unexpected lookup %s", key)
		}
		return "  from-env  ", true
	})
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "from-env" {
		t.Fatalf("expected trimmed env value, got %q", got)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	src := NewSource("BOUNTY_AUTH_SECRET", "").WithLookup(func(string) (string, bool) { return "   ", true })
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "stdin"))
	if err != nil {
		t.Fatalf("create stdin: %v", err)
	}
	defer f.Close()

	src := NewSource("BOUNTY_AUTH_SECRET", "").WithLookup(func(string) (string, bool) { return "", false })
	src.stdin = f
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected error without terminal")
	}
}
