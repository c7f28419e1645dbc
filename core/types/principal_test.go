package types

import (
	"strings"
	"testing"
)

func TestParsePrincipal(t *testing.T) {
	addr, err := ParsePrincipal(" 0x00000000000000000000000000000000000000aa ")
	if err != nil {
		t.Fatalf("parse principal: %v", err)
	}
	if addr[19] != 0xaa {
		t.Fatalf("unexpected address bytes: %x", addr)
	}
	if _, err := ParsePrincipal("0x1234"); err == nil {
		t.Fatalf("expected short address to fail")
	}
}

func TestParseDigestIsStrict(t *testing.T) {
	full := "0x" + strings.Repeat("ab", 32)
	digest, err := ParseDigest(full)
	if err != nil {
		t.Fatalf("parse digest: %v", err)
	}
	if digest.Hex() != full {
		t.Fatalf("unexpected digest: %s", digest.Hex())
	}
	if _, err := ParseDigest("0xabcd"); err == nil {
		t.Fatalf("expected truncated digest to fail")
	}
	if _, err := ParseDigest(strings.Repeat("zz", 32)); err == nil {
		t.Fatalf("expected non-hex digest to fail")
	}
}

func TestEventCloneIsDeep(t *testing.T) {
	evt := &Event{Type: "x", Attributes: map[string]string{"a": "1"}}
	clone := evt.Clone()
	clone.Attributes["a"] = "2"
	if evt.Attributes["a"] != "1" {
		t.Fatalf("clone shares attribute map")
	}
}
