package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Principal identifies an external caller. Only equality is meaningful.
type Principal = common.Address

// Digest is a 256-bit commitment or report hash.
type Digest = common.Hash

// ZeroDigest is the sentinel returned for hunters without a submitted report.
var ZeroDigest Digest

// ParsePrincipal decodes a 0x-prefixed 20 byte hex address.
func ParsePrincipal(raw string) (Principal, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return Principal{}, fmt.Errorf("invalid principal %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}

// ParseDigest decodes a 32 byte hex digest. The 0x prefix is optional but the
// length is strict so truncated values are rejected instead of left-padded.
func ParseDigest(raw string) (Digest, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != 2*common.HashLength {
		return Digest{}, fmt.Errorf("digest must be 32 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return Digest{}, fmt.Errorf("decode digest: %w", err)
	}
	return common.BytesToHash(decoded), nil
}
