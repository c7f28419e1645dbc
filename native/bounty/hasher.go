package bounty

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"
)

// Hasher produces 256-bit digests. It is used to derive bounty identifiers and
// to digest report content off-ledger; commitment checks only compare digests.
type Hasher interface {
	Name() string
	Sum(parts ...[]byte) Digest
}

const (
	HasherKeccak256 = "keccak256"
	HasherBlake3    = "blake3"
	HasherSHA256    = "sha256"
)

type keccakHasher struct{}

func (keccakHasher) Name() string { return HasherKeccak256 }

func (keccakHasher) Sum(parts ...[]byte) Digest { return ethcrypto.Keccak256Hash(parts...) }

type blake3Hasher struct{}

func (blake3Hasher) Name() string { return HasherBlake3 }

func (blake3Hasher) Sum(parts ...[]byte) Digest {
	h := blake3.New(32, nil)
	for _, part := range parts {
		_, _ = h.Write(part)
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

type sha256Hasher struct{}

func (sha256Hasher) Name() string { return HasherSHA256 }

func (sha256Hasher) Sum(parts ...[]byte) Digest {
	h := sha256.New()
	for _, part := range parts {
		_, _ = h.Write(part)
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// DefaultHasher matches the keccak256 digests produced by Ethereum tooling.
func DefaultHasher() Hasher { return keccakHasher{} }

// HasherByName resolves a configured hasher. An empty name selects keccak256.
func HasherByName(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", HasherKeccak256, "keccak":
		return keccakHasher{}, nil
	case HasherBlake3:
		return blake3Hasher{}, nil
	case HasherSHA256:
		return sha256Hasher{}, nil
	default:
		return nil, fmt.Errorf("unsupported hasher %q", name)
	}
}

// DigestReport hashes report content the same way hunters are expected to
// before calling SubmitReport.
func DigestReport(h Hasher, content []byte) Digest {
	if h == nil {
		h = DefaultHasher()
	}
	return h.Sum(content)
}

// digestsEqual compares two digests in constant time.
func digestsEqual(a, b Digest) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
