package bounty

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"zkbounty/core/types"
)

// Principal and Digest are re-exported so callers of the engine rarely need to
// import core/types directly.
type (
	Principal = types.Principal
	Digest    = types.Digest
)

// VaultAddress is the module account holding every escrowed reward. It is
// derived from a fixed label so no private key can control it.
var VaultAddress = common.BytesToAddress(crypto.Keccak256([]byte("zkbounty/escrow-vault"))[12:])

// Bounty captures a reward locked behind a commitment hash. The record is
// stored verbatim in state and encoded with RLP, hence unsigned timestamps.
type Bounty struct {
	ID             Digest
	Submitter      Principal
	BountyType     uint8
	Reward         *uint256.Int
	CommitmentHash Digest
	IsApproved     bool
	ApprovedHunter Principal
	CreatedAt      uint64
}

// Clone returns a deep copy of the bounty so callers can safely mutate the
// copy without affecting the stored instance.
func (b *Bounty) Clone() *Bounty {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Reward = types.EnsureBalance(b.Reward)
	return &clone
}

// Submission pairs a hunter with the report digest they submitted.
type Submission struct {
	Hunter Principal
	Digest Digest
}

// Engagement tracks the hunters registered to a bounty and their reports.
// Both slices keep insertion order so enumeration is deterministic.
type Engagement struct {
	Hunters []Principal
	Reports []Submission
}

// Clone returns a deep copy of the engagement.
func (g *Engagement) Clone() *Engagement {
	if g == nil {
		return &Engagement{}
	}
	return &Engagement{
		Hunters: append([]Principal(nil), g.Hunters...),
		Reports: append([]Submission(nil), g.Reports...),
	}
}

// IsRegistered reports whether hunter is part of the registered set.
func (g *Engagement) IsRegistered(hunter Principal) bool {
	if g == nil {
		return false
	}
	for _, existing := range g.Hunters {
		if existing == hunter {
			return true
		}
	}
	return false
}

// Register adds hunter to the registered set. It returns false when the
// hunter was already present.
func (g *Engagement) Register(hunter Principal) bool {
	if g.IsRegistered(hunter) {
		return false
	}
	g.Hunters = append(g.Hunters, hunter)
	return true
}

// ReportOf returns the digest submitted by hunter.
func (g *Engagement) ReportOf(hunter Principal) (Digest, bool) {
	if g == nil {
		return types.ZeroDigest, false
	}
	for _, sub := range g.Reports {
		if sub.Hunter == hunter {
			return sub.Digest, true
		}
	}
	return types.ZeroDigest, false
}

// SetReport records or overwrites the digest submitted by hunter.
func (g *Engagement) SetReport(hunter Principal, digest Digest) {
	for i := range g.Reports {
		if g.Reports[i].Hunter == hunter {
			g.Reports[i].Digest = digest
			return
		}
	}
	g.Reports = append(g.Reports, Submission{Hunter: hunter, Digest: digest})
}

// Reset clears hunters and reports, starting a fresh registration round.
func (g *Engagement) Reset() {
	g.Hunters = nil
	g.Reports = nil
}

// Empty reports whether the engagement holds no hunters and no reports.
func (g *Engagement) Empty() bool {
	return g == nil || (len(g.Hunters) == 0 && len(g.Reports) == 0)
}
