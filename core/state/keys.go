package state

import (
	"encoding/binary"

	"zkbounty/core/types"
)

var (
	issuerPrefix         = []byte("issuer/")
	bountyRecordPrefix   = []byte("bounty/rec/")
	bountySequenceKey    = []byte("bounty/seq")
	bountyIndexLenKey    = []byte("bounty/index/len")
	bountyIndexAtPrefix  = []byte("bounty/index/at/")
	bountyIndexPosPrefix = []byte("bounty/index/pos/")
	engagementPrefix     = []byte("bounty/engagement/")
	escrowPrefix         = []byte("bounty/escrow/")
	accountPrefix        = []byte("account/")
	genesisKey           = []byte("meta/genesis")
	stateVersionKey      = []byte("meta/version")
)

func prefixed(prefix []byte, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return buf
}

// IssuerKey returns the registry key for addr.
func IssuerKey(addr types.Principal) []byte { return prefixed(issuerPrefix, addr.Bytes()) }

// BountyKey returns the record key for a bounty id.
func BountyKey(id types.Digest) []byte { return prefixed(bountyRecordPrefix, id.Bytes()) }

// BountyIndexAtKey returns the key of slot pos in the bounty id vector.
func BountyIndexAtKey(pos uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], pos)
	return prefixed(bountyIndexAtPrefix, buf[:])
}

// BountyIndexPosKey returns the key holding the vector position of id.
func BountyIndexPosKey(id types.Digest) []byte { return prefixed(bountyIndexPosPrefix, id.Bytes()) }

// EngagementKey returns the key holding hunters and reports for id.
func EngagementKey(id types.Digest) []byte { return prefixed(engagementPrefix, id.Bytes()) }

// EscrowKey returns the key holding the escrowed amount for id.
func EscrowKey(id types.Digest) []byte { return prefixed(escrowPrefix, id.Bytes()) }

// AccountKey returns the balance key for addr.
func AccountKey(addr types.Principal) []byte { return prefixed(accountPrefix, addr.Bytes()) }
