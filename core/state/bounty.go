package state

import (
	"fmt"

	"github.com/holiman/uint256"

	"zkbounty/core/types"
	"zkbounty/native/bounty"
)

// The methods below let a Tx serve as the bounty engine's state backend.

func (tx *Tx) IssuerExists(addr types.Principal) (bool, error) {
	var registered bool
	ok, err := tx.KVGet(IssuerKey(addr), &registered)
	if err != nil {
		return false, err
	}
	return ok && registered, nil
}

func (tx *Tx) IssuerPut(addr types.Principal) error {
	return tx.KVPut(IssuerKey(addr), true)
}

func (tx *Tx) BountySequence() (uint64, error) {
	var seq uint64
	if _, err := tx.KVGet(bountySequenceKey, &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (tx *Tx) SetBountySequence(seq uint64) error {
	return tx.KVPut(bountySequenceKey, seq)
}

func (tx *Tx) BountyGet(id types.Digest) (*bounty.Bounty, bool, error) {
	b := new(bounty.Bounty)
	ok, err := tx.KVGet(BountyKey(id), b)
	if err != nil || !ok {
		return nil, false, err
	}
	b.Reward = types.EnsureBalance(b.Reward)
	return b, true, nil
}

func (tx *Tx) BountyPut(b *bounty.Bounty) error {
	if b == nil {
		return fmt.Errorf("state: nil bounty")
	}
	record := b.Clone()
	return tx.KVPut(BountyKey(record.ID), record)
}

func (tx *Tx) BountyDelete(id types.Digest) error {
	return tx.KVDelete(BountyKey(id))
}

func (tx *Tx) BountyIndexLen() (uint64, error) {
	var n uint64
	if _, err := tx.KVGet(bountyIndexLenKey, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (tx *Tx) SetBountyIndexLen(n uint64) error {
	if n == 0 {
		return tx.KVDelete(bountyIndexLenKey)
	}
	return tx.KVPut(bountyIndexLenKey, n)
}

func (tx *Tx) BountyIndexAt(pos uint64) (types.Digest, bool, error) {
	var id types.Digest
	ok, err := tx.KVGet(BountyIndexAtKey(pos), &id)
	return id, ok, err
}

func (tx *Tx) SetBountyIndexAt(pos uint64, id types.Digest) error {
	return tx.KVPut(BountyIndexAtKey(pos), id)
}

func (tx *Tx) DeleteBountyIndexAt(pos uint64) error {
	return tx.KVDelete(BountyIndexAtKey(pos))
}

func (tx *Tx) BountyIndexPosition(id types.Digest) (uint64, bool, error) {
	var pos uint64
	ok, err := tx.KVGet(BountyIndexPosKey(id), &pos)
	return pos, ok, err
}

func (tx *Tx) SetBountyIndexPosition(id types.Digest, pos uint64) error {
	return tx.KVPut(BountyIndexPosKey(id), pos)
}

func (tx *Tx) DeleteBountyIndexPosition(id types.Digest) error {
	return tx.KVDelete(BountyIndexPosKey(id))
}

func (tx *Tx) EngagementGet(id types.Digest) (*bounty.Engagement, bool, error) {
	g := new(bounty.Engagement)
	ok, err := tx.KVGet(EngagementKey(id), g)
	if err != nil || !ok {
		return nil, false, err
	}
	return g, true, nil
}

func (tx *Tx) EngagementPut(id types.Digest, g *bounty.Engagement) error {
	return tx.KVPut(EngagementKey(id), g.Clone())
}

func (tx *Tx) EngagementDelete(id types.Digest) error {
	return tx.KVDelete(EngagementKey(id))
}

func (tx *Tx) EscrowBalance(id types.Digest) (*uint256.Int, error) {
	return tx.amount(EscrowKey(id))
}

func (tx *Tx) SetEscrowBalance(id types.Digest, amount *uint256.Int) error {
	return tx.setAmount(EscrowKey(id), amount)
}

func (tx *Tx) AccountBalance(addr types.Principal) (*uint256.Int, error) {
	return tx.amount(AccountKey(addr))
}

func (tx *Tx) SetAccountBalance(addr types.Principal, amount *uint256.Int) error {
	return tx.setAmount(AccountKey(addr), amount)
}

func (tx *Tx) amount(key []byte) (*uint256.Int, error) {
	value := new(uint256.Int)
	if _, err := tx.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

// setAmount stores amount under key; zero amounts delete the key so drained
// escrows and empty accounts leave no residue.
func (tx *Tx) setAmount(key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return tx.KVDelete(key)
	}
	return tx.KVPut(key, amount)
}

// GenesisApplied reports whether the genesis allocations were already applied.
func (tx *Tx) GenesisApplied() (bool, error) {
	var applied bool
	ok, err := tx.KVGet(genesisKey, &applied)
	if err != nil {
		return false, err
	}
	return ok && applied, nil
}

// MarkGenesisApplied records that genesis allocations have been applied.
func (tx *Tx) MarkGenesisApplied() error {
	return tx.KVPut(genesisKey, true)
}
