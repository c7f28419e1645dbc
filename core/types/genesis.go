package types

import "github.com/holiman/uint256"

// Allocation credits an initial balance to an account.
type Allocation struct {
	Address Principal
	Amount  *uint256.Int
}

// Genesis describes the state seeded into an empty ledger.
type Genesis struct {
	Allocations []Allocation
	Issuers     []Principal
}

// Empty reports whether the genesis carries nothing to apply.
func (g Genesis) Empty() bool {
	return len(g.Allocations) == 0 && len(g.Issuers) == 0
}
