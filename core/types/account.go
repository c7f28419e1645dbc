package types

import "github.com/holiman/uint256"

// Account is the balance view of a principal held by the ledger.
type Account struct {
	Address Principal    `json:"address"`
	Balance *uint256.Int `json:"balance"`
}

// EnsureBalance returns a non-nil copy of the supplied balance.
func EnsureBalance(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(v)
}
