package bounty

import (
	"fmt"

	"github.com/holiman/uint256"

	"zkbounty/core/types"
)

// transfer moves amount between two accounts. A vault shortfall is reported as
// an invariant violation because every escrowed reward is backed 1:1.
func (e *Engine) transfer(from, to Principal, amount *uint256.Int) error {
	amt := types.EnsureBalance(amount)
	if amt.IsZero() || from == to {
		return nil
	}
	fromBal, err := e.state.AccountBalance(from)
	if err != nil {
		return err
	}
	fromBal = types.EnsureBalance(fromBal)
	if fromBal.Lt(amt) {
		if from == VaultAddress {
			return fmt.Errorf("%w: vault holds %s, transfer needs %s", ErrInvariantViolation, fromBal.Dec(), amt.Dec())
		}
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, fromBal.Dec(), amt.Dec())
	}
	toBal, err := e.state.AccountBalance(to)
	if err != nil {
		return err
	}
	toBal, overflow := new(uint256.Int).AddOverflow(types.EnsureBalance(toBal), amt)
	if overflow {
		return fmt.Errorf("%w: balance overflow for %s", ErrInvariantViolation, to.Hex())
	}
	if err := e.state.SetAccountBalance(from, new(uint256.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	return e.state.SetAccountBalance(to, toBal)
}

func (e *Engine) escrowCredit(id Digest, amount *uint256.Int) error {
	current, err := e.state.EscrowBalance(id)
	if err != nil {
		return err
	}
	updated, overflow := new(uint256.Int).AddOverflow(types.EnsureBalance(current), types.EnsureBalance(amount))
	if overflow {
		return fmt.Errorf("%w: escrow overflow for %s", ErrInvariantViolation, id.Hex())
	}
	return e.state.SetEscrowBalance(id, updated)
}

func (e *Engine) escrowRelease(id Digest, amount *uint256.Int) error {
	current, err := e.state.EscrowBalance(id)
	if err != nil {
		return err
	}
	current = types.EnsureBalance(current)
	amt := types.EnsureBalance(amount)
	if current.Lt(amt) {
		return fmt.Errorf("%w: escrow for %s holds %s, release needs %s", ErrInvariantViolation, id.Hex(), current.Dec(), amt.Dec())
	}
	return e.state.SetEscrowBalance(id, new(uint256.Int).Sub(current, amt))
}

// Credit mints amount into addr's account. It is used to seed balances from
// genesis allocations and never touches the vault.
func (e *Engine) Credit(addr Principal, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := validCaller(addr); err != nil {
		return err
	}
	current, err := e.state.AccountBalance(addr)
	if err != nil {
		return err
	}
	updated, overflow := new(uint256.Int).AddOverflow(types.EnsureBalance(current), types.EnsureBalance(amount))
	if overflow {
		return fmt.Errorf("%w: balance overflow for %s", ErrInvariantViolation, addr.Hex())
	}
	return e.state.SetAccountBalance(addr, updated)
}

// Balance returns the spendable balance of addr.
func (e *Engine) Balance(addr Principal) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	bal, err := e.state.AccountBalance(addr)
	if err != nil {
		return nil, err
	}
	return types.EnsureBalance(bal), nil
}

// EscrowBalance returns the amount earmarked for bounty id.
func (e *Engine) EscrowBalance(id Digest) (*uint256.Int, error) {
	if _, err := e.loadBounty(id); err != nil {
		return nil, err
	}
	bal, err := e.state.EscrowBalance(id)
	if err != nil {
		return nil, err
	}
	return types.EnsureBalance(bal), nil
}

// VaultBalance returns the total value held in escrow.
func (e *Engine) VaultBalance() (*uint256.Int, error) {
	return e.Balance(VaultAddress)
}
