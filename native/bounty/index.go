package bounty

import "fmt"

type indexStore interface {
	BountyIndexLen() (uint64, error)
	SetBountyIndexLen(n uint64) error
	BountyIndexAt(pos uint64) (Digest, bool, error)
	SetBountyIndexAt(pos uint64, id Digest) error
	DeleteBountyIndexAt(pos uint64) error
	BountyIndexPosition(id Digest) (uint64, bool, error)
	SetBountyIndexPosition(id Digest, pos uint64) error
	DeleteBountyIndexPosition(id Digest) error
}

// bountyIndex is a dense vector of live bounty ids plus an id->position map.
// Removal moves the last id into the freed slot, so enumeration order is only
// stable until the first withdrawal.
type bountyIndex struct {
	store indexStore
}

func (e *Engine) index() bountyIndex { return bountyIndex{store: e.state} }

func (ix bountyIndex) append(id Digest) error {
	if _, ok, err := ix.store.BountyIndexPosition(id); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s already indexed", ErrInvariantViolation, id.Hex())
	}
	n, err := ix.store.BountyIndexLen()
	if err != nil {
		return err
	}
	if err := ix.store.SetBountyIndexAt(n, id); err != nil {
		return err
	}
	if err := ix.store.SetBountyIndexPosition(id, n); err != nil {
		return err
	}
	return ix.store.SetBountyIndexLen(n + 1)
}

func (ix bountyIndex) remove(id Digest) error {
	pos, ok, err := ix.store.BountyIndexPosition(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s not indexed", ErrInvariantViolation, id.Hex())
	}
	n, err := ix.store.BountyIndexLen()
	if err != nil {
		return err
	}
	if n == 0 || pos >= n {
		return fmt.Errorf("%w: position %d outside index of length %d", ErrInvariantViolation, pos, n)
	}
	last := n - 1
	if pos != last {
		lastID, ok, err := ix.store.BountyIndexAt(last)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: index slot %d empty", ErrInvariantViolation, last)
		}
		if err := ix.store.SetBountyIndexAt(pos, lastID); err != nil {
			return err
		}
		if err := ix.store.SetBountyIndexPosition(lastID, pos); err != nil {
			return err
		}
	}
	if err := ix.store.DeleteBountyIndexAt(last); err != nil {
		return err
	}
	if err := ix.store.DeleteBountyIndexPosition(id); err != nil {
		return err
	}
	return ix.store.SetBountyIndexLen(last)
}

func (ix bountyIndex) at(pos uint64) (Digest, error) {
	n, err := ix.store.BountyIndexLen()
	if err != nil {
		return Digest{}, err
	}
	if pos >= n {
		return Digest{}, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfBounds, pos, n)
	}
	id, ok, err := ix.store.BountyIndexAt(pos)
	if err != nil {
		return Digest{}, err
	}
	if !ok {
		return Digest{}, fmt.Errorf("%w: index slot %d empty", ErrInvariantViolation, pos)
	}
	return id, nil
}

func (ix bountyIndex) list() ([]Digest, error) {
	n, err := ix.store.BountyIndexLen()
	if err != nil {
		return nil, err
	}
	ids := make([]Digest, 0, n)
	for i := uint64(0); i < n; i++ {
		id, err := ix.at(i)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
