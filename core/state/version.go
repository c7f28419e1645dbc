package state

import (
	"errors"
	"fmt"
	"math"
)

// StateVersion identifies the expected on-disk schema layout for the ledger
// state. Increment this constant whenever breaking changes are made to the
// stored structure.
const StateVersion uint32 = 1

// ErrStateVersionMismatch indicates the stored schema version does not match
// the version supported by the current binary.
var ErrStateVersionMismatch = errors.New("state: schema version mismatch")

// SetStateVersion records the provided schema version in the transaction.
func (tx *Tx) SetStateVersion(version uint32) error {
	return tx.KVPut(stateVersionKey, uint64(version))
}

// StateVersion returns the stored schema version and a boolean indicating
// whether the value was present.
func (tx *Tx) StateVersion() (uint32, bool, error) {
	var stored uint64
	ok, err := tx.KVGet(stateVersionKey, &stored)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return 0, false, nil
	}
	if stored > uint64(math.MaxUint32) {
		return 0, false, fmt.Errorf("state: schema version overflow: %d", stored)
	}
	return uint32(stored), true, nil
}

// EnsureStateVersion verifies that the on-disk state version matches the
// version supported by this binary. An empty database is stamped with the
// current version. When allowMigrate is true, mismatches are tolerated so
// operators can perform manual migrations.
func (m *Manager) EnsureStateVersion(allowMigrate bool) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	tx := m.Begin()
	defer tx.Discard()
	version, ok, err := tx.StateVersion()
	if err != nil {
		return err
	}
	if !ok {
		if err := tx.SetStateVersion(StateVersion); err != nil {
			return err
		}
		return tx.Commit()
	}
	if version == StateVersion || allowMigrate {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
}
