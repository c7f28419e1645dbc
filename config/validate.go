package config

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	"zkbounty/core/types"
	"zkbounty/native/bounty"
	"zkbounty/observability/logging"
)

// MinHMACSecretLength is the shortest accepted bearer token secret.
var MinHMACSecretLength = 32

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if _, err := bounty.HasherByName(c.Hasher); err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if secret := c.Auth.HMACSecret; secret != "" && len(secret) < MinHMACSecretLength {
		return fmt.Errorf("auth: hmac secret must be at least %d bytes", MinHMACSecretLength)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample ratio must be within [0,1]")
	}
	if _, err := c.Genesis.Resolve(); err != nil {
		return err
	}
	return nil
}

// Resolve parses the genesis section. Allocations are sorted by address so the
// seeded state does not depend on map iteration order.
func (g Genesis) Resolve() (types.Genesis, error) {
	out := types.Genesis{}
	seen := make(map[types.Principal]struct{}, len(g.Allocations))
	for rawAddr, rawAmount := range g.Allocations {
		addr, err := types.ParsePrincipal(rawAddr)
		if err != nil {
			return types.Genesis{}, fmt.Errorf("genesis allocation: %w", err)
		}
		if addr == bounty.VaultAddress || addr == (types.Principal{}) {
			return types.Genesis{}, fmt.Errorf("genesis allocation: reserved address %s", addr.Hex())
		}
		if _, dup := seen[addr]; dup {
			return types.Genesis{}, fmt.Errorf("genesis allocation: duplicate address %s", addr.Hex())
		}
		seen[addr] = struct{}{}
		amount, err := uint256.FromDecimal(strings.TrimSpace(rawAmount))
		if err != nil {
			return types.Genesis{}, fmt.Errorf("genesis allocation %s: invalid amount %q: %w", addr.Hex(), rawAmount, err)
		}
		out.Allocations = append(out.Allocations, types.Allocation{Address: addr, Amount: amount})
	}
	sortAllocations(out.Allocations)
	issuers := make(map[types.Principal]struct{}, len(g.Issuers))
	for _, raw := range g.Issuers {
		addr, err := types.ParsePrincipal(raw)
		if err != nil {
			return types.Genesis{}, fmt.Errorf("genesis issuer: %w", err)
		}
		if _, dup := issuers[addr]; dup {
			return types.Genesis{}, fmt.Errorf("genesis issuer: duplicate address %s", addr.Hex())
		}
		issuers[addr] = struct{}{}
		out.Issuers = append(out.Issuers, addr)
	}
	return out, nil
}

func sortAllocations(allocs []types.Allocation) {
	sort.Slice(allocs, func(i, j int) bool {
		return bytes.Compare(allocs[i].Address.Bytes(), allocs[j].Address.Bytes()) < 0
	})
}
