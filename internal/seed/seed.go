// Copyright 2025 AUTHORS
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package seed implements NetworkSupervisor's token-seeding step (spec.md
// §4.6 "Seeding"): pre-funding named seed accounts on a freshly started
// managed network with both an ICP balance and a cycles balance, via the
// two-step path the cycles-minting canister requires (it refuses direct
// mint-memo transfers). This is also exercised standalone by a `cycles
// mint` CLI path, per SPEC_FULL.md §4 item 4, which is why the logic lives
// here rather than inlined into the supervisor.
package seed

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/icp-cli/icp/internal/principal"
	"github.com/icp-cli/icp/pkg/network"
)

// TargetICPBalance is the base-unit ICP balance every seeded account ends
// up with (spec.md Scenario S5: "1_000_000.00000000 ICP" ≈ 10^14 e8s).
const TargetICPBalance = 100_000_000_000_000 // e8s

// TargetCyclesBalance is the cycles balance every seeded account ends up
// with (spec.md Scenario S5: 1_000_000_000_000_000 cycles).
const TargetCyclesBalance = 1_000_000_000_000_000

// anonymousPrincipalText is skipped during seeding; the launcher itself
// seeds the anonymous principal (spec.md §4.6 "Seeding").
const anonymousPrincipalText = "2vxsx-fae"

// Ledger is the minimal ICP-ledger collaborator seeding needs: a
// mint-memo transfer from the well-known minter principal.
type Ledger interface {
	// TransferFromMinter moves amount e8s from the minter account to to,
	// returning the resulting block height.
	TransferFromMinter(ctx context.Context, to []byte, amountE8s uint64) (blockHeight uint64, err error)
	// Balance reports to's current ICP balance in e8s.
	Balance(ctx context.Context, of []byte) (uint64, error)
}

// CyclesMinter is the minimal cycles-minting-canister collaborator: it
// exchanges ICP (already transferred to a notify-designated account) for
// cycles credited to a cycles-ledger account, and reports the current
// ICP/XDR-derived exchange rate.
type CyclesMinter interface {
	// ExchangeRate returns the number of e8s the minting canister currently
	// charges per 10^12 cycles.
	ExchangeRate(ctx context.Context) (e8sPerTrillionCycles uint64, err error)
	// NotifyTopUp tells the minting canister that a transfer of amountE8s
	// ICP landed at blockHeight, earmarked (by memo) for minting cycles
	// into cyclesAccount. callerSig authenticates the notify call as the
	// holder of the ephemeral top-up account the ICP was routed through
	// (an ECDSA signature over blockHeight, amountE8s, and cyclesAccount),
	// the way the real minting canister ties a notify call to the account
	// that actually owns the transferred block. Returns the cycles
	// credited.
	NotifyTopUp(ctx context.Context, blockHeight uint64, amountE8s uint64, cyclesAccount []byte, callerSig []byte) (cyclesCredited uint64, err error)
}

// CyclesLedger reports a cycles-ledger account's balance, for the
// post-seed sanity check a `cycles mint`-style caller might want.
type CyclesLedger interface {
	Balance(ctx context.Context, of []byte) (uint64, error)
}

// Seeder mints ICP and cycles balances for a network's seed accounts,
// satisfying network.Seeder.
type Seeder struct {
	Ledger  Ledger
	Minter  CyclesMinter
	Cycles  CyclesLedger
	Resolve func(name string) ([]byte, error) // principal text/name -> raw bytes; defaults to principal.Parse
}

var _ network.Seeder = (*Seeder)(nil)

// NewSeeder builds a Seeder wired against the replica's ledger and
// cycles-minting-canister collaborators.
func NewSeeder(ledger Ledger, minter CyclesMinter, cycles CyclesLedger) *Seeder {
	return &Seeder{Ledger: ledger, Minter: minter, Cycles: cycles}
}

// Seed mints TargetICPBalance ICP and TargetCyclesBalance cycles for each
// of seedAccounts (skipping the anonymous principal, which the launcher
// seeds itself), per spec.md §4.6 "Seeding":
//
//  1. transfer ICP from the minter principal directly to the account;
//  2. route a second ICP transfer through a temporary per-account keypair
//     and notify the cycles-minting canister, which credits cycles to the
//     account's cycles-ledger balance — because the minting canister
//     refuses to credit cycles straight from a minter-memo transfer.
func (s *Seeder) Seed(ctx context.Context, access network.Access, seedAccounts []string) error {
	resolve := s.Resolve
	if resolve == nil {
		resolve = principal.Parse
	}

	rate, err := s.Minter.ExchangeRate(ctx)
	if err != nil {
		return fmt.Errorf("seed: fetch cycles exchange rate: %w", err)
	}
	if rate == 0 {
		return fmt.Errorf("seed: cycles-minting canister reported a zero exchange rate")
	}
	icpForCycles := (TargetCyclesBalance / 1_000_000_000_000) * rate

	for _, name := range seedAccounts {
		if name == anonymousPrincipalText {
			continue
		}
		account, err := resolve(name)
		if err != nil {
			return fmt.Errorf("seed: resolve seed account %q: %w", name, err)
		}

		if _, err := s.Ledger.TransferFromMinter(ctx, account, TargetICPBalance); err != nil {
			return fmt.Errorf("seed: fund ICP balance for %q: %w", name, err)
		}

		cyclesAccount, topUpKey, err := ephemeralCyclesAccount()
		if err != nil {
			return fmt.Errorf("seed: derive cycles top-up keypair for %q: %w", name, err)
		}

		height, err := s.Ledger.TransferFromMinter(ctx, cyclesAccount, icpForCycles)
		if err != nil {
			return fmt.Errorf("seed: fund cycles top-up transfer for %q: %w", name, err)
		}

		sig, err := signTopUp(topUpKey, height, icpForCycles, account)
		if err != nil {
			return fmt.Errorf("seed: sign cycles top-up notify for %q: %w", name, err)
		}
		if _, err := s.Minter.NotifyTopUp(ctx, height, icpForCycles, account, sig); err != nil {
			return fmt.Errorf("seed: notify cycles-minting canister for %q: %w", name, err)
		}
	}
	return nil
}

// signTopUp signs the notify call's (blockHeight, amountE8s, cyclesAccount)
// triple with the ephemeral top-up keypair, proving the caller is the one
// that owns the ICP block being notified rather than an unrelated party
// guessing at a block height.
func signTopUp(key *ecdsa.PrivateKey, blockHeight, amountE8s uint64, cyclesAccount []byte) ([]byte, error) {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], blockHeight)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], amountE8s)
	h.Write(buf[:])
	h.Write(cyclesAccount)
	return ecdsa.SignASN1(rand.Reader, key, h.Sum(nil))
}

// ephemeralCyclesAccount derives a throwaway principal used only as the
// ICP-ledger destination for the cycles top-up leg; the minting canister
// identifies the actual beneficiary via the notify call's target account,
// not this address, so the key is discarded immediately after use.
func ephemeralCyclesAccount() (account []byte, key *ecdsa.PrivateKey, err error) {
	key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	der, err := marshalPublicKey(key)
	if err != nil {
		return nil, nil, err
	}
	return principal.FromPublicKeyDER(der), key, nil
}

func marshalPublicKey(key *ecdsa.PrivateKey) ([]byte, error) {
	return elliptic.MarshalCompressed(key.PublicKey.Curve, key.PublicKey.X, key.PublicKey.Y), nil
}
