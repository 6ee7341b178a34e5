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

// Package ledgeradapter adapts the generic remote.Canister opaque-call
// interface into the narrow Ledger/CyclesMinter/CyclesLedger interfaces
// internal/seed needs, targeting the local replica's well-known ICP
// ledger, cycles-minting, and cycles-ledger canisters. The wire encoding
// of each call's argument/response bytes is, like remote.Canister itself,
// out of scope for the core (spec.md §1); this adapter only fixes the
// method names and a minimal JSON envelope so `network start` seeding and
// `cycles mint` have something concrete to call through.
package ledgeradapter

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/icp-cli/icp/pkg/remote"
)

// Well-known canister ids on a managed local replica, matching the
// launcher's fixed deployment (spec.md §4.6's seeding description names
// these roles explicitly: "the minter principal", "the cycles-minting
// canister", "the cycles ledger").
const (
	LedgerCanisterID        = "ryjl3-tyaaa-aaaaa-aaaba-cai"
	CyclesMintingCanisterID = "rkp4c-7iaaa-aaaaa-aaaca-cai"
	CyclesLedgerCanisterID  = "um5iw-rqaaa-aaaaq-qaaba-cai"
)

// Adapter implements internal/seed's Ledger, CyclesMinter, and
// CyclesLedger interfaces over one remote.Canister.
type Adapter struct {
	RC remote.Canister
}

type transferArgs struct {
	To     []byte `json:"to"`
	Amount uint64 `json:"amount_e8s"`
}

type transferResult struct {
	BlockHeight uint64 `json:"block_height"`
}

func (a *Adapter) TransferFromMinter(ctx context.Context, to []byte, amountE8s uint64) (uint64, error) {
	arg, err := json.Marshal(transferArgs{To: to, Amount: amountE8s})
	if err != nil {
		return 0, err
	}
	out, err := a.RC.Call(ctx, LedgerCanisterID, "transfer_from_minter", arg)
	if err != nil {
		return 0, fmt.Errorf("ledgeradapter: transfer_from_minter: %w", err)
	}
	var res transferResult
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("ledgeradapter: decode transfer result: %w", err)
	}
	return res.BlockHeight, nil
}

func (a *Adapter) Balance(ctx context.Context, of []byte) (uint64, error) {
	out, err := a.RC.Call(ctx, LedgerCanisterID, "account_balance", of)
	if err != nil {
		return 0, fmt.Errorf("ledgeradapter: account_balance: %w", err)
	}
	if len(out) < 8 {
		return 0, fmt.Errorf("ledgeradapter: account_balance: short response")
	}
	return binary.BigEndian.Uint64(out[:8]), nil
}

func (a *Adapter) ExchangeRate(ctx context.Context) (uint64, error) {
	out, err := a.RC.Call(ctx, CyclesMintingCanisterID, "get_icp_xdr_conversion_rate", nil)
	if err != nil {
		return 0, fmt.Errorf("ledgeradapter: get_icp_xdr_conversion_rate: %w", err)
	}
	var rate struct {
		E8sPerTrillionCycles uint64 `json:"e8s_per_trillion_cycles"`
	}
	if err := json.Unmarshal(out, &rate); err != nil {
		return 0, fmt.Errorf("ledgeradapter: decode exchange rate: %w", err)
	}
	return rate.E8sPerTrillionCycles, nil
}

type notifyArgs struct {
	BlockHeight uint64 `json:"block_height"`
	AmountE8s   uint64 `json:"amount_e8s"`
	ToAccount   []byte `json:"to_account"`
	CallerSig   []byte `json:"caller_sig"`
}

func (a *Adapter) NotifyTopUp(ctx context.Context, blockHeight uint64, amountE8s uint64, cyclesAccount []byte, callerSig []byte) (uint64, error) {
	arg, err := json.Marshal(notifyArgs{BlockHeight: blockHeight, AmountE8s: amountE8s, ToAccount: cyclesAccount, CallerSig: callerSig})
	if err != nil {
		return 0, err
	}
	out, err := a.RC.Call(ctx, CyclesMintingCanisterID, "notify_top_up", arg)
	if err != nil {
		return 0, fmt.Errorf("ledgeradapter: notify_top_up: %w", err)
	}
	var res struct {
		Cycles uint64 `json:"cycles"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("ledgeradapter: decode notify result: %w", err)
	}
	return res.Cycles, nil
}

func (a *Adapter) CyclesBalance(ctx context.Context, of []byte) (uint64, error) {
	out, err := a.RC.Call(ctx, CyclesLedgerCanisterID, "balance", of)
	if err != nil {
		return 0, fmt.Errorf("ledgeradapter: cycles balance: %w", err)
	}
	if len(out) < 8 {
		return 0, fmt.Errorf("ledgeradapter: cycles balance: short response")
	}
	return binary.BigEndian.Uint64(out[:8]), nil
}
