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

// Package settingsupdate implements `canister settings update`'s
// add/remove/set controller semantics (SPEC_FULL.md §4 item 2):
// --add-controller/--remove-controller read-modify-write the canister's
// current controller list, while --set-controller replaces it outright.
// The two styles are mutually exclusive on a single invocation.
package settingsupdate

import (
	"errors"
	"fmt"

	"github.com/icp-cli/icp/pkg/project"
)

// ErrMixedControllerFlags is returned when an invocation mixes
// --set-controller with --add-controller/--remove-controller: "set"
// overrides the list outright and cannot be combined with incremental
// edits.
var ErrMixedControllerFlags = errors.New("settingsupdate: --set-controller cannot be combined with --add-controller/--remove-controller")

// ControllerEdit is the parsed controller-related flag state for one
// `canister settings update` invocation.
type ControllerEdit struct {
	Add    []string // --add-controller, repeatable
	Remove []string // --remove-controller, repeatable
	Set    []string // --set-controller, repeatable; mutually exclusive with Add/Remove
}

// ResolveControllers applies edit against current (the canister's
// existing controller list, as currently reported by RemoteCanister) and
// returns the new list to submit.
func ResolveControllers(current []string, edit ControllerEdit) ([]string, error) {
	if len(edit.Set) > 0 && (len(edit.Add) > 0 || len(edit.Remove) > 0) {
		return nil, ErrMixedControllerFlags
	}
	if len(edit.Set) > 0 {
		return dedupe(edit.Set), nil
	}

	result := append([]string(nil), current...)
	for _, c := range edit.Add {
		if !contains(result, c) {
			result = append(result, c)
		}
	}
	if len(edit.Remove) > 0 {
		remove := make(map[string]bool, len(edit.Remove))
		for _, c := range edit.Remove {
			remove[c] = true
		}
		kept := result[:0]
		for _, c := range result {
			if !remove[c] {
				kept = append(kept, c)
			}
		}
		result = kept
	}
	return result, nil
}

// FieldEdit carries the scalar settings fields `canister settings update`
// can overwrite wholesale (every flag in §6's "settings-flags…" family
// other than controllers); nil pointers mean "leave unchanged".
type FieldEdit struct {
	ComputeAllocation   *uint64
	MemoryAllocation    *uint64
	FreezingThreshold   *uint64
	ReservedCyclesLimit *uint64
	WasmMemoryLimit     *uint64
	WasmMemoryThreshold *uint64
	LogVisibility       *project.LogVisibility
}

// ApplyFields merges edit onto current, returning the settings to submit.
// Unlike controllers, scalar fields always overwrite (there is no
// incremental add/remove for a single-valued setting).
func ApplyFields(current project.Settings, edit FieldEdit) project.Settings {
	result := current
	if edit.ComputeAllocation != nil {
		result.ComputeAllocation = edit.ComputeAllocation
	}
	if edit.MemoryAllocation != nil {
		result.MemoryAllocation = edit.MemoryAllocation
	}
	if edit.FreezingThreshold != nil {
		result.FreezingThreshold = edit.FreezingThreshold
	}
	if edit.ReservedCyclesLimit != nil {
		result.ReservedCyclesLimit = edit.ReservedCyclesLimit
	}
	if edit.WasmMemoryLimit != nil {
		result.WasmMemoryLimit = edit.WasmMemoryLimit
	}
	if edit.WasmMemoryThreshold != nil {
		result.WasmMemoryThreshold = edit.WasmMemoryThreshold
	}
	if edit.LogVisibility != nil {
		result.LogVisibility = *edit.LogVisibility
	}
	return result
}

// ValidateComputeAllocation enforces the 0..=100 range invariant (spec.md
// §3 Canister.Settings).
func ValidateComputeAllocation(pct uint64) error {
	if pct > 100 {
		return fmt.Errorf("settingsupdate: compute-allocation must be 0..=100, got %d", pct)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, c := range list {
		if c == s {
			return true
		}
	}
	return false
}

func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	var out []string
	for _, c := range list {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
