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

// Package canistercreate implements `canister create`'s subnet
// co-location rule on a cycles-ledger managed network: canisters created
// without an explicit `--subnet` join whatever subnet the project's other
// canisters already sit on, or a freshly sampled one if none do yet. A
// project whose existing canisters disagree on subnet can no longer be
// auto-assigned and must be disambiguated with `--subnet` (spec Scenario
// S6).
package canistercreate

import (
	"fmt"
	"sort"
	"strings"
)

// AmbiguousSubnetError is returned when the canisters needing auto subnet
// assignment have siblings split across more than one subnet.
type AmbiguousSubnetError struct {
	Canister    string
	Assignments map[string]string // canister name -> subnet, of every conflicting sibling
}

func (e *AmbiguousSubnetError) Error() string {
	names := make([]string, 0, len(e.Assignments))
	for n := range e.Assignments {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s->%s", n, e.Assignments[n]))
	}
	return fmt.Sprintf("canistercreate: cannot auto-assign a subnet for %q: existing canisters disagree (%s); pass --subnet explicitly",
		e.Canister, strings.Join(parts, ", "))
}

// Picker chooses an index in [0, n) to sample a subnet when no existing
// assignment constrains the choice. Production wiring uses a
// cryptographically uninteresting uniform pick; tests inject a
// deterministic one.
type Picker func(n int) int

// AssignSubnets resolves the subnet each canister in toCreate will be
// created on.
//
//   - existing is every already-created canister's subnet assignment in
//     this environment (from a prior `create` call).
//   - explicit is this invocation's `--subnet` overrides, keyed by
//     canister name; these are taken as given and also treated as
//     siblings for the purpose of co-locating the rest of toCreate.
//   - subnets is the managed network's configured subnet list, sampled
//     from when no existing assignment constrains the pick.
//
// Returns the subnet assignment for every member of toCreate (including
// those already present in explicit).
func AssignSubnets(toCreate []string, existing, explicit map[string]string, subnets []string, pick Picker) (map[string]string, error) {
	known := make(map[string]string, len(existing)+len(explicit))
	for name, subnet := range existing {
		known[name] = subnet
	}
	for name, subnet := range explicit {
		known[name] = subnet
	}

	result := make(map[string]string, len(toCreate))
	for _, name := range toCreate {
		if subnet, ok := explicit[name]; ok {
			result[name] = subnet
			continue
		}

		distinct := distinctSubnets(known)
		switch len(distinct) {
		case 0:
			if len(subnets) == 0 {
				return nil, fmt.Errorf("canistercreate: no subnets configured to sample from")
			}
			chosen := subnets[pick(len(subnets))]
			known[name] = chosen
			result[name] = chosen
		case 1:
			chosen := distinct[0]
			known[name] = chosen
			result[name] = chosen
		default:
			return nil, &AmbiguousSubnetError{Canister: name, Assignments: copyMap(known)}
		}
	}
	return result, nil
}

func distinctSubnets(known map[string]string) []string {
	seen := map[string]bool{}
	var out []string
	for _, subnet := range known {
		if !seen[subnet] {
			seen[subnet] = true
			out = append(out, subnet)
		}
	}
	sort.Strings(out)
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
