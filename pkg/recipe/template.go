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

package recipe

import (
	"fmt"
	"regexp"
	"strings"
)

// Render implements the handlebars-style contract spec.md §9 leaves
// open: `{{var}}` substitution in strict mode (an undefined variable is a
// render error, not an empty string), plus a three-argument
// `{{replace from to value}}` helper. Any engine satisfying this contract
// is acceptable; this one is hand-rolled because the contract is small and
// none of the example repos carry a general-purpose handlebars engine the
// way this module would need (strict mode plus a custom helper).
var (
	helperRe = regexp.MustCompile(`\{\{\s*replace\s+"((?:[^"\\]|\\.)*)"\s+"((?:[^"\\]|\\.)*)"\s+([A-Za-z_][\w.]*)\s*\}\}`)
	varRe    = regexp.MustCompile(`\{\{\s*([A-Za-z_][\w.]*)\s*\}\}`)
)

// Render expands tmpl against configuration. Every `{{var}}` must resolve
// to a scalar in configuration (dotted paths index into nested maps);
// failing to resolve is a render error (strict mode).
func Render(tmpl string, configuration map[string]any) (string, error) {
	var missing []string

	out := helperRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := helperRe.FindStringSubmatch(match)
		from, to, varName := unescape(sub[1]), unescape(sub[2]), sub[3]
		val, ok := lookup(configuration, varName)
		if !ok {
			missing = append(missing, varName)
			return match
		}
		return strings.ReplaceAll(fmt.Sprint(val), from, to)
	})

	out = varRe.ReplaceAllStringFunc(out, func(match string) string {
		sub := varRe.FindStringSubmatch(match)
		varName := sub[1]
		val, ok := lookup(configuration, varName)
		if !ok {
			missing = append(missing, varName)
			return match
		}
		return fmt.Sprint(val)
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("undefined template variable(s) in strict mode: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func unescape(s string) string {
	return strings.ReplaceAll(s, `\"`, `"`)
}

func lookup(configuration map[string]any, dotted string) (any, bool) {
	parts := strings.Split(dotted, ".")
	var cur any = configuration
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
