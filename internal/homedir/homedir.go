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

// Package homedir resolves the global OS-user-scoped directory every
// component that persists cross-project state (IdStore, port-claim
// directory, identity KeyStore) roots itself under.
package homedir

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

// EnvOverride is the environment variable that overrides the resolved
// directory entirely.
const EnvOverride = "ICP_HOME"

// Dir returns the icp-cli global state directory: $ICP_HOME if set,
// otherwise "<user home>/.config/icp".
func Dir() (string, error) {
	if v := os.Getenv(EnvOverride); v != "" {
		return v, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "icp"), nil
}

// Sub returns Dir() joined with the given path elements, creating it if
// necessary.
func Sub(elem ...string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	full := filepath.Join(append([]string{dir}, elem...)...)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", err
	}
	return full, nil
}
