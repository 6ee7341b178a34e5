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

package sync

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"
)

// bundleEntryPoint bundles dir/entry.js or dir/entry.ts with esbuild when
// present, the way the teacher's ftdetect package reaches for esbuild's Go
// API for frontend source rather than shelling out to a bundler binary.
// Returns the entry point's path and its bundled output; both zero values
// when an assets directory carries no entry point (the common case: a
// canister's asset directory is plain static files).
func bundleEntryPoint(dir string) (entry string, bundled []byte, err error) {
	for _, name := range []string{"entry.ts", "entry.js"} {
		candidate := filepath.Join(dir, name)
		if _, statErr := os.Stat(candidate); statErr == nil {
			entry = candidate
			break
		}
	}
	if entry == "" {
		return "", nil, nil
	}

	result := api.Build(api.BuildOptions{
		EntryPoints: []string{entry},
		Bundle:      true,
		Write:       false,
		LogLevel:    api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		return "", nil, fmt.Errorf("esbuild: %v", result.Errors)
	}
	if len(result.OutputFiles) == 0 {
		return "", nil, fmt.Errorf("esbuild: produced no output for %s", entry)
	}
	return entry, result.OutputFiles[0].Contents, nil
}
