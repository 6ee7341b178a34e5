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

// Package terminalsink is the default progress.Sink rendering to a plain
// terminal, colored the way the teacher's output-capture commands color
// success/failure lines with fatih/color.
package terminalsink

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Sink renders build/sync/transfer progress to out.
type Sink struct {
	out io.Writer

	mu   sync.Mutex
	done map[string]bool
}

// New builds a Sink writing to out.
func New(out io.Writer) *Sink {
	return &Sink{out: out, done: map[string]bool{}}
}

func (s *Sink) SetRolling(key string, lines []string) {}

func (s *Sink) Succeeded(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done[key] {
		return
	}
	s.done[key] = true
	fmt.Fprintln(s.out, color.GreenString("ok")+"  "+key)
}

// Failed prints the canister/blob's full captured output under a header
// line, the shape spec.md Scenario S1 requires ("Build output for canister
// %s:" followed by every captured line) before surfacing err.
func (s *Sink) Failed(key string, fullBuffer []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done[key] {
		return
	}
	s.done[key] = true
	fmt.Fprintln(s.out, color.RedString("failed")+"  "+key)
	fmt.Fprintf(s.out, "Build output for canister %s:\n", key)
	for _, line := range fullBuffer {
		fmt.Fprintln(s.out, line)
	}
	fmt.Fprintln(s.out, err.Error())
}

func (s *Sink) SetProgress(key string, offset, total uint64) {
	if total == 0 {
		return
	}
	fmt.Fprintf(s.out, "\r%s: %d/%d bytes", key, offset, total)
	if offset >= total {
		fmt.Fprintln(s.out)
	}
}
