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

package progress

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestBufferRollingWindowCapped(t *testing.T) {
	b := NewBuffer(NopSink{}, "counter")
	for i := 0; i < 10; i++ {
		b.Append(fmt.Sprintf("line %d", i))
	}
	if len(b.Lines()) != 10 {
		t.Fatalf("expected 10 retained lines, got %d", len(b.Lines()))
	}
	b.mu.Lock()
	rolling := b.rollingLocked()
	b.mu.Unlock()
	if len(rolling) != rollingWindowLines || rolling[0] != "line 6" {
		t.Fatalf("expected a rolling window of the last %d lines starting at %q, got %v", rollingWindowLines, "line 6", rolling)
	}
}

func TestBufferCapsAt10000Lines(t *testing.T) {
	b := NewBuffer(NopSink{}, "counter")
	for i := 0; i < maxBufferedLines+50; i++ {
		b.Append("x")
	}
	if len(b.Lines()) != maxBufferedLines {
		t.Fatalf("expected buffer capped at %d, got %d", maxBufferedLines, len(b.Lines()))
	}
}

type recordingSink struct {
	failedKeys []string
	failedBufs [][]string
}

func (s *recordingSink) SetRolling(string, []string) {}
func (s *recordingSink) Succeeded(string)             {}
func (s *recordingSink) Failed(key string, buf []string, err error) {
	s.failedKeys = append(s.failedKeys, key)
	s.failedBufs = append(s.failedBufs, buf)
}
func (s *recordingSink) SetProgress(string, uint64, uint64) {}

func TestFailedDumpIsScopedPerCanister(t *testing.T) {
	sink := &recordingSink{}
	a := NewBuffer(sink, "a")
	b := NewBuffer(sink, "b")
	a.Append("a output 1")
	b.Append("b output 1")
	b.Append("b output 2")

	a.Failed(errors.New("boom"))

	if len(sink.failedKeys) != 1 || sink.failedKeys[0] != "a" {
		t.Fatalf("expected only `a` to report failure, got %v", sink.failedKeys)
	}
	if len(sink.failedBufs[0]) != 1 {
		t.Fatalf("expected a's buffer to contain only its own lines, got %v", sink.failedBufs[0])
	}
}

func TestRowsProgressNeverRegresses(t *testing.T) {
	r := NewRows(nil)
	r.SetProgress("blob", 100, 1000)
	r.SetProgress("blob", 50, 1000) // regression, should be ignored
	r.mu.Lock()
	got := r.rows["blob"].offset
	r.mu.Unlock()
	if got != 100 {
		t.Fatalf("progress regressed: got offset %d, want 100", got)
	}
}

func TestRowsSummaryReflectsTerminalState(t *testing.T) {
	r := NewRows(nil)
	r.Succeeded("a")
	r.Failed("b", nil, errors.New("x"))
	summary := r.Summary()
	if summary == "" {
		t.Fatal("expected non-empty summary")
	}
	if !strings.Contains(summary, "a: done\n") || !strings.Contains(summary, "b: failed\n") {
		t.Fatalf("summary does not reflect terminal states: %q", summary)
	}
}
