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

// Package progress unifies the pipelines' two overlapping progress-handler
// paths (multi-canister rows and a rolling-buffer-only transfer indicator)
// behind a single Sink interface, per-canister buffer isolation preserved.
package progress

import (
	"fmt"
	"sync"
)

const (
	rollingWindowLines = 4
	maxBufferedLines   = 10_000
)

// Sink is the terminal-UI-rendering collaborator every pipeline reports
// into. Implementations are free to ignore any method; the core never
// inspects a Sink's internal state.
type Sink interface {
	// SetRolling replaces the live rolling-window display for key (a
	// canister name, or a blob/transfer identifier).
	SetRolling(key string, lines []string)
	// Succeeded marks key's row as complete.
	Succeeded(key string)
	// Failed marks key's row as failed and dumps the complete buffer.
	Failed(key string, fullBuffer []string, err error)
	// SetProgress reports a monotonic byte-offset progress update for key.
	SetProgress(key string, offset, total uint64)
}

// NopSink discards everything; useful as a default in tests and
// non-interactive contexts.
type NopSink struct{}

func (NopSink) SetRolling(string, []string)       {}
func (NopSink) Succeeded(string)                  {}
func (NopSink) Failed(string, []string, error)    {}
func (NopSink) SetProgress(string, uint64, uint64) {}

// Buffer accumulates one key's line-oriented output: a capped 10,000-line
// complete buffer and a rolling window of the most recent 4 lines, as
// required by the build/sync step script contract.
type Buffer struct {
	mu       sync.Mutex
	lines    []string
	capped   bool
	key      string
	sink     Sink
}

// NewBuffer creates a Buffer reporting rolling-window updates to sink under
// key as lines are appended.
func NewBuffer(sink Sink, key string) *Buffer {
	if sink == nil {
		sink = NopSink{}
	}
	return &Buffer{sink: sink, key: key}
}

// Append adds one line of output, updating the rolling window live and
// retaining it in the complete buffer (until the 10,000-line cap).
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) < maxBufferedLines {
		b.lines = append(b.lines, line)
	} else {
		b.capped = true
	}
	b.sink.SetRolling(b.key, b.rollingLocked())
}

func (b *Buffer) rollingLocked() []string {
	if len(b.lines) <= rollingWindowLines {
		return append([]string(nil), b.lines...)
	}
	return append([]string(nil), b.lines[len(b.lines)-rollingWindowLines:]...)
}

// Lines returns the complete captured buffer, in order.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

// Succeeded reports success for this buffer's key.
func (b *Buffer) Succeeded() { b.sink.Succeeded(b.key) }

// Failed dumps the complete buffer to the sink, scoped to this key only —
// other canisters' buffers are untouched.
func (b *Buffer) Failed(err error) {
	b.sink.Failed(b.key, b.Lines(), err)
}

// Rows is a Sink that fans a multi-canister/multi-blob build or sync
// operation out into independently tracked per-key rows, matching the
// "per-task progress bar" requirement (§4.7). It wraps an underlying Sink
// that actually renders (or a NopSink in tests).
type Rows struct {
	mu   sync.Mutex
	sink Sink
	rows map[string]*rowState
}

type rowState struct {
	rolling []string
	offset  uint64
	total   uint64
	done    bool
	failed  bool
}

// NewRows builds a Rows sink delegating rendering to sink (NopSink if nil).
func NewRows(sink Sink) *Rows {
	if sink == nil {
		sink = NopSink{}
	}
	return &Rows{sink: sink, rows: map[string]*rowState{}}
}

func (r *Rows) row(key string) *rowState {
	st, ok := r.rows[key]
	if !ok {
		st = &rowState{}
		r.rows[key] = st
	}
	return st
}

func (r *Rows) SetRolling(key string, lines []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.row(key).rolling = lines
	r.sink.SetRolling(key, lines)
}

func (r *Rows) Succeeded(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.row(key).done = true
	r.sink.Succeeded(key)
}

func (r *Rows) Failed(key string, fullBuffer []string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.row(key).failed = true
	r.sink.Failed(key, fullBuffer, err)
}

func (r *Rows) SetProgress(key string, offset, total uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.row(key)
	if offset < st.offset {
		// The contract requires monotonic progress; a caller trying to
		// report a regression is a bug upstream, not something to render.
		return
	}
	st.offset, st.total = offset, total
	r.sink.SetProgress(key, offset, total)
}

// Summary renders a plain-text summary of all rows, useful for
// non-interactive (e.g. CI log) output.
func (r *Rows) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := ""
	for key, st := range r.rows {
		status := "running"
		switch {
		case st.failed:
			status = "failed"
		case st.done:
			status = "done"
		}
		out += fmt.Sprintf("%s: %s\n", key, status)
	}
	return out
}
