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

package snapshot

import (
	"math/rand"
	"testing"
)

// TestMarkCompleteRoundTrip is testable property 1: for any download
// transcript touching every chunk exactly once in some permutation, the
// final progress satisfies frontier == total and ahead == empty.
func TestMarkCompleteRoundTrip(t *testing.T) {
	const total = 3*MaxChunkSize + 1000
	offsets := ChunkOffsets(total)

	for trial := 0; trial < 20; trial++ {
		perm := append([]uint64(nil), offsets...)
		rand.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		p := newBlobDownloadProgress()
		for _, off := range perm {
			p.MarkComplete(off, total)
		}
		if p.Frontier != total {
			t.Fatalf("trial %d: frontier = %d, want %d", trial, p.Frontier, total)
		}
		if len(p.Ahead) != 0 {
			t.Fatalf("trial %d: ahead = %v, want empty", trial, p.Ahead)
		}
	}
}

// TestMarkCompleteMonotonic is testable property 2: the frontier sequence
// is non-decreasing and always a valid chunk boundary.
func TestMarkCompleteMonotonic(t *testing.T) {
	const total = 5 * MaxChunkSize
	offsets := ChunkOffsets(total)
	rand.Shuffle(len(offsets), func(i, j int) { offsets[i], offsets[j] = offsets[j], offsets[i] })

	p := newBlobDownloadProgress()
	last := uint64(0)
	for _, off := range offsets {
		p.MarkComplete(off, total)
		if p.Frontier < last {
			t.Fatalf("frontier regressed: %d -> %d", last, p.Frontier)
		}
		if p.Frontier%MaxChunkSize != 0 && p.Frontier != total {
			t.Fatalf("frontier %d is not a chunk boundary", p.Frontier)
		}
		last = p.Frontier
	}
}

// TestMarkCompleteNoDoubleCount is testable property 3.
func TestMarkCompleteNoDoubleCount(t *testing.T) {
	const total = 2 * MaxChunkSize
	p := newBlobDownloadProgress()
	p.MarkComplete(MaxChunkSize, total)
	wantFrontier, wantAheadLen := p.Frontier, len(p.Ahead)
	p.MarkComplete(MaxChunkSize, total)
	if p.Frontier != wantFrontier || len(p.Ahead) != wantAheadLen {
		t.Fatalf("second mark_complete changed state: got frontier=%d ahead=%v, want frontier=%d len(ahead)=%d",
			p.Frontier, p.Ahead, wantFrontier, wantAheadLen)
	}
}

// TestBoundaryZeroSize covers the zero-size blob boundary: no chunk
// offsets exist and the progress is trivially complete.
func TestBoundaryZeroSize(t *testing.T) {
	if offs := ChunkOffsets(0); len(offs) != 0 {
		t.Fatalf("ChunkOffsets(0) = %v, want empty", offs)
	}
}

// TestBoundaryExactMultiple covers a blob whose size is an exact multiple
// of MaxChunkSize: no partial chunk, frontier advances to exactly total.
func TestBoundaryExactMultiple(t *testing.T) {
	const total = 4 * MaxChunkSize
	p := newBlobDownloadProgress()
	for _, off := range ChunkOffsets(total) {
		if size := ChunkSizeAt(off, total); size != MaxChunkSize {
			t.Fatalf("offset %d: chunk size = %d, want %d", off, size, MaxChunkSize)
		}
		p.MarkComplete(off, total)
	}
	if p.Frontier != total {
		t.Fatalf("frontier = %d, want %d", p.Frontier, total)
	}
}

// TestBoundaryPartialFinalChunk covers total = MAX*k + r, 0 < r < MAX: the
// final chunk's reported size is r.
func TestBoundaryPartialFinalChunk(t *testing.T) {
	const total = 3*MaxChunkSize + 1234
	offsets := ChunkOffsets(total)
	last := offsets[len(offsets)-1]
	if size := ChunkSizeAt(last, total); size != 1234 {
		t.Fatalf("final chunk size = %d, want 1234", size)
	}
}

// TestResumeFinalChunkOnly is Scenario/boundary: resuming a download where
// only the final partial chunk is missing fetches exactly that chunk and
// the frontier jumps straight to total.
func TestResumeFinalChunkOnly(t *testing.T) {
	const total = 3*MaxChunkSize + 1000
	p := newBlobDownloadProgress()
	offsets := ChunkOffsets(total)
	for _, off := range offsets[:len(offsets)-1] {
		p.MarkComplete(off, total)
	}

	var needed []uint64
	for _, off := range offsets {
		if p.NeedsDownload(off) {
			needed = append(needed, off)
		}
	}
	if len(needed) != 1 || needed[0] != offsets[len(offsets)-1] {
		t.Fatalf("needed = %v, want exactly the final offset %d", needed, offsets[len(offsets)-1])
	}

	p.MarkComplete(needed[0], total)
	if p.Frontier != total {
		t.Fatalf("frontier = %d, want %d", p.Frontier, total)
	}
	if len(p.Ahead) != 0 {
		t.Fatalf("ahead = %v, want empty", p.Ahead)
	}
}

// TestScenarioS4 mirrors spec.md Scenario S4 exactly: a 3*MAX+1000 byte
// blob, offsets 0 and 2*MAX written, then resumed.
func TestScenarioS4(t *testing.T) {
	const total = 3*MaxChunkSize + 1000
	p := newBlobDownloadProgress()
	p.MarkComplete(0, total)
	p.MarkComplete(2*MaxChunkSize, total)

	if p.Frontier != MaxChunkSize {
		t.Fatalf("frontier = %d, want %d", p.Frontier, MaxChunkSize)
	}
	if !p.Ahead[2*MaxChunkSize] || len(p.Ahead) != 1 {
		t.Fatalf("ahead = %v, want {2*MAX}", p.Ahead)
	}

	var needed []uint64
	for _, off := range ChunkOffsets(total) {
		if p.NeedsDownload(off) {
			needed = append(needed, off)
		}
	}
	want := []uint64{MaxChunkSize, 3 * MaxChunkSize}
	if len(needed) != len(want) || needed[0] != want[0] || needed[1] != want[1] {
		t.Fatalf("needed = %v, want %v", needed, want)
	}

	p.MarkComplete(MaxChunkSize, total)
	p.MarkComplete(3*MaxChunkSize, total)
	if p.Frontier != total {
		t.Fatalf("frontier = %d, want %d", p.Frontier, total)
	}
	if len(p.Ahead) != 0 {
		t.Fatalf("ahead = %v, want empty", p.Ahead)
	}
}
