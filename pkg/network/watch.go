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

package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WatchLine is one line pushed over the admin control-plane's `/watch`
// socket: either a state-machine transition (`kind: "state"`) or a raw
// launcher log line (`kind: "log"`). `network ping --wait-healthy` only
// cares about state lines; `network logs --follow` prints log lines and
// ignores state ones.
type WatchLine struct {
	Kind string // "state" or "log"
	Text string
}

// WatchState dials adminURL's `/watch` endpoint and invokes onLine for
// every line pushed until ctx is done, the connection closes, or onLine
// returns false. It adapts the raw byte stream through connReader the way
// the teacher's webdev command streams a dev server's console over the
// same plumbing, trimmed to the read-only direction this caller needs.
func WatchState(ctx context.Context, adminURL string, onLine func(WatchLine) bool) error {
	wsURL := "ws" + strings.TrimPrefix(adminURL, "http") + "/watch"

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("network: dial %s: %w", wsURL, err)
	}

	rw := newConnReader(ctx, conn)
	defer rw.Close()

	scanner := bufio.NewScanner(rw)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-rw.DoneCh:
			if err != nil && err != io.EOF {
				return fmt.Errorf("network: watch connection closed: %w", err)
			}
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			kind, text := "log", line
			if strings.HasPrefix(line, "state:") {
				kind, text = "state", strings.TrimSpace(strings.TrimPrefix(line, "state:"))
			}
			if !onLine(WatchLine{Kind: kind, Text: text}) {
				return nil
			}
		}
	}
}

// connReader adapts a gorilla/websocket connection into an io.Reader so a
// bufio.Scanner can read it line by line, the way the teacher's own
// webdev console streaming adapts the same connection type. Only the read
// direction is needed here: `/watch` is a one-way push from the launcher's
// admin control plane, so there is no write-side interceptor machinery.
type connReader struct {
	DoneCh   chan error
	doneOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	conn     *websocket.Conn
	readCh   chan []byte
}

func newConnReader(ctx context.Context, conn *websocket.Conn) *connReader {
	ctx, cancel := context.WithCancel(ctx)
	r := &connReader{
		ctx:    ctx,
		conn:   conn,
		cancel: cancel,
		DoneCh: make(chan error, 1),
		readCh: make(chan []byte, 16),
	}
	go r.readLoop()
	return r
}

func (r *connReader) Close() error {
	r.cancel()
	err := r.conn.Close()
	return err
}

func (r *connReader) Read(dst []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, io.EOF
	case bs, ok := <-r.readCh:
		if !ok {
			return 0, io.EOF
		}
		if len(dst) < len(bs) {
			return 0, io.ErrShortBuffer
		}
		return copy(dst, bs), nil
	}
}

func (r *connReader) readLoop() {
	defer close(r.readCh)
	defer r.cancel()
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			r.doneOnce.Do(func() {
				r.DoneCh <- err
				close(r.DoneCh)
			})
			return
		}
		select {
		case r.readCh <- data:
		case <-r.ctx.Done():
			return
		}
	}
}
