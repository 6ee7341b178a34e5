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
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// fetchSFTP retrieves a recipe template over an `sftp://` source, the way
// the teacher's catch package serves files over the same protocol in
// reverse. Only password auth is supported; a source with no password
// fails fast rather than hanging on an interactive prompt.
func fetchSFTP(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("recipe: parse sftp source %q: %w", rawURL, err)
	}
	if u.User == nil {
		return nil, fmt.Errorf("recipe: sftp source %q has no user", rawURL)
	}
	password, ok := u.User.Password()
	if !ok {
		return nil, fmt.Errorf("recipe: sftp source %q has no password", rawURL)
	}

	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "22")
	}

	cfg := &ssh.ClientConfig{
		User:            u.User.Username(),
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("recipe: dial %s: %w", host, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, host, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("recipe: ssh handshake with %s: %w", host, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("recipe: open sftp session on %s: %w", host, err)
	}
	defer sc.Close()

	f, err := sc.Open(u.Path)
	if err != nil {
		return nil, fmt.Errorf("recipe: sftp open %s: %w", u.Path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		return nil, fmt.Errorf("recipe: sftp read %s: %w", u.Path, err)
	}
	return buf.Bytes(), nil
}
