/*
Copyright 2022 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package localpty spawns a local shell over a real pseudo-terminal.
package localpty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/vyrti/redpill/lib/session"
	"github.com/vyrti/redpill/lib/transport"
)

func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

// Backend is the local-PTY transport. It presents the same shape C9 expects
// from any remote backend so the tab driver needs no special casing beyond
// "local never reconnects."
type Backend struct {
	mu sync.Mutex

	cfg   session.LocalSession
	state transport.State
	log   *logrus.Entry

	cmd *exec.Cmd
	f   *os.File
}

// New constructs a disconnected backend.
func New(cfg session.LocalSession) *Backend {
	return &Backend{
		cfg:   cfg,
		state: transport.StateDisconnected,
		log:   logrus.WithField("component", "local-pty"),
	}
}

// Connect spawns the configured (or default) shell attached to a new PTY.
func (b *Backend) Connect() error {
	shell := b.cfg.Shell
	if shell == "" {
		shell = defaultShell()
	}

	cmd := exec.Command(shell)
	cmd.Env = os.Environ()
	for k, v := range b.cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if b.cfg.WorkingDir != "" {
		cmd.Dir = b.cfg.WorkingDir
	}

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		b.mu.Lock()
		b.state = transport.StateFailed
		b.mu.Unlock()
		return trace.Wrap(err, "starting local pty")
	}

	b.mu.Lock()
	b.cmd = cmd
	b.f = f
	b.state = transport.StateConnected
	b.mu.Unlock()

	b.log.Infof("spawned local shell %s", shell)
	return nil
}

// Read returns output bytes from the PTY master.
func (b *Backend) Read(p []byte) (int, error) {
	b.mu.Lock()
	f := b.f
	b.mu.Unlock()
	if f == nil {
		return 0, trace.ConnectionProblem(nil, "not connected")
	}
	n, err := f.Read(p)
	if err != nil {
		b.mu.Lock()
		b.state = transport.StateDisconnected
		b.mu.Unlock()
		return n, nil
	}
	return n, nil
}

// Write sends keystroke bytes to the PTY master.
func (b *Backend) Write(p []byte) (int, error) {
	b.mu.Lock()
	f := b.f
	b.mu.Unlock()
	if f == nil {
		return 0, trace.ConnectionProblem(nil, "not connected")
	}
	return f.Write(p)
}

// Resize applies TIOCSWINSZ via the pty package.
func (b *Backend) Resize(cols, rows, _, _ int) error {
	b.mu.Lock()
	f := b.f
	b.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := pty.Setsize(f, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return trace.Wrap(err, "resizing pty")
	}
	return nil
}

// Close terminates the shell and releases the PTY.
func (b *Backend) Close() error {
	b.mu.Lock()
	cmd := b.cmd
	f := b.f
	b.f = nil
	b.cmd = nil
	b.state = transport.StateDisconnecting
	b.mu.Unlock()

	if f != nil {
		f.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}

	b.mu.Lock()
	b.state = transport.StateDisconnected
	b.mu.Unlock()
	return nil
}

// IsAlive reports whether the shell process is still running.
func (b *Backend) IsAlive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == transport.StateConnected
}

// State returns the current lifecycle state.
func (b *Backend) State() transport.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Description is a short label for logs/UI.
func (b *Backend) Description() string {
	shell := b.cfg.Shell
	if shell == "" {
		shell = defaultShell()
	}
	return fmt.Sprintf("local:%s", shell)
}

var _ transport.Backend = (*Backend)(nil)
