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

// Package tabbridge couples a transport backend to a terminal core, running
// a dedicated driver goroutine per tab that moves bytes in both directions.
// Keyboard input reaches the transport unchanged: no keystroke-to-escape-
// sequence translation is done here, and the parser's mode flags are not
// consulted on the write path.
package tabbridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vyrti/redpill/lib/termcore"
	"github.com/vyrti/redpill/lib/transport"
)

const readChunkSize = 4096

var log = logrus.WithField("component", "tab-bridge")

// Tab owns one terminal-core instance, one transport handle, and the driver
// goroutine that binds them together.
type Tab struct {
	ID        string
	Title     string
	backend   transport.Backend
	term      *termcore.Core
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
	lastError error
}

// New wires a backend and terminal core into a tab and starts its driver
// goroutine. The caller must have already called backend.Connect(ctx) (or
// equivalent) so Description()/IsAlive() are meaningful immediately.
func New(title string, backend transport.Backend, term *termcore.Core) *Tab {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tab{
		ID:      uuid.NewString(),
		Title:   title,
		backend: backend,
		term:    term,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	term.SetWriteSink(backend.Write)
	go t.driveRead(ctx)
	return t
}

// Terminal exposes the bound terminal core for input/rendering.
func (t *Tab) Terminal() *termcore.Core { return t.term }

// Backend exposes the bound transport, mostly for tests and diagnostics.
func (t *Tab) Backend() transport.Backend { return t.backend }

// Resize forwards a grid resize to both the parser and the transport.
func (t *Tab) Resize(cols, rows, pixelWidth, pixelHeight int) error {
	t.term.Resize(cols, rows)
	return t.backend.Resize(cols, rows, pixelWidth, pixelHeight)
}

// Close tears down the transport (unblocking any in-flight Read) and waits
// for the driver goroutine to exit.
func (t *Tab) Close() error {
	t.cancel()
	err := t.backend.Close()
	<-t.done
	return err
}

// LastError returns the error (if any) that ended the driver loop.
func (t *Tab) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastError
}

func (t *Tab) setLastError(err error) {
	t.mu.Lock()
	t.lastError = err
	t.mu.Unlock()
}

// driveRead is the read loop: pull bytes from the transport, feed the
// parser, and on EOF either reconnect (SSH only) or terminate.
func (t *Tab) driveRead(ctx context.Context) {
	defer close(t.done)
	buf := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := t.backend.Read(buf)
		if n > 0 {
			t.term.WriteToPTY(buf[:n])
		}
		if err != nil {
			t.handleReadError(ctx, err)
			return
		}
		if n == 0 && !t.backend.IsAlive() {
			if t.tryReconnect(ctx) {
				continue
			}
			return
		}
	}
}

func (t *Tab) handleReadError(ctx context.Context, err error) {
	t.setLastError(err)
	if t.tryReconnect(ctx) {
		return
	}
	t.term.WriteToPTY([]byte(fmt.Sprintf("\x1b[1;31m  Connection Failed\x1b[0m\r\n  %s\r\n", err)))
}

// tryReconnect attempts reconnection only when the backend implements
// transport.Reconnector (SSH). SSM, K8s, and local-PTY EOF terminate the
// driver immediately, matching their "no speculative reconnect" contract.
func (t *Tab) tryReconnect(ctx context.Context) bool {
	reconnector, ok := t.backend.(transport.Reconnector)
	if !ok {
		return false
	}
	if ctx.Err() != nil {
		return false // the tab was closed; its EOF is not a dropped link
	}
	if t.backend.IsAlive() {
		return false
	}

	t.term.WriteToPTY([]byte("\x1b[1;33m  Attempting to reconnect…\x1b[0m\r\n"))
	if err := reconnector.Reconnect(); err != nil {
		t.setLastError(err)
		t.term.WriteToPTY([]byte(fmt.Sprintf("\x1b[1;31m  Connection Failed\x1b[0m\r\n  %s\r\n", err)))
		return false
	}
	t.term.WriteToPTY([]byte("\x1b[1;32m  Reconnected successfully!\x1b[0m\r\n"))
	log.WithField("tab", t.ID).Info("reconnected")
	return true
}
