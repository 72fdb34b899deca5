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

// Package sshbackend implements the SSH transport: connect, host-key
// verification, authentication, PTY channel I/O, resize, and reconnection.
package sshbackend

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/vyrti/redpill/lib/hostkeys"
	"github.com/vyrti/redpill/lib/session"
	"github.com/vyrti/redpill/lib/transport"
)

const (
	connectTimeout        = 5 * time.Second
	keepaliveInterval     = 30 * time.Second
	keepaliveMax          = 3
	readPollQuantum       = 50 * time.Millisecond
	maxReconnectAttempts  = 3
	initialReconnectDelay = 1 * time.Second
)

// Size is a PTY/window size.
type Size struct {
	Cols, Rows, PixelWidth, PixelHeight int
}

// Backend is the SSH transport.state machine described in the connection
// lifecycle: Disconnected -> Connecting -> Connected -> Disconnecting ->
// Disconnected, with Failed as a terminal state on unrecoverable errors.
type Backend struct {
	mu sync.Mutex

	cfg   session.SSHSession
	state transport.State
	size  Size

	client  *ssh.Client
	session *ssh.Session
	stdin   chan []byte
	stdout  <-chan []byte
	readBuf []byte

	log *logrus.Entry
}

// New constructs a disconnected backend for the given session configuration.
func New(cfg session.SSHSession) *Backend {
	return &Backend{
		cfg:   cfg,
		state: transport.StateDisconnected,
		size:  Size{Cols: 80, Rows: 24},
		log:   logrus.WithField("component", "ssh-backend").WithField("session", cfg.IDValue),
	}
}

// Connect performs the handshake, host-key verification, authentication, PTY
// request, and shell request, blocking until the shell is confirmed started
// or an error occurs.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	b.state = transport.StateConnecting
	b.mu.Unlock()

	addr := b.cfg.Address()
	b.log.Infof("connecting to %s", addr)

	authMethods, err := b.authMethods()
	if err != nil {
		b.fail()
		return trace.Wrap(err, "preparing authentication")
	}

	clientConfig := &ssh.ClientConfig{
		User:            b.cfg.Username,
		Auth:            authMethods,
		Timeout:         connectTimeout,
		HostKeyCallback: b.hostKeyCallback(),
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	type result struct {
		client *ssh.Client
		err    error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := net.DialTimeout("tcp", addr, connectTimeout)
		if err != nil {
			resultCh <- result{nil, err}
			return
		}
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
		if err != nil {
			resultCh <- result{nil, err}
			return
		}
		resultCh <- result{ssh.NewClient(c, chans, reqs), nil}
	}()

	var client *ssh.Client
	select {
	case res := <-resultCh:
		if res.err != nil {
			b.fail()
			return trace.Wrap(res.err, "connection failed")
		}
		client = res.client
	case <-connectCtx.Done():
		b.fail()
		return trace.LimitExceeded("connection timed out after %s", connectTimeout)
	}

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		b.fail()
		return trace.Wrap(err, "opening ssh session channel")
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		b.fail()
		return trace.Wrap(err, "requesting stdin pipe")
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		b.fail()
		return trace.Wrap(err, "requesting stdout pipe")
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	b.mu.Lock()
	size := b.size
	b.mu.Unlock()

	if err := sess.RequestPty("xterm-256color", size.Rows, size.Cols, modes); err != nil {
		sess.Close()
		client.Close()
		b.fail()
		return trace.Wrap(err, "requesting pty")
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		client.Close()
		b.fail()
		return trace.Wrap(err, "requesting shell")
	}

	outCh := make(chan []byte, 64)
	go pumpReader(stdout, outCh)

	b.mu.Lock()
	b.client = client
	b.session = sess
	b.stdin = make(chan []byte, 64)
	b.stdout = outCh
	b.state = transport.StateConnected
	b.mu.Unlock()

	go b.writePump(stdin)
	go b.keepalive()

	b.log.Info("ssh connection established")
	return nil
}

func pumpReader(r io.Reader, out chan<- []byte) {
	defer close(out)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (b *Backend) writePump(stdin io.Writer) {
	for data := range b.stdin {
		if _, err := stdin.Write(data); err != nil {
			b.log.WithError(err).Warn("ssh write failed")
			return
		}
	}
}

func (b *Backend) keepalive() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	missed := 0
	for range ticker.C {
		b.mu.Lock()
		client := b.client
		alive := b.state == transport.StateConnected
		b.mu.Unlock()
		if !alive || client == nil {
			return
		}
		if _, _, err := client.SendRequest("keepalive@redpill", true, nil); err != nil {
			missed++
			if missed >= keepaliveMax {
				b.log.Warn("missed keepalive max, closing connection")
				b.Close()
				return
			}
			continue
		}
		missed = 0
	}
}

func (b *Backend) authMethods() ([]ssh.AuthMethod, error) {
	switch b.cfg.Auth.Kind {
	case session.AuthPassword:
		if b.cfg.Auth.Secret == "" {
			return nil, trace.BadParameter("password not provided")
		}
		return []ssh.AuthMethod{ssh.Password(b.cfg.Auth.Secret)}, nil

	case session.AuthPrivateKey:
		signer, err := loadPrivateKey(b.cfg.Auth.Path, b.cfg.Auth.Secret)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil

	case session.AuthAgent:
		sockPath := os.Getenv("SSH_AUTH_SOCK")
		if sockPath == "" {
			return nil, trace.BadParameter("SSH_AUTH_SOCK not set")
		}
		conn, err := net.Dial("unix", sockPath)
		if err != nil {
			return nil, trace.Wrap(err, "connecting to ssh agent")
		}
		agentClient := agent.NewClient(conn)
		return []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)}, nil

	default:
		return nil, trace.BadParameter("unknown auth method %q", b.cfg.Auth.Kind)
	}
}

func loadPrivateKey(path, passphrase string) (ssh.Signer, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.Wrap(err, "reading private key %s", path)
	}
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(passphrase))
		if err != nil {
			return nil, trace.Wrap(err, "parsing private key %s", path)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, trace.Wrap(err, "parsing private key %s", path)
	}
	return signer, nil
}

// hostKeyCallback delegates to the host-key store (C8) and logs accordingly,
// allowing Verified/TrustOnFirstUse/ErrorStatus and rejecting Mismatch.
func (b *Backend) hostKeyCallback() ssh.HostKeyCallback {
	store, err := hostkeys.New()
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err != nil {
			b.log.WithError(err).Warn("could not open known_hosts, allowing connection")
			return nil
		}
		host := stripPort(hostname)
		keyType := key.Type()
		keyB64 := marshalAuthorizedKeyBase64(key)

		status := store.Verify(host, keyType, keyB64)
		switch status {
		case hostkeys.Verified:
			b.log.Info("host key verified")
			return nil
		case hostkeys.TrustOnFirstUse:
			b.log.Info("new host key accepted (trust on first use)")
			return nil
		case hostkeys.Mismatch:
			b.log.Error("HOST KEY VERIFICATION FAILED: possible MITM attack")
			return trace.AccessDenied("host key mismatch for %s", host)
		default:
			b.log.Warn("host key verification error, allowing connection")
			return nil
		}
	}
}

func stripPort(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}

func marshalAuthorizedKeyBase64(key ssh.PublicKey) string {
	// ssh.MarshalAuthorizedKey produces "type base64\n"; we only want the
	// base64 field to compare against known_hosts entries.
	line := string(ssh.MarshalAuthorizedKey(key))
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

func (b *Backend) fail() {
	b.mu.Lock()
	b.state = transport.StateFailed
	b.mu.Unlock()
}

// Write sends keystroke bytes to the remote shell.
func (b *Backend) Write(p []byte) (int, error) {
	b.mu.Lock()
	stdin := b.stdin
	connected := b.state == transport.StateConnected
	b.mu.Unlock()
	if !connected || stdin == nil {
		return 0, trace.ConnectionProblem(nil, "not connected")
	}
	data := make([]byte, len(p))
	copy(data, p)
	select {
	case stdin <- data:
		return len(p), nil
	default:
		stdin <- data
		return len(p), nil
	}
}

// Read pulls at most one quantum's worth of output, matching the original's
// "return (0, nil) on no-data-this-quantum, and also on clean EOF" contract.
// Callers distinguish the two cases via IsAlive/State.
func (b *Backend) Read(p []byte) (int, error) {
	if len(b.readBuf) > 0 {
		n := copy(p, b.readBuf)
		b.readBuf = b.readBuf[n:]
		return n, nil
	}

	b.mu.Lock()
	ch := b.stdout
	b.mu.Unlock()
	if ch == nil {
		return 0, trace.ConnectionProblem(nil, "not connected")
	}

	select {
	case chunk, ok := <-ch:
		if !ok {
			b.mu.Lock()
			b.state = transport.StateDisconnected
			b.mu.Unlock()
			return 0, nil
		}
		n := copy(p, chunk)
		if n < len(chunk) {
			b.readBuf = append(b.readBuf, chunk[n:]...)
		}
		return n, nil
	case <-time.After(readPollQuantum):
		return 0, nil
	}
}

// Resize sends a window-change request. The size is recorded either way and
// used for the PTY request of the next connect; without a live session the
// call fails with a connection-problem error.
func (b *Backend) Resize(cols, rows, pixelWidth, pixelHeight int) error {
	b.mu.Lock()
	b.size = Size{Cols: cols, Rows: rows, PixelWidth: pixelWidth, PixelHeight: pixelHeight}
	sess := b.session
	b.mu.Unlock()
	if sess == nil {
		return trace.ConnectionProblem(nil, "not connected")
	}
	if err := sess.WindowChange(rows, cols); err != nil {
		return trace.Wrap(err, "resizing pty")
	}
	return nil
}

// Close tears down the channel and the underlying connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.state = transport.StateDisconnecting
	sess := b.session
	client := b.client
	if b.stdin != nil {
		close(b.stdin)
		b.stdin = nil
	}
	b.session = nil
	b.client = nil
	b.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	if client != nil {
		client.Close()
	}

	b.mu.Lock()
	b.state = transport.StateDisconnected
	b.mu.Unlock()
	return nil
}

// IsAlive reports whether the backend considers itself connected.
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
	return fmt.Sprintf("%s@%s:%d", b.cfg.Username, b.cfg.Host, portOrDefault(b.cfg.Port))
}

func portOrDefault(port int) int {
	if port == 0 {
		return 22
	}
	return port
}

// Reconnect retries the connect sequence up to maxReconnectAttempts times
// with exponential backoff (1s, 2s, 4s), matching the teacher's own
// reconnection tuning for this transport.
func (b *Backend) Reconnect() error {
	delay := initialReconnectDelay
	var lastErr error
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		b.log.Infof("reconnect attempt %d/%d (waiting %s)", attempt, maxReconnectAttempts, delay)
		time.Sleep(delay)

		b.mu.Lock()
		b.client = nil
		b.session = nil
		b.readBuf = nil
		b.state = transport.StateDisconnected
		b.mu.Unlock()

		if err := b.Connect(context.Background()); err == nil {
			b.log.Infof("reconnection successful on attempt %d", attempt)
			return nil
		} else {
			lastErr = err
			b.log.WithError(err).Warnf("reconnect attempt %d failed", attempt)
		}
		delay *= 2
	}
	b.fail()
	return trace.Wrap(lastErr, "exhausted %d reconnect attempts", maxReconnectAttempts)
}

// CreateSFTPSession opens a second channel and starts the sftp subsystem over
// the existing SSH client connection.
func (b *Backend) CreateSFTPSession() (*sftp.Client, error) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		return nil, trace.ConnectionProblem(nil, "not connected")
	}
	c, err := sftp.NewClient(client)
	if err != nil {
		return nil, trace.Wrap(err, "opening sftp subsystem")
	}
	return c, nil
}

var _ transport.Backend = (*Backend)(nil)
var _ transport.Reconnector = (*Backend)(nil)
