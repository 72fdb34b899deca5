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

package ssmbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/vyrti/redpill/lib/session"
	"github.com/vyrti/redpill/lib/transport"
)

const (
	startSessionTimeout = 30 * time.Second
	wsConnectTimeout    = 30 * time.Second
	authResponseTimeout = 10 * time.Second
)

// Backend is the SSM Session Manager transport.
type Backend struct {
	mu sync.Mutex

	cfg   session.SSMSession
	state transport.State
	log   *logrus.Entry

	conn *websocket.Conn
	seq  int64

	outCh   chan []byte
	readBuf []byte
}

// New constructs a disconnected backend.
func New(cfg session.SSMSession) *Backend {
	return &Backend{
		cfg:   cfg,
		state: transport.StateDisconnected,
		log:   logrus.WithField("component", "ssm-backend").WithField("instance", cfg.InstanceID),
	}
}

// Connect loads AWS credentials, calls StartSession, opens the returned
// WebSocket, and completes the auth/size handshake.
func (b *Backend) Connect(ctx context.Context) error {
	b.setState(transport.StateConnecting)

	loadOpts := []func(*config.LoadOptions) error{}
	if b.cfg.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(b.cfg.Profile))
	}
	if b.cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(b.cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		b.setState(transport.StateFailed)
		return trace.Wrap(err, "loading AWS configuration")
	}

	client := ssm.NewFromConfig(awsCfg)

	startCtx, cancel := context.WithTimeout(ctx, startSessionTimeout)
	defer cancel()

	b.log.Infof("starting SSM session to %s", b.cfg.InstanceID)
	out, err := client.StartSession(startCtx, &ssm.StartSessionInput{
		Target: aws.String(b.cfg.InstanceID),
	})
	if err != nil {
		b.setState(transport.StateFailed)
		msg := err.Error()
		switch {
		case strings.Contains(msg, "TargetNotConnected"), strings.Contains(msg, "InvalidInstanceId"):
			return trace.NotFound("instance %s is not connected to SSM or does not exist", b.cfg.InstanceID)
		case strings.Contains(msg, "AccessDenied"), strings.Contains(msg, "UnauthorizedAccess"):
			return trace.AccessDenied("access denied starting SSM session: %s", msg)
		default:
			return trace.Wrap(err, "StartSession API call failed")
		}
	}
	if out.StreamUrl == nil || out.TokenValue == nil {
		b.setState(transport.StateFailed)
		return trace.BadParameter("StartSession response missing stream url or token")
	}

	b.setState(transport.StateConnecting)
	dialCtx, cancel2 := context.WithTimeout(ctx, wsConnectTimeout)
	defer cancel2()

	dialer := websocket.Dialer{HandshakeTimeout: wsConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, *out.StreamUrl, nil)
	if err != nil {
		b.setState(transport.StateFailed)
		return trace.Wrap(err, "connecting to SSM stream websocket")
	}

	authFrame := map[string]string{
		"MessageSchemaVersion": "1.0",
		"RequestId":            uuid.NewString(),
		"TokenValue":           *out.TokenValue,
	}
	authBytes, err := json.Marshal(authFrame)
	if err != nil {
		conn.Close()
		b.setState(transport.StateFailed)
		return trace.Wrap(err, "encoding auth frame")
	}
	if err := conn.WriteMessage(websocket.TextMessage, authBytes); err != nil {
		conn.Close()
		b.setState(transport.StateFailed)
		return trace.Wrap(err, "sending auth frame")
	}

	_ = conn.SetReadDeadline(time.Now().Add(authResponseTimeout))
	if _, _, err := conn.ReadMessage(); err != nil {
		conn.Close()
		b.setState(transport.StateFailed)
		return trace.Wrap(err, "awaiting auth response")
	}
	_ = conn.SetReadDeadline(time.Time{})

	b.mu.Lock()
	b.conn = conn
	b.seq = 0
	b.outCh = make(chan []byte, 64)
	b.mu.Unlock()

	sizeMsg := BuildSizeMessage(b.nextSeq(), 80, 24)
	if err := conn.WriteMessage(websocket.BinaryMessage, sizeMsg); err != nil {
		b.setState(transport.StateFailed)
		return trace.Wrap(err, "sending initial size frame")
	}

	b.setState(transport.StateConnected)
	go b.readLoop()

	b.log.Info("ssm session established")
	return nil
}

func (b *Backend) nextSeq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := b.seq
	b.seq++
	return seq
}

func (b *Backend) setState(s transport.State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Backend) readLoop() {
	defer close(b.outCh)
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.setState(transport.StateDisconnected)
			return
		}
		h, payload, err := ParseMessage(data)
		if err != nil {
			b.log.WithError(err).Warn("dropping malformed SSM frame")
			continue
		}
		switch h.MessageType {
		case MsgOutputStreamData:
			ack := BuildAckMessage(h.MessageID, b.nextSeq())
			_ = conn.WriteMessage(websocket.BinaryMessage, ack)
			if h.PayloadType == PayloadOutput && len(payload) > 0 {
				chunk := make([]byte, len(payload))
				copy(chunk, payload)
				b.outCh <- chunk
			}
		case MsgChannelClosed:
			b.setState(transport.StateDisconnected)
			return
		}
	}
}

// Read returns output bytes delivered from the remote shell.
func (b *Backend) Read(p []byte) (int, error) {
	if len(b.readBuf) > 0 {
		n := copy(p, b.readBuf)
		b.readBuf = b.readBuf[n:]
		return n, nil
	}
	b.mu.Lock()
	ch := b.outCh
	b.mu.Unlock()
	if ch == nil {
		return 0, trace.ConnectionProblem(nil, "not connected")
	}
	chunk, ok := <-ch
	if !ok {
		b.setState(transport.StateDisconnected)
		return 0, nil
	}
	n := copy(p, chunk)
	if n < len(chunk) {
		b.readBuf = append(b.readBuf, chunk[n:]...)
	}
	return n, nil
}

// Write sends keystroke bytes as an input_stream_data frame.
func (b *Backend) Write(p []byte) (int, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return 0, trace.ConnectionProblem(nil, "not connected")
	}
	msg := BuildInputMessage(b.nextSeq(), p)
	if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return 0, trace.Wrap(err, "writing to ssm websocket")
	}
	return len(p), nil
}

// Resize sends a size frame; SSM has no pixel-dimension concept.
func (b *Backend) Resize(cols, rows, _, _ int) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	msg := BuildSizeMessage(b.nextSeq(), cols, rows)
	if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return trace.Wrap(err, "sending resize frame")
	}
	return nil
}

// Close tears down the WebSocket. SSM does not support reconnection.
func (b *Backend) Close() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.state = transport.StateDisconnecting
	b.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	b.setState(transport.StateDisconnected)
	return nil
}

// IsAlive reports whether the session is currently connected.
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
	return fmt.Sprintf("ssm:%s", b.cfg.InstanceID)
}

var _ transport.Backend = (*Backend)(nil)
