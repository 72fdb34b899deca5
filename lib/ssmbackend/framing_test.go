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
	"crypto/sha256"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestBuildAndParseRoundTrip(t *testing.T) {
	payload := []byte("hello world")
	msg := BuildMessage(MsgInputStreamData, 42, PayloadOutput, payload)

	h, parsedPayload, err := ParseMessage(msg)
	require.NoError(t, err)
	require.Equal(t, uint32(116), h.HeaderLength)
	require.Equal(t, MsgInputStreamData, h.MessageType)
	require.Equal(t, uint32(1), h.SchemaVersion)
	require.Equal(t, int64(42), h.SequenceNumber)
	require.Equal(t, PayloadOutput, h.PayloadType)
	require.Equal(t, uint32(len(payload)), h.PayloadLength)
	require.Equal(t, payload, parsedPayload)

	digest := sha256.Sum256(payload)
	require.Equal(t, digest, h.PayloadDigest)
}

func TestBuildAckMessagePayloadIsMessageIDString(t *testing.T) {
	id := uuid.New()
	msg := BuildAckMessage(id, 1)
	_, payload, err := ParseMessage(msg)
	require.NoError(t, err)
	require.Equal(t, id.String(), string(payload))
}

func TestBuildSizeMessagePayload(t *testing.T) {
	msg := BuildSizeMessage(0, 80, 24)
	h, payload, err := ParseMessage(msg)
	require.NoError(t, err)
	require.Equal(t, PayloadSize, h.PayloadType)
	require.JSONEq(t, `{"cols":80,"rows":24}`, string(payload))
}

func TestParseMessageTooShort(t *testing.T) {
	_, _, err := ParseMessage([]byte{0, 0, 0})
	require.Error(t, err)
}
