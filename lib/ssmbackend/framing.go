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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
)

// Message type strings used on the SSM Session Manager WebSocket channel.
const (
	MsgInputStreamData  = "input_stream_data"
	MsgOutputStreamData = "output_stream_data"
	MsgAcknowledge      = "acknowledge"
	MsgStartPublication = "start_publication"
	MsgPausePublication = "pause_publication"
	MsgChannelClosed    = "channel_closed"
)

// Payload type tags.
const (
	PayloadOutput             uint32 = 1
	PayloadError              uint32 = 2
	PayloadSize               uint32 = 3
	PayloadHandshakeRequest   uint32 = 5
	PayloadHandshakeComplete  uint32 = 6
)

const (
	headerLength    = 116 // header_length field value; doesn't include itself
	headerTotalSize = 120 // header_length field (4) + header content (116)
	messageTypeSize = 32
)

// Header is a parsed 120-byte SSM binary message header.
type Header struct {
	HeaderLength   uint32
	MessageType    string
	SchemaVersion  uint32
	CreatedDateMs  uint64
	SequenceNumber int64
	Flags          uint64
	MessageID      uuid.UUID
	PayloadDigest  [32]byte
	PayloadType    uint32
	PayloadLength  uint32
}

// ParseMessage splits a binary WebSocket frame into its header and payload.
func ParseMessage(data []byte) (Header, []byte, error) {
	if len(data) < 4 {
		return Header{}, nil, trace.BadParameter("message too short for header length")
	}
	hl := binary.BigEndian.Uint32(data[0:4])
	total := int(hl) + 4
	if len(data) < total {
		return Header{}, nil, trace.BadParameter("message too short: %d < %d", len(data), total)
	}

	var h Header
	h.HeaderLength = hl
	h.MessageType = trimNulls(data[4:36])
	h.SchemaVersion = binary.BigEndian.Uint32(data[36:40])
	h.CreatedDateMs = binary.BigEndian.Uint64(data[40:48])
	h.SequenceNumber = int64(binary.BigEndian.Uint64(data[48:56]))
	h.Flags = binary.BigEndian.Uint64(data[56:64])
	copy(h.MessageID[:], data[64:80])
	copy(h.PayloadDigest[:], data[80:112])
	h.PayloadType = binary.BigEndian.Uint32(data[112:116])
	h.PayloadLength = binary.BigEndian.Uint32(data[116:120])

	payload := data[headerTotalSize:]
	return h, payload, nil
}

func trimNulls(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// BuildMessage assembles a full binary frame: 120-byte header plus payload,
// with the payload's SHA-256 digest embedded in the header.
func BuildMessage(messageType string, sequenceNumber int64, payloadType uint32, payload []byte) []byte {
	buf := make([]byte, headerTotalSize+len(payload))

	binary.BigEndian.PutUint32(buf[0:4], headerLength)

	var typeBytes [messageTypeSize]byte
	copy(typeBytes[:], []byte(messageType))
	copy(buf[4:36], typeBytes[:])

	binary.BigEndian.PutUint32(buf[36:40], 1) // schema_version
	binary.BigEndian.PutUint64(buf[40:48], uint64(time.Now().UnixMilli()))
	binary.BigEndian.PutUint64(buf[48:56], uint64(sequenceNumber))
	binary.BigEndian.PutUint64(buf[56:64], 0) // flags

	idBytes, _ := uuid.New().MarshalBinary()
	copy(buf[64:80], idBytes)

	digest := sha256.Sum256(payload)
	copy(buf[80:112], digest[:])

	binary.BigEndian.PutUint32(buf[112:116], payloadType)
	binary.BigEndian.PutUint32(buf[116:120], uint32(len(payload)))

	copy(buf[120:], payload)
	return buf
}

// BuildAckMessage builds an acknowledge frame whose payload is the
// acknowledged message's id as ASCII text.
func BuildAckMessage(ackedMessageID uuid.UUID, sequenceNumber int64) []byte {
	return BuildMessage(MsgAcknowledge, sequenceNumber, 0, []byte(ackedMessageID.String()))
}

// BuildSizeMessage builds a size/resize frame with JSON payload {"cols":C,"rows":R}.
func BuildSizeMessage(sequenceNumber int64, cols, rows int) []byte {
	payload := []byte(fmt.Sprintf(`{"cols":%d,"rows":%d}`, cols, rows))
	return BuildMessage(MsgInputStreamData, sequenceNumber, PayloadSize, payload)
}

// BuildInputMessage builds a data frame carrying raw keystroke bytes.
func BuildInputMessage(sequenceNumber int64, data []byte) []byte {
	return BuildMessage(MsgInputStreamData, sequenceNumber, PayloadOutput, data)
}
