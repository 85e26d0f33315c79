// Copyright 2025 mcbridge contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package protocol implements the framing used between the relay and the
// agent: a 9 byte big-endian header (u32 total length, u32 client uid,
// u8 message type) followed by the payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MessageType identifies the purpose of a frame.
type MessageType uint8

const (
	// Data carries an opaque chunk of the tunnelled TCP stream.
	Data MessageType = 0x01
	// NewClient announces that a client was assigned the frame's uid.
	NewClient MessageType = 0x02
	// Disconnect announces that the client behind the frame's uid is gone.
	Disconnect MessageType = 0x03
	// Ping is a keepalive, echoed back by the relay.
	Ping MessageType = 0x04
)

func (t MessageType) String() string {
	switch t {
	case Data:
		return "data"
	case NewClient:
		return "new_client"
	case Disconnect:
		return "disconnect"
	case Ping:
		return "ping"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

const (
	// HeaderSize is the fixed size of the frame header.
	HeaderSize = 9
	// MaxPayloadSize bounds the payload length announced by a header
	// before any allocation happens.
	MaxPayloadSize = 1 << 20
)

var (
	ErrHeaderLength    = errors.New("frame length smaller than header")
	ErrPayloadTooLarge = errors.New("frame payload exceeds maximum size")
)

// Frame is a single decoded protocol message.
type Frame struct {
	UID     uint32
	Type    MessageType
	Payload []byte
}

// Marshal encodes a full frame, header included.
func Marshal(uid uint32, msgType MessageType, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(HeaderSize+len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], uid)
	buf[8] = uint8(msgType)
	copy(buf[HeaderSize:], payload)
	return buf
}

// ReadFrame reads exactly one frame from r. The announced length is
// validated against the header size and MaxPayloadSize before the payload
// is read.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	length := binary.BigEndian.Uint32(header[0:4])
	if length < HeaderSize {
		return Frame{}, fmt.Errorf("%w: announced length %d", ErrHeaderLength, length)
	}
	payloadLength := length - HeaderSize
	if payloadLength > MaxPayloadSize {
		return Frame{}, fmt.Errorf("%w: announced payload %d", ErrPayloadTooLarge, payloadLength)
	}

	frame := Frame{
		UID:  binary.BigEndian.Uint32(header[4:8]),
		Type: MessageType(header[8]),
	}
	if payloadLength > 0 {
		frame.Payload = make([]byte, payloadLength)
		if _, err := io.ReadFull(r, frame.Payload); err != nil {
			return Frame{}, err
		}
	}
	return frame, nil
}

// Writer writes frames to an underlying stream. Frames written from
// concurrent goroutines never interleave: each frame goes out as a single
// write under a mutex.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (fw *Writer) WriteFrame(uid uint32, msgType MessageType, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: payload %d", ErrPayloadTooLarge, len(payload))
	}
	buf := Marshal(uid, msgType, payload)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err := fw.w.Write(buf)
	return err
}
