// Copyright 2026 The Drawbridge Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/drawbridge-labs/drawbridge/lib/codec"
	"github.com/drawbridge-labs/drawbridge/lib/secret"
	"github.com/drawbridge-labs/drawbridge/lib/wiresig"
)

// maxFrameSize bounds a single wire frame. Command payloads are small;
// anything near this limit is a protocol violation, not real traffic.
const maxFrameSize = 1 << 20

// Frame kinds.
const (
	kindCommand  = "command"
	kindResponse = "response"
	kindPing     = "ping"
	kindPong     = "pong"
)

var (
	// ErrProtocol reports a malformed or unauthenticated frame. The
	// connection that produced it is no longer trustworthy.
	ErrProtocol = errors.New("transport: protocol violation")
)

// frame is the wire envelope. Every frame is length-prefixed and
// carries an HMAC tag over the encoded message, keyed by the shared
// relay secret.
type frame struct {
	Kind string           `cbor:"1,keyasint"`
	Body codec.RawMessage `cbor:"2,keyasint,omitempty"`
}

// AgentRequest is a command dispatch sent to the agent. Credentials,
// when present, are injected by the relay for exactly this request;
// the agent must not persist them.
type AgentRequest struct {
	ID            string            `cbor:"1,keyasint"`
	Category      string            `cbor:"2,keyasint"`
	CommandText   string            `cbor:"3,keyasint"`
	Parameters    map[string]any    `cbor:"4,keyasint,omitempty"`
	Credentials   map[string]string `cbor:"5,keyasint,omitempty"`
	IssuedAt      int64             `cbor:"6,keyasint"`
	TimeoutMillis int64             `cbor:"7,keyasint"`
}

// AgentResponse is the agent's reply to one AgentRequest.
type AgentResponse struct {
	ID           string         `cbor:"1,keyasint"`
	OK           bool           `cbor:"2,keyasint"`
	Result       map[string]any `cbor:"3,keyasint,omitempty"`
	ErrorMessage string         `cbor:"4,keyasint,omitempty"`
}

func (r *AgentRequest) decode(body codec.RawMessage) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: command frame without body", ErrProtocol)
	}
	if err := codec.Unmarshal(body, r); err != nil {
		return fmt.Errorf("%w: undecodable command body", ErrProtocol)
	}
	return nil
}

func (r *AgentResponse) decode(body codec.RawMessage) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: response frame without body", ErrProtocol)
	}
	if err := codec.Unmarshal(body, r); err != nil {
		return fmt.Errorf("%w: undecodable response body", ErrProtocol)
	}
	return nil
}

// writeFrame encodes, signs, and writes one frame: a 4-byte big-endian
// length, the HMAC tag, then the CBOR message.
func writeFrame(w io.Writer, shared *secret.Buffer, kind string, body any) error {
	var raw codec.RawMessage
	if body != nil {
		encoded, err := codec.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s frame: %w", kind, err)
		}
		raw = encoded
	}
	message, err := codec.Marshal(frame{Kind: kind, Body: raw})
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", kind, err)
	}
	tag := wiresig.Sign(shared, message)

	header := make([]byte, 4, 4+len(tag)+len(message))
	binary.BigEndian.PutUint32(header, uint32(len(tag)+len(message)))
	header = append(header, tag...)
	header = append(header, message...)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing %s frame: %w", kind, err)
	}
	return nil
}

// readFrame reads and authenticates one frame. An unauthenticated or
// oversized frame returns ErrProtocol; callers drop the connection.
func readFrame(r io.Reader, shared *secret.Buffer) (frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return frame{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size < wiresig.TagSize || size > maxFrameSize {
		return frame{}, fmt.Errorf("%w: frame size %d", ErrProtocol, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return frame{}, err
	}
	tag, message := payload[:wiresig.TagSize], payload[wiresig.TagSize:]
	if !wiresig.Verify(shared, message, tag) {
		return frame{}, fmt.Errorf("%w: frame did not authenticate", ErrProtocol)
	}
	var f frame
	if err := codec.Unmarshal(message, &f); err != nil {
		return frame{}, fmt.Errorf("%w: undecodable frame", ErrProtocol)
	}
	if f.Kind == "" {
		return frame{}, fmt.Errorf("%w: frame without kind", ErrProtocol)
	}
	return f, nil
}
