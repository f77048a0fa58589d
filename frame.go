// MIT License
//
// Copyright (c) 2016-2017 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package hubmux

import (
	"fmt"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/sagernet/sing/common/buf"
)

// mh is the single self-describing binary encoding used for every envelope
// on the wire: array headers, signed integers, nil, and raw byte strings.
// Shared across encode and decode so both sides agree on int width and how
// raw byte slices round-trip.
var mh = &codec.MsgpackHandle{
	RawToString: false,
	WriteExt:    true,
}

// FrameKind discriminates the three server-to-client shapes a decoded Frame
// can take. Client-to-server frames are never decoded by this package — the
// reader loop only ever decodes frames coming off the response stream.
type FrameKind int

const (
	FrameResponse FrameKind = iota
	FrameResponseError
	FrameBroadcast
)

func (k FrameKind) String() string {
	switch k {
	case FrameResponse:
		return "response"
	case FrameResponseError:
		return "response-error"
	case FrameBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Frame is the decoded form of one envelope read off the response stream.
// Payload is whatever byte slice the msgpack decoder yields for the payload
// element; whether it shares memory with the input buffer handed to
// DecodeFrame is up to that decoder, so callers consume it before the
// buffer is reused.
type Frame struct {
	Kind         FrameKind
	InvocationID int32
	MethodID     int32
	Payload      []byte
	ErrorMessage string
}

// EncodeRequest writes [ArrayHeader(3), Int32(invocationID), Int32(methodID),
// PayloadBytes] to out and returns the number of bytes written.
func EncodeRequest(out *buf.Buffer, invocationID, methodID int32, payload []byte) (int, error) {
	before := out.Len()
	enc := codec.NewEncoder(out, mh)
	if err := enc.Encode([]any{invocationID, methodID, payload}); err != nil {
		return 0, fmt.Errorf("hubmux: encode request: %w", err)
	}
	return out.Len() - before, nil
}

// EncodeFireAndForget writes [ArrayHeader(2), Int32(methodID), PayloadBytes]
// to out and returns the number of bytes written.
func EncodeFireAndForget(out *buf.Buffer, methodID int32, payload []byte) (int, error) {
	before := out.Len()
	enc := codec.NewEncoder(out, mh)
	if err := enc.Encode([]any{methodID, payload}); err != nil {
		return 0, fmt.Errorf("hubmux: encode fire-and-forget: %w", err)
	}
	return out.Len() - before, nil
}

// DecodeFrame inspects the leading array header of data and returns the
// shape it describes. An array length other than 2 or 3 is a protocol
// violation (ErrProtocolViolation); the reader loop logs and skips it
// without killing the channel.
func DecodeFrame(data []byte) (Frame, error) {
	var raw []any
	dec := codec.NewDecoderBytes(data, mh)
	if err := dec.Decode(&raw); err != nil {
		return Frame{}, fmt.Errorf("hubmux: decode frame: %w", err)
	}

	switch len(raw) {
	case 2:
		methodID, ok := asInt32(raw[0])
		if !ok {
			return Frame{}, fmt.Errorf("hubmux: decode broadcast: %w", ErrProtocolViolation)
		}
		payload, ok := asBytes(raw[1])
		if !ok {
			return Frame{}, fmt.Errorf("hubmux: decode broadcast: %w", ErrProtocolViolation)
		}
		return Frame{Kind: FrameBroadcast, MethodID: methodID, Payload: payload}, nil

	case 3:
		invocationID, ok := asInt32(raw[0])
		if !ok {
			return Frame{}, fmt.Errorf("hubmux: decode response: %w", ErrProtocolViolation)
		}
		if raw[1] == nil {
			message, ok := asString(raw[2])
			if !ok {
				return Frame{}, fmt.Errorf("hubmux: decode response-error: %w", ErrProtocolViolation)
			}
			return Frame{Kind: FrameResponseError, InvocationID: invocationID, ErrorMessage: message}, nil
		}
		methodID, ok := asInt32(raw[1])
		if !ok {
			return Frame{}, fmt.Errorf("hubmux: decode response: %w", ErrProtocolViolation)
		}
		payload, ok := asBytes(raw[2])
		if !ok {
			return Frame{}, fmt.Errorf("hubmux: decode response: %w", ErrProtocolViolation)
		}
		return Frame{Kind: FrameResponse, InvocationID: invocationID, MethodID: methodID, Payload: payload}, nil

	default:
		return Frame{}, fmt.Errorf("hubmux: array length %d: %w", len(raw), ErrProtocolViolation)
	}
}

func asInt32(v any) (int32, bool) {
	switch n := v.(type) {
	case int64:
		return int32(n), true
	case int:
		return int32(n), true
	case uint64:
		return int32(n), true
	case float64:
		return int32(n), true
	default:
		return 0, false
	}
}

func asBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case nil:
		return nil, true
	default:
		return nil, false
	}
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}
