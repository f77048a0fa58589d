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
	"context"
	"fmt"

	"github.com/sagernet/sing/common/buf"
)

// frameHeaderBudget is generous headroom for the array header and the two
// int32 fields every envelope shape carries ahead of its payload bytes.
const frameHeaderBudget = 24

func (c *Channel) checkNotDisposed() error {
	if c.disposed.Load() {
		return ErrDisposed
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

// writeFrame is the single choke point through which every outbound frame
// passes; the mutex is the "writes are serialized per connection" guarantee
// without leaning on the transport to provide it.
func (c *Channel) writeFrame(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.reqStream.Write(ctx, frame)
}

// WriteFireAndForget encodes message under methodID and hands it to the
// transport with no expectation of a response.
func (c *Channel) WriteFireAndForget(ctx context.Context, methodID int32, message any) error {
	if err := c.checkNotDisposed(); err != nil {
		return err
	}

	payload, err := c.codec.Encode(message)
	if err != nil {
		return fmt.Errorf("hubmux: encode payload: %w", err)
	}

	out := buf.NewSize(frameHeaderBudget + len(payload))
	defer out.Release()
	if _, err := EncodeFireAndForget(out, methodID, payload); err != nil {
		return err
	}

	return c.writeFrame(ctx, out.Bytes())
}

// WriteWithResponse encodes message under methodID, registers a waiter
// decoded by decode, writes the request, and awaits the typed response.
//
// This is a free function, not a method on Channel, because Go methods
// cannot declare their own type parameters — generated stubs call it as
// hubmux.WriteWithResponse[ReplyType](ctx, ch, methodID, req, decodeReply).
func WriteWithResponse[T any](ctx context.Context, c *Channel, methodID int32, message any, decode func([]byte) (T, error)) (T, error) {
	var zero T

	if err := c.checkNotDisposed(); err != nil {
		return zero, err
	}

	id, err := c.ids.allocate()
	if err != nil {
		return zero, err
	}

	waiter := NewWaiter(decode)
	// Register before the write is issued: the response may race the
	// write below, so the registry must already hold the waiter.
	c.waiters.insert(id, waiter)

	payload, err := c.codec.Encode(message)
	if err != nil {
		c.waiters.take(id)
		return zero, fmt.Errorf("hubmux: encode payload: %w", err)
	}

	out := buf.NewSize(frameHeaderBudget + len(payload))
	defer out.Release()
	if _, err := EncodeRequest(out, id, methodID, payload); err != nil {
		c.waiters.take(id)
		return zero, err
	}

	if err := c.writeFrame(ctx, out.Bytes()); err != nil {
		// The frame never reached the wire; no response will ever arrive
		// for id, so the waiter would otherwise leak until teardown.
		c.waiters.take(id)
		return zero, fmt.Errorf("hubmux: write request: %w", err)
	}

	return waiter.Wait(ctx)
}
