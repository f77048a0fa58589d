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
	"errors"
)

// runReader is the single background task launched by Connect. It owns the
// response stream exclusively and calls teardown exactly once on exit, even
// on cancellation.
func (c *Channel) runReader(ctx context.Context) {
	reason := c.readLoop(ctx)
	c.reason.setIfEmpty(reason)
	// waitForSelf=false: the reader must not await itself.
	c.teardown(context.Background(), false)
}

func (c *Channel) readLoop(ctx context.Context) DisconnectReason {
	for {
		frameBytes, err := c.respStream.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// The only source of cancellation is our own teardown
				// having already set disposed=true and a reason.
				return DisconnectDisposed
			}
			c.logf("hubmux: response stream error: %v", err)
			return DisconnectTransportError
		}
		if frameBytes == nil {
			return DisconnectRemoteClosed
		}

		frame, err := DecodeFrame(frameBytes)
		if err != nil {
			// One bad frame never kills the channel.
			c.logf("hubmux: dropping malformed frame: %v", err)
			continue
		}

		switch frame.Kind {
		case FrameResponse:
			waiter, ok := c.waiters.take(frame.InvocationID)
			if !ok {
				c.debugf("hubmux: dropping response for unknown invocation id %d", frame.InvocationID)
				continue
			}
			if err := c.dispatcher.Resolve(frame.MethodID, waiter, frame.Payload); err != nil {
				c.debugf("hubmux: decode failed for invocation id %d: %v", frame.InvocationID, err)
			}

		case FrameResponseError:
			waiter, ok := c.waiters.take(frame.InvocationID)
			if !ok {
				c.debugf("hubmux: dropping response-error for unknown invocation id %d", frame.InvocationID)
				continue
			}
			waiter.Fail(&ServerError{Message: frame.ErrorMessage})

		case FrameBroadcast:
			if err := c.dispatcher.InvokeReceiver(ctx, frame.MethodID, frame.Payload); err != nil {
				c.logf("hubmux: receiver for method %d failed: %v", frame.MethodID, err)
			}
		}
	}
}
