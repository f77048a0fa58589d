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
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// reasonBox records the first DisconnectReason offered to it; later offers
// are ignored. Both Dispose and the reader loop race to explain why the
// channel is going down, and only the first explanation should stick.
type reasonBox struct {
	mu     sync.Mutex
	isSet  bool
	reason DisconnectReason
}

func (b *reasonBox) setIfEmpty(r DisconnectReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isSet {
		b.isSet = true
		b.reason = r
	}
}

func (b *reasonBox) get() DisconnectReason {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// Channel is the bidirectional streaming RPC hub client: a long-lived
// duplex channel multiplexing client invocations and server
// broadcasts/responses over a single Transport stream. Construction and
// connection are two separate phases so embedding types can wire
// up state before the reader task starts.
type Channel struct {
	transport  Transport
	method     MethodDescriptor
	codec      Codec
	dispatcher TypedDispatcher
	opts       *Options

	stream     DuplexStream
	reqStream  RequestStream
	respStream ResponseStream

	writeMu sync.Mutex // serializes writes onto the request stream

	ids     idAllocator
	waiters *waiterRegistry

	disposed       atomic.Bool
	connected      atomic.Bool
	connectStarted atomic.Bool

	cancel context.CancelFunc

	disconnectOnce sync.Once
	disconnectCh   chan struct{}
	reason         reasonBox
	finalReason    DisconnectReason

	// eg tracks the single reader task. teardown's "await the reader task"
	// step is eg.Wait(): it blocks until the task launched by Connect has
	// exited, and returns immediately if Connect was never called — no
	// separate pre-closed done-channel needed.
	eg *errgroup.Group
}

// New constructs a Channel without connecting it. Call Connect to open the
// transport and start the reader task.
func New(transport Transport, method MethodDescriptor, codec Codec, dispatcher TypedDispatcher, opts *Options) *Channel {
	c := &Channel{
		transport:    transport,
		method:       method,
		codec:        codec,
		dispatcher:   dispatcher,
		opts:         opts.withDefaults(),
		waiters:      newWaiterRegistry(),
		disconnectCh: make(chan struct{}),
		eg:           new(errgroup.Group),
	}
	return c
}

// Connect opens the duplex streaming call, launches the reader task, and
// publishes the channel as live. Not reentrant: a second call returns
// ErrAlreadyConnected.
func (c *Channel) Connect(ctx context.Context, host string, dialOpts ...DialOption) error {
	if !c.connectStarted.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}
	if c.disposed.Load() {
		return ErrDisposed
	}

	stream, err := c.transport.OpenDuplex(ctx, c.method, host, dialOpts...)
	if err != nil {
		return fmt.Errorf("hubmux: open duplex: %w", err)
	}

	c.stream = stream
	c.reqStream = stream.RequestStream()
	c.respStream = stream.ResponseStream()

	readerCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.eg.Go(func() error {
		c.runReader(readerCtx)
		return nil
	})

	c.connected.Store(true)
	return nil
}

// WaitForDisconnect blocks until teardown has completed and the
// disconnected signal has been published, or ctx is done first. Any number
// of observers may call this; it resolves exactly once and subsequent calls
// resolve immediately.
func (c *Channel) WaitForDisconnect(ctx context.Context) (DisconnectReason, error) {
	select {
	case <-c.disconnectCh:
		return c.finalReason, nil
	case <-ctx.Done():
		return DisconnectUnknown, ctx.Err()
	}
}

// Dispose requests orderly teardown and blocks until the reader task has
// exited and every waiter has been terminated. Calling Dispose N times
// resolves all N calls; the underlying teardown runs exactly once.
func (c *Channel) Dispose(ctx context.Context) error {
	c.reason.setIfEmpty(DisconnectDisposed)
	err := c.teardown(ctx, true)

	select {
	case <-c.disconnectCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// teardown is internal and idempotent. Only the caller that wins the
// disposed CAS performs the actual work (half-close, cancel, drain,
// publish); every other caller either waits for the reader task (if asked)
// or returns immediately, relying on its caller (Dispose) to wait on
// disconnectCh for full completion.
func (c *Channel) teardown(ctx context.Context, waitForSelf bool) error {
	first := c.disposed.CompareAndSwap(false, true)
	if !first {
		if waitForSelf {
			c.eg.Wait()
		}
		return nil
	}

	if c.reqStream != nil {
		_ = c.reqStream.Complete(ctx) // half-close; errors ignored, teardown continues regardless
	}
	if c.cancel != nil {
		c.cancel()
	}

	if waitForSelf {
		c.eg.Wait()
	}

	waiters := c.waiters.drain()
	reason := c.reason.get()

	var errs []error
	for _, w := range waiters {
		if err := cancelWaiter(w, reason); err != nil {
			errs = append(errs, err)
		}
	}

	c.publishDisconnected(reason)

	if len(errs) > 0 {
		return &TeardownError{Errs: errs}
	}
	return nil
}

// cancelWaiter guards a single cancellation attempt; Waiter[T].Cancel never
// itself errors, and any panic raised by a Cancel call is recovered and
// aggregated into the teardown error rather than crashing the process.
func cancelWaiter(w Completable, reason DisconnectReason) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hubmux: panic cancelling waiter: %v", r)
		}
	}()
	w.Cancel(reason)
	return nil
}

func (c *Channel) publishDisconnected(reason DisconnectReason) {
	c.disconnectOnce.Do(func() {
		c.finalReason = reason
		close(c.disconnectCh)
	})
}

func (c *Channel) logf(format string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger.Printf(format, args...)
	}
}

func (c *Channel) debugf(format string, args ...any) {
	if c.opts.Debug {
		c.logf(format, args...)
	}
}
