package hubmux

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sagernet/sing/common/buf"
	"github.com/stretchr/testify/require"
)

func newTestChannel(t *testing.T, dispatcher TypedDispatcher) (*Channel, *mockDuplexStream) {
	t.Helper()
	stream := newMockDuplexStream()
	transport := &mockTransport{stream: stream}
	ch := New(transport, MethodDescriptor{ServiceName: "svc", MethodName: "Connect"}, jsonCodec{}, dispatcher, DefaultOptions())
	require.NoError(t, ch.Connect(context.Background(), "test-host"))
	return ch, stream
}

func pushResponseOK(t *testing.T, stream *mockDuplexStream, invocationID, methodID int32, value any) {
	t.Helper()
	payload, err := (jsonCodec{}).Encode(value)
	require.NoError(t, err)
	out := buf.NewSize(64 + len(payload))
	defer out.Release()
	_, err = EncodeRequest(out, invocationID, methodID, payload)
	require.NoError(t, err)
	stream.resp.push(append([]byte(nil), out.Bytes()...))
}

func pushResponseError(t *testing.T, stream *mockDuplexStream, invocationID int32, message string) {
	t.Helper()
	out := buf.NewSize(64)
	defer out.Release()
	require.NoError(t, encodeAny(out, []any{invocationID, nil, message}))
	stream.resp.push(append([]byte(nil), out.Bytes()...))
}

func pushBroadcast(t *testing.T, stream *mockDuplexStream, methodID int32, value any) {
	t.Helper()
	payload, err := (jsonCodec{}).Encode(value)
	require.NoError(t, err)
	out := buf.NewSize(64 + len(payload))
	defer out.Release()
	_, err = EncodeFireAndForget(out, methodID, payload)
	require.NoError(t, err)
	stream.resp.push(append([]byte(nil), out.Bytes()...))
}

// TestHappyRequestResponse exercises a single request/response round trip.
func TestHappyRequestResponse(t *testing.T) {
	ch, stream := newTestChannel(t, NewReceiverTable())
	defer ch.Dispose(context.Background())

	resultCh := make(chan int, 1)
	errCh := make(chan error, 1)
	go func() {
		v, err := WriteWithResponse[int](context.Background(), ch, 7, []byte{0x01}, decodeInto[int])
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- v
	}()

	pushResponseOK(t, stream, 1, 7, 5)

	select {
	case v := <-resultCh:
		require.Equal(t, 5, v)
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
	require.Eventually(t, func() bool { return ch.waiters.size() == 0 }, time.Second, time.Millisecond)
}

// TestServerError exercises a response-error frame failing the waiter.
func TestServerError(t *testing.T) {
	ch, stream := newTestChannel(t, NewReceiverTable())
	defer ch.Dispose(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := WriteWithResponse[int](context.Background(), ch, 7, []byte{0x01}, decodeInto[int])
		errCh <- err
	}()

	pushResponseError(t, stream, 1, "boom")

	select {
	case err := <-errCh:
		var serverErr *ServerError
		require.ErrorAs(t, err, &serverErr)
		require.Equal(t, "boom", serverErr.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server error")
	}
	require.Eventually(t, func() bool { return ch.waiters.size() == 0 }, time.Second, time.Millisecond)
}

// TestBroadcastNonInterference verifies a broadcast is dispatched to its
// receiver without touching the waiter registry.
func TestBroadcastNonInterference(t *testing.T) {
	table := NewReceiverTable()
	invoked := make(chan int, 1)
	table.Register(42, func(_ context.Context, payload []byte) error {
		v, err := decodeInto[int](payload)
		if err != nil {
			return err
		}
		invoked <- v
		return nil
	})

	ch, stream := newTestChannel(t, table)
	defer ch.Dispose(context.Background())

	pushBroadcast(t, stream, 42, 99)

	select {
	case v := <-invoked:
		require.Equal(t, 99, v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast dispatch")
	}
	require.Equal(t, 0, ch.waiters.size())
}

// TestConcurrentDispose verifies outstanding calls are cancelled when
// Dispose runs concurrently with them.
func TestConcurrentDispose(t *testing.T) {
	ch, _ := newTestChannel(t, NewReceiverTable())

	var errs [2]chan error
	for i := range errs {
		errs[i] = make(chan error, 1)
		go func(out chan error) {
			_, err := WriteWithResponse[int](context.Background(), ch, 1, []byte{}, decodeInto[int])
			out <- err
		}(errs[i])
	}

	require.Eventually(t, func() bool { return ch.waiters.size() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, ch.Dispose(context.Background()))

	for _, out := range errs {
		select {
		case err := <-out:
			var cancelled *CancelledError
			require.ErrorAs(t, err, &cancelled)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for cancellation")
		}
	}

	_, disconnectErr := ch.WaitForDisconnect(context.Background())
	require.NoError(t, disconnectErr)

	_, err := WriteWithResponse[int](context.Background(), ch, 1, []byte{}, decodeInto[int])
	require.ErrorIs(t, err, ErrDisposed)
}

// TestRemoteClose verifies a graceful end-of-stream from the server
// disconnects the channel with DisconnectRemoteClosed.
func TestRemoteClose(t *testing.T) {
	ch, stream := newTestChannel(t, NewReceiverTable())

	stream.resp.closeStream()

	reason, err := ch.WaitForDisconnect(context.Background())
	require.NoError(t, err)
	require.Equal(t, DisconnectRemoteClosed, reason)

	require.NoError(t, ch.Dispose(context.Background()))
}

// TestMalformedFrameThenValidFrame verifies a malformed frame is dropped
// without killing the channel, at the channel level (frame_test.go covers
// the same property at the codec level).
func TestMalformedFrameThenValidFrame(t *testing.T) {
	ch, stream := newTestChannel(t, NewReceiverTable())
	defer ch.Dispose(context.Background())

	bad := buf.NewSize(32)
	require.NoError(t, encodeAny(bad, []any{1, 2, 3, 4, 5}))
	stream.resp.push(append([]byte(nil), bad.Bytes()...))
	bad.Release()

	resultCh := make(chan int, 1)
	go func() {
		v, err := WriteWithResponse[int](context.Background(), ch, 3, []byte{}, decodeInto[int])
		require.NoError(t, err)
		resultCh <- v
	}()

	pushResponseOK(t, stream, 1, 3, 11)

	select {
	case v := <-resultCh:
		require.Equal(t, 11, v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out: malformed frame appears to have killed the channel")
	}
}

func TestWriteFireAndForgetSerializesWrites(t *testing.T) {
	ch, stream := newTestChannel(t, NewReceiverTable())
	defer ch.Dispose(context.Background())

	for i := int32(0); i < 5; i++ {
		require.NoError(t, ch.WriteFireAndForget(context.Background(), i, []byte("x")))
	}

	require.Eventually(t, func() bool { return len(stream.req.written()) == 5 }, time.Second, time.Millisecond)
	frames := stream.req.written()
	for i, f := range frames {
		frame, err := DecodeFrame(f)
		require.NoError(t, err)
		require.Equal(t, FrameBroadcast, frame.Kind)
		require.Equal(t, int32(i), frame.MethodID)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	ch, _ := newTestChannel(t, NewReceiverTable())

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ch.Dispose(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestErrNotConnected(t *testing.T) {
	ch := New(&mockTransport{stream: newMockDuplexStream()}, MethodDescriptor{}, jsonCodec{}, NewReceiverTable(), DefaultOptions())
	_, err := WriteWithResponse[int](context.Background(), ch, 1, []byte{}, decodeInto[int])
	require.True(t, errors.Is(err, ErrNotConnected))
}
