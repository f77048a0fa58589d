package hubmux

import "context"

// Transport opens the single duplex streaming call a Channel multiplexes
// over. It is the only entry point the core needs into whatever carries
// bytes between client and server (HTTP/2, QUIC, an in-process pipe in
// tests); framing, correlation, and dispatch all live above it.
type Transport interface {
	OpenDuplex(ctx context.Context, method MethodDescriptor, host string, opts ...DialOption) (DuplexStream, error)
}

// MethodDescriptor names the streaming RPC the transport should open. It is
// opaque to the core; a generated client supplies it.
type MethodDescriptor struct {
	ServiceName string
	MethodName  string
}

// DialOption configures a single Transport.OpenDuplex call. The core never
// constructs one; it only threads caller-supplied options through.
type DialOption func(*dialOptions)

type dialOptions struct{}

// DuplexStream is a duplex byte-stream carrier: an ordered send half and an
// ordered receive half over one logical channel. The core is the single
// reader of ResponseStream and serializes all writes to RequestStream.
type DuplexStream interface {
	RequestStream() RequestStream
	ResponseStream() ResponseStream
}

// RequestStream is the client-to-server half of a DuplexStream.
type RequestStream interface {
	// Write sends one fully framed message. Implementations must not
	// interleave bytes from concurrent Write calls; hubmux additionally
	// serializes its own calls at the channel level, so a correct
	// transport never sees concurrent Write calls from this package.
	Write(ctx context.Context, frame []byte) error
	// Complete half-closes the send side. Further writes are an error.
	Complete(ctx context.Context) error
}

// ResponseStream is the server-to-client half of a DuplexStream.
type ResponseStream interface {
	// Next blocks for the next frame, returns (nil, nil) on a graceful
	// remote close, and returns ctx.Err() once cancel fires.
	Next(ctx context.Context) ([]byte, error)
}

// Codec serializes and deserializes hub method payloads. The core never
// inspects the bytes it produces; they are opaque payload slices framed by
// the Frame codec in frame.go. A Codec implementation may itself apply a
// compression wrapper around the encoded bytes — that is invisible here by
// design.
type Codec interface {
	Encode(value any) ([]byte, error)
	Decode(data []byte, out any) error
}
