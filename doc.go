// Package hubmux implements the client side of a bidirectional streaming
// RPC hub: a long-lived duplex channel multiplexing fire-and-forget and
// request/response invocations to a server alongside server-originated
// broadcasts and responses, over an abstract Transport.
//
// The package owns framing (frame.go), invocation id allocation
// (idalloc.go), the waiter registry correlating responses with pending
// calls (registry.go, waiter.go), serialized writes (writer.go), the
// background reader task (reader.go), and connect/dispose lifecycle
// (channel.go). Generating a per-service typed dispatcher from method ids
// to decode calls is outside this package's scope; see TypedDispatcher and
// ReceiverTable in dispatch.go for the seam a generated client hooks into.
package hubmux
