package hubmux

import (
	"context"
	"fmt"
)

// TypedDispatcher is the seam by which a method id plus payload bytes
// either complete a typed waiter or invoke a typed receiver callback.
// Generating this per service is out of this package's scope; ReceiverTable
// below is a hand-written, non-generated default a generated or
// hand-written dispatcher can embed.
type TypedDispatcher interface {
	// Resolve completes waiter with the decoded payload for methodID.
	// Implementations typically just call waiter.Resolve(payload): the
	// decoder closure already bound into the waiter at the call site
	// knows how to turn payload into the caller's expected type, so
	// methodID is most often unused by Resolve and exists for dispatchers
	// that want to validate it against the waiter's expected method.
	Resolve(methodID int32, waiter Completable, payload []byte) error
	// InvokeReceiver decodes payload per methodID and invokes the matching
	// receiver callback. The reader loop awaits this before reading the
	// next frame — a receiver must not block indefinitely.
	InvokeReceiver(ctx context.Context, methodID int32, payload []byte) error
}

// BroadcastHandler decodes and handles one broadcast payload.
type BroadcastHandler func(ctx context.Context, payload []byte) error

// ReceiverTable is a method-id-keyed table of broadcast handlers that
// implements TypedDispatcher in full: Resolve forwards to the waiter's own
// decoder, InvokeReceiver looks methodID up in the table. A generated
// per-service stub populates the table once at construction time; this
// package never generates one itself.
type ReceiverTable struct {
	handlers map[int32]BroadcastHandler
}

// NewReceiverTable returns an empty dispatch table.
func NewReceiverTable() *ReceiverTable {
	return &ReceiverTable{handlers: make(map[int32]BroadcastHandler)}
}

// Register binds methodID to h. Intended to be called from generated
// service-stub init code, one entry per hub receiver method.
func (t *ReceiverTable) Register(methodID int32, h BroadcastHandler) {
	t.handlers[methodID] = h
}

// Resolve implements TypedDispatcher.
func (t *ReceiverTable) Resolve(_ int32, waiter Completable, payload []byte) error {
	return waiter.Resolve(payload)
}

// InvokeReceiver implements TypedDispatcher.
func (t *ReceiverTable) InvokeReceiver(ctx context.Context, methodID int32, payload []byte) error {
	h, ok := t.handlers[methodID]
	if !ok {
		return fmt.Errorf("hubmux: no receiver registered for method %d", methodID)
	}
	return h(ctx, payload)
}
