package feed

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned by Run once Close has been called.
var ErrTransportClosed = errors.New("feed: transport closed")

// Callbacks are the transport events the Manager reacts to. A transport must
// invoke them from the goroutine that called Run, one at a time, so frames
// are handled strictly in delivery order.
type Callbacks struct {
	OnOpen    func()
	OnMessage func(raw []byte)
	OnError   func(err error)
	OnClose   func(err error)
}

// Transport is one push connection to the feed. Run dials, drives the
// callbacks for the lifetime of the connection and returns when it ends. A
// failed dial reports OnError and returns without OnOpen/OnClose. Close may be
// called from any goroutine, interrupts a running Run, and is idempotent.
type Transport interface {
	Run(ctx context.Context, cb Callbacks) error
	Close() error
}

func (cb Callbacks) open() {
	if cb.OnOpen != nil {
		cb.OnOpen()
	}
}

func (cb Callbacks) message(raw []byte) {
	if cb.OnMessage != nil {
		cb.OnMessage(raw)
	}
}

func (cb Callbacks) fail(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func (cb Callbacks) close(err error) {
	if cb.OnClose != nil {
		cb.OnClose(err)
	}
}
