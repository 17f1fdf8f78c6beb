package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultFeedURL is the EMSC standing-order endpoint (raw websocket flavor of
// the SockJS service).
const DefaultFeedURL = "wss://www.seismicportal.eu/standing_order/websocket"

const (
	defaultHandshakeTimeout = 15 * time.Second
	defaultReadTimeout      = 5 * time.Minute
	defaultPingInterval     = 30 * time.Second
	closeWriteTimeout       = time.Second
)

// WebSocketTransport reads text frames from a websocket feed.
type WebSocketTransport struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	// ReadTimeout bounds the silence tolerated between frames or pongs.
	ReadTimeout  time.Duration
	PingInterval time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebSocketTransport returns a transport for url with default timeouts.
func NewWebSocketTransport(url string) *WebSocketTransport {
	if url == "" {
		url = DefaultFeedURL
	}
	return &WebSocketTransport{
		URL:              url,
		HandshakeTimeout: defaultHandshakeTimeout,
		ReadTimeout:      defaultReadTimeout,
		PingInterval:     defaultPingInterval,
	}
}

// Run dials the feed and delivers frames until the connection ends.
func (t *WebSocketTransport) Run(ctx context.Context, cb Callbacks) error {
	if t.isClosed() {
		return ErrTransportClosed
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.handshakeTimeout(),
	}
	conn, _, err := dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fmt.Errorf("dial %s: %w", t.URL, err)
		cb.fail(err)
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.Close()
		return ErrTransportClosed
	}
	t.conn = conn
	t.mu.Unlock()

	readTimeout := t.readTimeout()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	finished := make(chan struct{})
	defer close(finished)
	go t.keepalive(ctx, conn, finished)

	cb.open()
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.release(conn)
			if t.isClosed() || ctx.Err() != nil {
				cb.close(nil)
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cb.close(err)
				return nil
			}
			cb.fail(err)
			cb.close(err)
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		cb.message(data)
	}
}

// Close sends a normal-closure frame when connected and closes the socket.
// Later calls are no-ops.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// keepalive pings the server and closes the socket when ctx ends so a
// blocked ReadMessage returns.
func (t *WebSocketTransport) keepalive(ctx context.Context, conn *websocket.Conn, finished <-chan struct{}) {
	interval := t.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-finished:
			return
		case <-ctx.Done():
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (t *WebSocketTransport) release(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	_ = conn.Close()
}

func (t *WebSocketTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *WebSocketTransport) handshakeTimeout() time.Duration {
	if t.HandshakeTimeout <= 0 {
		return defaultHandshakeTimeout
	}
	return t.HandshakeTimeout
}

func (t *WebSocketTransport) readTimeout() time.Duration {
	if t.ReadTimeout <= 0 {
		return defaultReadTimeout
	}
	return t.ReadTimeout
}
