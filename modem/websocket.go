package modem

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer opens a modem exposed by a serial-to-websocket bridge.
// Raw port bytes travel as binary messages in both directions.
type WebSocketDialer struct {
	// URL of the bridge, ws:// or wss://.
	URL string
	// Username and Password enable HTTP Basic authentication when Username
	// is set.
	Username string
	Password string
	// SkipTLSVerify disables certificate verification for wss://.
	SkipTLSVerify bool
}

var _ Dialer = WebSocketDialer{}

func (d WebSocketDialer) Dial(ctx context.Context) (Port, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("modem: invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("modem: unsupported URL scheme: %q (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" && d.SkipTLSVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	header := http.Header{}
	if d.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(d.Username + ":" + d.Password))
		header.Set("Authorization", "Basic "+auth)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("modem: websocket dial %s: %s: %w", u.Redacted(), resp.Status, err)
		}
		return nil, fmt.Errorf("modem: websocket dial %s: %w", u.Redacted(), err)
	}
	return newWebSocketPort(conn), nil
}

// webSocketPort adapts a websocket connection to the Port contract. A
// reader goroutine owns conn.ReadMessage because a read deadline on a
// websocket connection is fatal to the connection.
type webSocketPort struct {
	conn    *websocket.Conn
	msgs    chan []byte
	done    chan struct{}
	once    sync.Once
	err     error
	buf     []byte
	timeout time.Duration
}

func newWebSocketPort(conn *websocket.Conn) *webSocketPort {
	p := &webSocketPort{
		conn:    conn,
		msgs:    make(chan []byte, 16),
		done:    make(chan struct{}),
		timeout: time.Second,
	}
	go p.readLoop()
	return p
}

func (p *webSocketPort) readLoop() {
	defer close(p.msgs)
	for {
		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			p.err = err
			return
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}
		select {
		case p.msgs <- data:
		case <-p.done:
			return
		}
	}
}

func (p *webSocketPort) Read(b []byte) (int, error) {
	if len(p.buf) == 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		select {
		case data, ok := <-p.msgs:
			if !ok {
				if p.err != nil {
					return 0, p.err
				}
				return 0, ErrClosed
			}
			p.buf = data
		case <-timer.C:
			return 0, nil
		}
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	return n, nil
}

func (p *webSocketPort) Write(b []byte) (int, error) {
	if err := p.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (p *webSocketPort) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *webSocketPort) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.conn.Close()
	})
	return err
}
