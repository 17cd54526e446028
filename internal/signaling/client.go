package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteWait        = 1 * time.Second
	defaultMaxMessageBytes  = 64 * 1024
)

// ErrClosed is returned by Send after the client was closed or the relay
// connection dropped.
var ErrClosed = errors.New("signaling connection closed")

// Handler receives each well-formed inbound message, in arrival order, on the
// client's read goroutine. It must not block for long.
type Handler func(Message)

type ClientConfig struct {
	// URL is the relay endpoint, e.g. ws://host/signal?session=abc.
	URL    string
	Header http.Header

	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	MaxMessageBytes  int64

	Logger *slog.Logger
}

// Client is a connection to the relay. Writes are serialized; reads run on a
// dedicated goroutine until the connection fails or Close is called.
type Client struct {
	conn      *websocket.Conn
	log       *slog.Logger
	writeWait time.Duration
	handler   Handler

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// Dial connects to the relay and starts delivering messages to handler.
func Dial(ctx context.Context, cfg ClientConfig, handler Handler) (*Client, error) {
	if handler == nil {
		return nil, errors.New("signaling: nil handler")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial relay %s: %w (status %d)", cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial relay %s: %w", cfg.URL, err)
	}
	conn.SetReadLimit(cfg.MaxMessageBytes)

	c := &Client{
		conn:      conn,
		log:       logger,
		writeWait: cfg.WriteWait,
		handler:   handler,
		done:      make(chan struct{}),
	}
	logger.Debug("signaling connected", "url", cfg.URL)

	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}

		msg, err := Parse(data)
		if err != nil {
			// Never let one bad message kill the session.
			c.log.Warn("dropping malformed signaling message", "err", err, "bytes", len(data))
			continue
		}
		c.handler(msg)
	}
}

// Send encodes and writes msg.
func (c *Client) Send(msg Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return c.Err()
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		err = fmt.Errorf("%w: %v", ErrClosed, err)
		go c.shutdown(err)
		return err
	}
	return nil
}

// Done is closed once the connection is gone, for any reason.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended; nil while it is open.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close sends a normal closure and tears the connection down. It is safe to
// call more than once.
func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(c.writeWait))
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		_ = c.conn.Close()
		close(c.done)
		if err != ErrClosed {
			c.log.Debug("signaling connection ended", "err", err)
		}
	})
}
