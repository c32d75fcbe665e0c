package wsstream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"futuresDesk/internal/ports"

	"github.com/gorilla/websocket"
)

const (
	baseURLMainnet = "wss://fstream.binance.com"
	baseURLTestnet = "wss://stream.binancefuture.com"

	defaultHandshakeTimeout = 10 * time.Second
	// The exchange pings every few minutes; a silent socket for longer is dead.
	defaultReadTimeout = 10 * time.Minute
	pongWait           = 5 * time.Second
)

// Config holds configuration for the stream dialer.
type Config struct {
	UseTestnet       bool
	BaseURL          string // overrides the network host, used by tests
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	Logger           ports.Logger
}

// Dialer opens Binance USDT-M futures websocket streams. It implements ports.StreamDialer.
type Dialer struct {
	baseURL     string
	readTimeout time.Duration
	dialer      *websocket.Dialer
	logger      ports.Logger
}

// NewDialer creates a Dialer.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for stream dialer")
	}
	base := cfg.BaseURL
	if base == "" {
		base = baseURLMainnet
		if cfg.UseTestnet {
			base = baseURLTestnet
		}
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid stream base URL %q: %w", base, err)
	}
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = defaultHandshakeTimeout
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &Dialer{
		baseURL:     strings.TrimRight(base, "/"),
		readTimeout: readTimeout,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: handshake,
		},
		logger: cfg.Logger,
	}, nil
}

// UserStream opens the private order stream bound to sessionKey.
func (d *Dialer) UserStream(ctx context.Context, sessionKey string) (ports.StreamConn, error) {
	if sessionKey == "" {
		return nil, fmt.Errorf("%w: empty session key", ports.ErrInvalidRequest)
	}
	return d.dial(ctx, "/ws/"+sessionKey, "user")
}

// MarkPriceStream opens the 1s mark price stream of symbol.
func (d *Dialer) MarkPriceStream(ctx context.Context, symbol string) (ports.StreamConn, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty symbol", ports.ErrInvalidRequest)
	}
	return d.dial(ctx, "/ws/"+strings.ToLower(symbol)+"@markPrice@1s", "markPrice:"+symbol)
}

func (d *Dialer) dial(ctx context.Context, path, name string) (ports.StreamConn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, d.baseURL+path, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		d.logger.Error(ctx, err, "Stream dial failed", map[string]interface{}{"stream": name})
		return nil, fmt.Errorf("%w: dial %s: %w", ports.ErrConnectionFailed, name, err)
	}
	c := &conn{ws: ws, readTimeout: d.readTimeout}
	_ = ws.SetReadDeadline(time.Now().Add(d.readTimeout))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(pongWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	d.logger.Info(ctx, "Stream connected", map[string]interface{}{"stream": name})
	return c, nil
}

// conn adapts a gorilla websocket to ports.StreamConn.
type conn struct {
	ws          *websocket.Conn
	readTimeout time.Duration
	writeMu     sync.Mutex
	closeOnce   sync.Once
	closeErr    error
}

// ReadMessage returns the next text or binary frame.
func (c *conn) ReadMessage() ([]byte, error) {
	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
	return msg, nil
}

// Close sends a close frame and closes the socket. Further calls are no-ops.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(pongWait))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
