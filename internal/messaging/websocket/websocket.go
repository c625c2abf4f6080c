// Package websocket implements messaging.Transport over a gorilla/websocket
// client connection that redials with exponential backoff.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/messaging"
)

// Config configures the websocket transport.
type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	Logger           *slog.Logger
}

func (c *Config) withDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Transport is a websocket messaging.Transport. Call Run to connect.
type Transport struct {
	*messaging.Registry

	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	mu   sync.RWMutex
	conn *websocket.Conn

	writeMu sync.Mutex
}

var _ messaging.Transport = (*Transport)(nil)

func New(cfg Config) *Transport {
	cfg.withDefaults()
	return &Transport{
		Registry: messaging.NewRegistry(),
		cfg:      cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		logger: cfg.Logger.With("transport", "websocket"),
	}
}

// Run dials the server and keeps the connection alive until ctx is done.
// Connect hooks run after every successful dial.
func (t *Transport) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.InitialBackoff
	b.MaxInterval = t.cfg.MaxBackoff

	for {
		conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := b.NextBackOff()
			t.logger.Warn("Dial failed, retrying", "url", t.cfg.URL, "in", wait, "err", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()

		t.setConn(conn)
		t.logger.Info("Connected", "url", t.cfg.URL)
		t.NotifyConnect()

		err = t.readLoop(ctx, conn)
		t.setConn(nil)
		conn.Close()

		if ctx.Err() != nil {
			t.logger.Info("Transport shutting down")
			return ctx.Err()
		}
		t.logger.Warn("Connection lost, reconnecting", "err", err)
	}
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env messaging.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			t.logger.Warn("Dropping malformed frame", "size", len(data), "err", err)
			continue
		}
		if t.Dispatch(env.Event, env.Data) == 0 {
			t.logger.Debug("No handler for event", "event", env.Event)
		}
	}
}

// Emit writes an envelope to the current connection.
func (t *Transport) Emit(ctx context.Context, event string, payload any) error {
	conn := t.currentConn()
	if conn == nil {
		return entity.ErrNotConnected
	}
	env, err := messaging.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", event, err)
	}

	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}
	return nil
}

func (t *Transport) Connected() bool { return t.currentConn() != nil }

func (t *Transport) currentConn() *websocket.Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

func (t *Transport) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
}
