// Package websocket provides a reusable WebSocket client with automatic reconnection
package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"signalbot/internal/core"
	"signalbot/pkg/telemetry"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler handles incoming WebSocket messages
type MessageHandler func(message []byte)

// Client is a resilient read-mostly WebSocket client
type Client struct {
	url           string
	handler       MessageHandler
	reconnectWait time.Duration
	dialer        *websocket.Dialer

	conn      *websocket.Conn
	mu        sync.Mutex
	connected atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// onConnected runs after every successful dial, including reconnects
	onConnected func()

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	logger core.ILogger

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new WebSocket client
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	meter := telemetry.GetMeter("ws-client")
	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))
	latencyHist, _ := meter.Float64Histogram("ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of processing WebSocket messages in seconds"))

	return &Client{
		url:           url,
		handler:       handler,
		reconnectWait: 5 * time.Second,
		dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pingInterval:  30 * time.Second,
		pingWait:      10 * time.Second,
		pongWait:      60 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		tracer:        telemetry.GetTracer("ws-client"),
		msgCounter:    msgCounter,
		connCounter:   connCounter,
		latencyHist:   latencyHist,
		logger:        logger.WithField("component", "ws_client"),
	}
}

// SetPingConfig sets the ping/pong configuration
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SetReconnectWait sets the pause between a dropped connection and the next dial
func (c *Client) SetReconnectWait(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectWait = d
}

// SetOnConnected sets the callback for when the connection is established
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Connected reports whether a connection is currently open
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Send writes a JSON message
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start connects and begins listening for messages
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and waits for the loops to exit
func (c *Client) Stop() {
	c.cancel()
	c.closeConn()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("WebSocket client Stop: some goroutines did not exit within timeout")
	}
}

func (c *Client) waitReconnect() bool {
	c.mu.Lock()
	wait := c.reconnectWait
	c.mu.Unlock()

	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	for c.ctx.Err() == nil {
		conn, err := c.connect()
		if err != nil {
			c.logger.Error("WebSocket connect failed", "url", c.url, "error", err)
			if !c.waitReconnect() {
				return
			}
			continue
		}

		c.mu.Lock()
		onConnected := c.onConnected
		pingInterval := c.pingInterval
		c.mu.Unlock()

		if onConnected != nil {
			onConnected()
		}

		heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
		if pingInterval > 0 {
			c.wg.Add(1)
			go c.heartbeat(heartbeatCtx, conn)
		}

		c.readLoop(conn)
		heartbeatCancel()
		c.logger.Warn("WebSocket connection lost", "url", c.url)

		if !c.waitReconnect() {
			return
		}
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait))
			c.mu.Unlock()
			if err != nil {
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() (*websocket.Conn, error) {
	ctx, span := c.tracer.Start(c.ctx, "WS Connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	c.mu.Lock()
	pongWait := c.pongWait
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.conn = conn
	c.mu.Unlock()

	c.connected.Store(true)
	return conn, nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.closeConn()

	for c.ctx.Err() == nil {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		start := time.Now()
		c.msgCounter.Add(c.ctx, 1)

		if c.handler != nil {
			c.handler(message)
		}

		c.latencyHist.Record(c.ctx, time.Since(start).Seconds())
	}
}
