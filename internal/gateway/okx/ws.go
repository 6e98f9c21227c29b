package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradeforge/okxbot/internal/domain"
)

const (
	// DefaultWSURL is the production OKX v5 public WebSocket endpoint.
	DefaultWSURL = "wss://ws.okx.com:8443/ws/v5/public"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the time allowed between inbound messages. OKX closes
	// idle connections after 30 seconds without traffic.
	readWait = 25 * time.Second

	// pingPeriod sends application-level pings at this interval. Must be
	// less than readWait.
	pingPeriod = 15 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TickerHandler is called for every ticker update.
type TickerHandler func(domain.Ticker)

// wsCommand is a subscribe/unsubscribe frame.
type wsCommand struct {
	Op   string      `json:"op"`
	Args []wsChannel `json:"args"`
}

type wsChannel struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// wsMessage is the envelope of a data push or an event acknowledgement.
type wsMessage struct {
	Event string          `json:"event"`
	Arg   wsChannel       `json:"arg"`
	Data  json.RawMessage `json:"data"`
	Code  string          `json:"code"`
	Msg   string          `json:"msg"`
}

// WSClient is a WebSocket client for the OKX v5 public data feed. It manages
// the connection lifecycle, subscriptions, and dispatches ticker updates to
// registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []wsChannel

	tickerHandlers []TickerHandler
	handlerMu      sync.RWMutex

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewWSClient creates a WebSocket client for the given endpoint.
func NewWSClient(wsURL string) *WSClient {
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("okx/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("okx/ws: connect: %w", err)
	}

	w.conn = conn
	w.conn.SetReadDeadline(time.Now().Add(readWait))

	go w.readLoop()
	go w.pingLoop()

	// Restore any previous subscriptions after reconnect.
	if len(w.subscriptions) > 0 {
		cmd := wsCommand{Op: "subscribe", Args: w.subscriptions}
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("okx/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// SubscribeTickers subscribes to the tickers channel for the given symbols.
func (w *WSClient) SubscribeTickers(ctx context.Context, symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("okx/ws: not connected")
	}

	args := make([]wsChannel, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, wsChannel{Channel: "tickers", InstID: s})
	}

	if err := w.sendCommand(wsCommand{Op: "subscribe", Args: args}); err != nil {
		return fmt.Errorf("okx/ws: subscribe tickers: %w", err)
	}

	// Track subscriptions for reconnection.
	w.subscriptions = append(w.subscriptions, args...)
	return nil
}

// UnsubscribeTickers unsubscribes from the tickers channel for the given symbols.
func (w *WSClient) UnsubscribeTickers(ctx context.Context, symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("okx/ws: not connected")
	}

	args := make([]wsChannel, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, wsChannel{Channel: "tickers", InstID: s})
	}
	if err := w.sendCommand(wsCommand{Op: "unsubscribe", Args: args}); err != nil {
		return fmt.Errorf("okx/ws: unsubscribe tickers: %w", err)
	}

	removed := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		removed[s] = true
	}
	filtered := w.subscriptions[:0]
	for _, sub := range w.subscriptions {
		if !removed[sub.InstID] {
			filtered = append(filtered, sub)
		}
	}
	w.subscriptions = filtered

	return nil
}

// OnTicker registers a handler called for every ticker update.
func (w *WSClient) OnTicker(handler TickerHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tickerHandlers = append(w.tickerHandlers, handler)
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages and dispatches ticker updates. On
// disconnect it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		conn.SetReadDeadline(time.Now().Add(readWait))
		w.handleMessage(message)
	}
}

// pingLoop keeps the connection alive. OKX expects the literal text "ping"
// rather than a WebSocket ping frame.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw message and routes ticker pushes to handlers.
func (w *WSClient) handleMessage(raw []byte) {
	if string(raw) == "pong" {
		return
	}

	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // drop unparseable messages
	}

	if msg.Event != "" || msg.Arg.Channel != "tickers" || len(msg.Data) == 0 {
		return
	}

	var tickers []apiTicker
	if err := json.Unmarshal(msg.Data, &tickers); err != nil {
		return
	}

	w.handlerMu.RLock()
	handlers := w.tickerHandlers
	w.handlerMu.RUnlock()

	for _, t := range tickers {
		tk, err := t.ToDomainTicker()
		if err != nil {
			continue
		}
		for _, h := range handlers {
			h(tk)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
