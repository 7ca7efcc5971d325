package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

const (
	// Time allowed to read the next message (or pong) from the server.
	pongWait = 60 * time.Second

	// Send pings to the server with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Time allowed to write a message to the server.
	writeWait = 10 * time.Second

	maxReconnectDelay = 30 * time.Second
)

// Event types pushed by the server.
const (
	EventOrderUpserted = "order.upserted"
)

// Event is a server-originated message.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OrderHandler receives orders pushed by the server.
type OrderHandler func(domain.Order)

// Realtime subscribes to the server's push channel over a websocket and
// reconnects with backoff until its context ends.
type Realtime struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	onOrder OrderHandler
	logger  *slog.Logger
}

// NewRealtime creates a subscriber for url. header is sent on the
// handshake (API key).
func NewRealtime(url string, header http.Header, onOrder OrderHandler, logger *slog.Logger) *Realtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Realtime{
		url:     url,
		header:  header,
		dialer:  websocket.DefaultDialer,
		onOrder: onOrder,
		logger:  logger,
	}
}

// Run connects, dispatches events and reconnects until ctx is done.
func (r *Realtime) Run(ctx context.Context) error {
	delay := time.Second
	for {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("realtime connection lost", "url", r.url, "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// session runs one connection until it fails or ctx ends.
func (r *Realtime) session(ctx context.Context) error {
	conn, _, err := r.dialer.DialContext(ctx, r.url, r.header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	r.logger.Info("realtime connected", "url", r.url)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := r.dispatch(data); err != nil {
			r.logger.Warn("dropping realtime event", "error", err)
		}
	}
}

func (r *Realtime) dispatch(data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	switch ev.Type {
	case EventOrderUpserted:
		var o domain.Order
		if err := json.Unmarshal(ev.Payload, &o); err != nil {
			return fmt.Errorf("decode order: %w", err)
		}
		if o.ID == "" {
			return errors.New("order event without id")
		}
		if r.onOrder != nil {
			r.onOrder(o)
		}
	default:
		r.logger.Debug("ignoring realtime event", "type", ev.Type)
	}
	return nil
}
