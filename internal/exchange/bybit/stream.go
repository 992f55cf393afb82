package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/domain"
	"github.com/alanyoungcy/tradecore/internal/exchange"
)

const (
	wsReadLimit    = 2 << 20
	wsPingInterval = 20 * time.Second
)

// Stream is the authenticated private websocket carrying order and execution
// updates. It reconnects with exponential backoff and re-subscribes after
// every reconnect; a reconnect event tells the executor to reconcile, since
// fills may have been missed while disconnected.
type Stream struct {
	url       string
	apiKey    string
	apiSecret string

	conn   *websocket.Conn
	connMu sync.Mutex

	events chan exchange.Event
	stopCh chan struct{}
	once   sync.Once

	reconnectMin time.Duration
	reconnectMax time.Duration

	logger *slog.Logger
}

// NewStream builds the private stream from the exchange configuration.
func NewStream(cfg config.ExchangeConfig, logger *slog.Logger) *Stream {
	return &Stream{
		url:          cfg.WSURL,
		apiKey:       cfg.APIKey,
		apiSecret:    cfg.APISecret,
		events:       make(chan exchange.Event, 100),
		stopCh:       make(chan struct{}),
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
		logger:       logger.With(slog.String("component", "bybit_ws")),
	}
}

// Connect dials, authenticates, subscribes to the private topics, and starts
// the read loop.
func (s *Stream) Connect(ctx context.Context) error {
	s.logger.Info("connecting", slog.String("url", s.url))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("bybit: ws dial: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	if err := s.setup(conn); err != nil {
		_ = conn.Close()
		return err
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.logger.Info("connected")
	go s.readLoop()
	go s.pingLoop()
	return nil
}

// Events returns the stream's event channel. It is closed on Close.
func (s *Stream) Events() <-chan exchange.Event { return s.events }

// Close stops the read loop and closes the connection.
func (s *Stream) Close() error {
	s.once.Do(func() { close(s.stopCh) })
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// setup authenticates and subscribes on a fresh connection.
func (s *Stream) setup(conn *websocket.Conn) error {
	expires := time.Now().UnixMilli() + 5_000
	payload := fmt.Sprintf("GET/realtime%d", expires)
	auth := wsCommand{
		Op:   "auth",
		Args: []any{s.apiKey, strconv.FormatInt(expires, 10), sign(s.apiSecret, payload)},
	}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("bybit: ws auth: %w", err)
	}

	sub := wsCommand{Op: "subscribe", Args: []any{"order", "execution"}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("bybit: ws subscribe: %w", err)
	}
	return nil
}

func (s *Stream) readLoop() {
	defer close(s.events)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			s.logger.Warn("read failed", slog.Any("error", err))
			if !s.reconnect() {
				return
			}
			continue
		}

		s.dispatch(data)
	}
}

// pingLoop keeps the connection alive; Bybit drops silent clients.
func (s *Stream) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteJSON(wsCommand{Op: "ping"}); err != nil {
				s.logger.Debug("ping failed", slog.Any("error", err))
			}
		}
	}
}

func (s *Stream) reconnect() bool {
	backoff := s.reconnectMin
	for {
		select {
		case <-s.stopCh:
			return false
		case <-time.After(backoff):
		}

		s.logger.Info("reconnecting", slog.Duration("backoff", backoff))

		conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
		if err != nil {
			s.logger.Warn("reconnect dial failed", slog.Any("error", err))
			backoff = s.nextBackoff(backoff)
			continue
		}
		conn.SetReadLimit(wsReadLimit)

		if err := s.setup(conn); err != nil {
			s.logger.Warn("reconnect setup failed", slog.Any("error", err))
			_ = conn.Close()
			backoff = s.nextBackoff(backoff)
			continue
		}

		s.connMu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.conn = conn
		s.connMu.Unlock()

		s.emit(exchange.Event{Type: exchange.EventReconnect})
		s.logger.Info("reconnected")
		return true
	}
}

func (s *Stream) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > s.reconnectMax {
		return s.reconnectMax
	}
	return next
}

func (s *Stream) dispatch(data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("unparseable message", slog.Any("error", err))
		return
	}

	switch msg.Topic {
	case "execution":
		s.handleExecution(msg.Data)
	case "order":
		s.handleOrder(msg.Data)
	}
}

func (s *Stream) handleExecution(data json.RawMessage) {
	var execs []struct {
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		ExecQty     string `json:"execQty"`
		ExecPrice   string `json:"execPrice"`
		ExecTime    string `json:"execTime"`
	}
	if err := json.Unmarshal(data, &execs); err != nil {
		s.logger.Warn("unparseable execution", slog.Any("error", err))
		return
	}

	for _, e := range execs {
		qty, _ := strconv.ParseFloat(e.ExecQty, 64)
		price, _ := strconv.ParseFloat(e.ExecPrice, 64)
		tsMs, _ := strconv.ParseInt(e.ExecTime, 10, 64)
		s.emit(exchange.Event{
			Type: exchange.EventFill,
			Fill: &domain.Fill{
				ClientOrderID:   e.OrderLinkID,
				ExchangeOrderID: e.OrderID,
				Symbol:          e.Symbol,
				Side:            domain.Side(e.Side),
				Quantity:        qty,
				Price:           price,
				Time:            time.UnixMilli(tsMs),
			},
		})
	}
}

func (s *Stream) handleOrder(data json.RawMessage) {
	var orders []orderItem
	if err := json.Unmarshal(data, &orders); err != nil {
		s.logger.Warn("unparseable order update", slog.Any("error", err))
		return
	}

	for _, o := range orders {
		st := o.toOrderState(o.Symbol)
		s.emit(exchange.Event{Type: exchange.EventOrder, Order: &st})
	}
}

// emit drops events when the consumer lags rather than blocking the read
// loop; reconciliation catches anything dropped.
func (s *Stream) emit(ev exchange.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event buffer full, dropping", slog.String("type", string(ev.Type)))
	}
}

// wsCommand is an outbound op frame.
type wsCommand struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
}

// wsMessage is an inbound topic frame.
type wsMessage struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}
