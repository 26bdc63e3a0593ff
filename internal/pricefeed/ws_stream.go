package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// StreamConfig configures WebSocket stream behavior.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultStreamConfig returns default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Stream delivers live quotes over a WebSocket subscription. It reconnects
// with exponential backoff and resubscribes after every reconnect. The last
// quote per asset is kept so Stream also satisfies Feed.
type Stream struct {
	endpoint string
	config   StreamConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	assets   []string
	assetsMu sync.Mutex

	quotes chan Quote

	last   map[string]Quote
	lastMu sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewStream connects to the oracle's WebSocket endpoint and subscribes to
// the given assets.
func NewStream(ctx context.Context, endpoint string, assets []string, config *StreamConfig) (*Stream, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	s := &Stream{
		endpoint: endpoint,
		config:   cfg,
		logger:   log.New(os.Stdout, "[pricefeed] ", log.LstdFlags),
		assets:   append([]string(nil), assets...),
		quotes:   make(chan Quote, 1024),
		last:     make(map[string]Quote),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if err := s.subscribe(); err != nil {
		s.conn.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.readLoop()

	return s, nil
}

// Quotes returns the channel of live quotes.
func (s *Stream) Quotes() <-chan Quote {
	return s.quotes
}

// Price returns the most recent streamed price for an asset.
func (s *Stream) Price(_ context.Context, asset string) (decimal.Decimal, error) {
	s.lastMu.RLock()
	q, ok := s.last[asset]
	s.lastMu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("no quote received yet for %s", asset)
	}
	return q.Price, nil
}

// Close shuts down the stream and its reader.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.quotes)
	return nil
}

func (s *Stream) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// subscribeRequest is the oracle's subscription wire format.
type subscribeRequest struct {
	Op     string   `json:"op"`
	Assets []string `json:"assets"`
}

func (s *Stream) subscribe() error {
	s.assetsMu.Lock()
	assets := append([]string(nil), s.assets...)
	s.assetsMu.Unlock()

	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteJSON(subscribeRequest{Op: "subscribe", Assets: assets}); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

func (s *Stream) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

func (s *Stream) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		// Will retry on next read error
		return
	}
	if err := s.subscribe(); err != nil {
		s.logger.Printf("resubscribe failed: %v", err)
	}
}

func (s *Stream) handleMessage(message []byte) {
	var q Quote
	if err := json.Unmarshal(message, &q); err != nil || q.Asset == "" {
		return
	}
	if !q.Price.IsPositive() {
		return
	}

	s.lastMu.Lock()
	s.last[q.Asset] = q
	s.lastMu.Unlock()

	// Block until delivered; quotes must not be dropped silently.
	select {
	case s.quotes <- q:
	case <-s.done:
	}
}

var _ Feed = (*Stream)(nil)
