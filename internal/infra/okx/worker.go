// Package okx streams full-refresh L2 snapshots from the GoMarket OKX relay.
package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	defaultReadTimeout  = 30 * time.Second
	defaultPingInterval = 15 * time.Second
	handshakeTimeout    = 10 * time.Second
	writeTimeout        = 5 * time.Second
)

// snapshotMessage is one text frame of the relay:
//
//	{"timestamp":"2025-05-04T10:39:13Z","exchange":"okx","symbol":"BTC-USDT-SWAP",
//	 "asks":[["95445.5","9.06"],...],"bids":[["95445.4","1104.23"],...]}
type snapshotMessage struct {
	Timestamp string      `json:"timestamp"`
	Exchange  string      `json:"exchange"`
	Symbol    string      `json:"symbol"`
	Asks      []wireLevel `json:"asks"`
	Bids      []wireLevel `json:"bids"`
}

// wireLevel keeps the raw text of each element, whether the relay quoted it or not.
type wireLevel []json.RawMessage

func (l wireLevel) field(i int) string {
	if i >= len(l) {
		return ""
	}
	raw := bytes.TrimSpace(l[i])
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// Options tune a Worker. Zero values fall back to defaults.
type Options struct {
	URL          string
	Exchange     string
	Symbol       string
	ReadTimeout  time.Duration
	PingInterval time.Duration
	Backoff      infra.Backoff
}

// Worker keeps one websocket connection to the relay alive and pushes each
// decoded snapshot into the sequencer inbox. It never touches the book.
type Worker struct {
	opts    Options
	inbox   chan<- event.Event
	metrics *infra.Metrics

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	seq    atomic.Uint64
	logger *slog.Logger
}

var _ domain.FeedWorker = (*Worker)(nil)

// NewWorker creates a feed worker. metrics may be nil.
func NewWorker(opts Options, inbox chan<- event.Event, metrics *infra.Metrics) *Worker {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = infra.DefaultBackoff
	}
	if opts.URL == "" {
		opts.URL = infra.DefaultFeedURL
	}
	return &Worker{
		opts:    opts,
		inbox:   inbox,
		metrics: metrics,
		logger:  slog.Default().With("module", "okx_feed", "symbol", opts.Symbol),
	}
}

// Connect starts the connection loop in the background and returns at once.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.connectionLoop(ctx)

	return nil
}

// Run connects and blocks until ctx is done, for use under an errgroup.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Disconnect()
	return nil
}

// connectionLoop handles connection and reconnection with exponential backoff
func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Feed panic recovered", slog.Any("panic", r))
		}
	}()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Feed connection loop stopped")
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			delay := w.opts.Backoff.Delay(retryCount)
			w.logger.Warn("Feed connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
				slog.Duration("backoff", delay))
			retryCount++
			if w.metrics != nil {
				w.metrics.RecordReconnect()
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retryCount = 0
		w.publishStatus(true, "")

		pingDone := make(chan struct{})
		go w.pingLoop(ctx, pingDone)
		reason := w.readLoop(ctx)
		close(pingDone)

		w.publishStatus(false, reason)
	}
}

// connect dials the relay. The stream starts without a subscribe message.
func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	header := make(http.Header)
	header.Add("User-Agent", infra.DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, w.opts.URL, header)
	if err != nil {
		return domain.NewNetworkError("dial", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if w.metrics != nil {
		w.metrics.IncrementConnections()
	}
	w.logger.Info("Feed WebSocket connected", slog.String("url", w.opts.URL))
	return nil
}

// readLoop reads frames until the connection fails and returns why it stopped.
func (w *Worker) readLoop(ctx context.Context) string {
	for {
		select {
		case <-ctx.Done():
			w.closeConnection()
			return "shutdown"
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return "closed"
		}

		conn.SetReadDeadline(time.Now().Add(w.opts.ReadTimeout))

		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Warn("Feed WebSocket read error", slog.Any("error", err))
			}
			w.closeConnection()
			return err.Error()
		}
		if msgType != websocket.TextMessage {
			continue
		}

		w.handleMessage(message)
	}
}

func (w *Worker) pingLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(w.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := w.threadSafeWrite(websocket.PingMessage, nil); err != nil {
				w.logger.Debug("Ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

// handleMessage decodes one snapshot and hands it to the sequencer.
func (w *Worker) handleMessage(message []byte) {
	ev, err := w.decode(message)
	if err != nil {
		w.logger.Debug("Feed message parse error", slog.Any("error", err))
		return
	}

	select {
	case w.inbox <- ev:
	default:
		event.ReleaseBookSnapshotEvent(ev)
		if w.metrics != nil {
			w.metrics.RecordDropped()
		}
		w.logger.Warn("Sequencer inbox full, dropping snapshot")
	}
}

// decode turns a frame into a pooled snapshot event stamped with the next sequence number.
func (w *Worker) decode(message []byte) (*event.BookSnapshotEvent, error) {
	var msg snapshotMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}
	if msg.Bids == nil && msg.Asks == nil {
		return nil, fmt.Errorf("frame carries no book: %.64s", message)
	}

	ev := event.AcquireBookSnapshotEvent()
	ev.Seq = w.seq.Add(1)
	ev.Ts = time.Now().UnixMicro()
	ev.Exchange = msg.Exchange
	if ev.Exchange == "" {
		ev.Exchange = w.opts.Exchange
	}
	ev.Symbol = msg.Symbol
	ev.FeedTimestamp = msg.Timestamp
	for _, l := range msg.Bids {
		ev.Bids = append(ev.Bids, domain.RawLevel{Price: l.field(0), Size: l.field(1)})
	}
	for _, l := range msg.Asks {
		ev.Asks = append(ev.Asks, domain.RawLevel{Price: l.field(0), Size: l.field(1)})
	}
	return ev, nil
}

func (w *Worker) publishStatus(connected bool, reason string) {
	ev := &event.FeedStatusEvent{
		BaseEvent: event.BaseEvent{Ts: time.Now().UnixMicro()},
		Exchange:  w.opts.Exchange,
		Connected: connected,
		Reason:    reason,
	}
	select {
	case w.inbox <- ev:
	default:
	}
}

// threadSafeWrite sends a message to the WebSocket connection in a thread-safe manner
func (w *Worker) threadSafeWrite(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}

	if messageType == websocket.PingMessage {
		return conn.WriteControl(messageType, data, time.Now().Add(writeTimeout))
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(messageType, data)
}

// closeConnection safely closes the WebSocket connection
func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		if w.metrics != nil {
			w.metrics.DecrementConnections()
		}
	}
	w.connected = false
}

// Disconnect stops the loop and closes the WebSocket connection.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
	w.logger.Info("Feed WebSocket disconnected")
}

// IsConnected returns connection status
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}
