package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradeiq/internal/domain"
	"tradeiq/internal/util"
)

// FrameSink receives every successfully decoded inbound frame.
type FrameSink interface {
	HandleFrame(Frame)
}

// Options configures a Transport. Zero fields fall back to production
// defaults; Sink may be nil when only connection status matters.
type Options struct {
	BaseURL          string
	SocketPath       string
	UserID           string
	MaxAttempts      int
	BaseDelay        time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	Sink             FrameSink
	Logger           *slog.Logger
}

// Transport maintains one websocket connection to the TradeIQ backend and
// reconnects with exponential backoff when it drops. Retry delays double
// from BaseDelay; after MaxAttempts failed retries the transport stays
// disconnected until Connect is called again. The attempt counter resets
// only when a dial succeeds.
type Transport struct {
	url         string
	dialer      *websocket.Dialer
	pingEvery   time.Duration
	baseDelay   time.Duration
	maxAttempts int
	sink        FrameSink
	log         *slog.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	status         domain.ConnStatus
	attempts       int
	stopped        bool
	gen            int
	reconnectTimer *time.Timer

	writeMu sync.Mutex

	obs group[domain.ConnStatus]
}

// NewTransport builds a transport for the configured endpoint. It does not
// dial; call Connect to open the socket.
func NewTransport(opts Options) (*Transport, error) {
	endpoint, err := buildEndpoint(opts.BaseURL, opts.SocketPath, opts.UserID)
	if err != nil {
		return nil, err
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Transport{
		url: endpoint,
		dialer: &websocket.Dialer{
			HandshakeTimeout:  opts.HandshakeTimeout,
			EnableCompression: true,
		},
		pingEvery:   opts.PingInterval,
		baseDelay:   opts.BaseDelay,
		maxAttempts: opts.MaxAttempts,
		sink:        opts.Sink,
		log:         opts.Logger,
		status:      domain.ConnDisconnected,
	}, nil
}

// buildEndpoint joins the base URL, socket path, and optional user id into
// the dial target. An empty path defaults to /chat/; an empty user id leaves
// the query string off entirely.
func buildEndpoint(base, socketPath, userID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base url %q: %w", base, err)
	}
	if socketPath == "" {
		socketPath = "/chat/"
	}
	if !strings.HasPrefix(socketPath, "/") {
		socketPath = "/" + socketPath
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + socketPath
	if userID != "" {
		q := u.Query()
		q.Set("user_id", userID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Endpoint reports the resolved dial target.
func (t *Transport) Endpoint() string { return t.url }

// Status reports the current connection status.
func (t *Transport) Status() domain.ConnStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SubscribeStatus registers fn for connection status transitions and
// returns its unsubscribe func.
func (t *Transport) SubscribeStatus(fn func(domain.ConnStatus)) func() {
	return t.obs.subscribe(fn)
}

// Connect opens the socket. Calling it while a connection attempt is in
// flight or established is a no-op; calling it after Disconnect or after
// retries were exhausted starts a fresh dial.
func (t *Transport) Connect() {
	t.mu.Lock()
	if !t.stopped && (t.status == domain.ConnConnecting || t.status == domain.ConnConnected) {
		t.mu.Unlock()
		return
	}
	t.stopped = false
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	t.setStatus(gen, domain.ConnConnecting)
	go t.dial(gen)
}

// Disconnect closes the socket and cancels any pending reconnect. The
// transport stays down until Connect is called again.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.stopped = true
	t.gen++
	gen := t.gen
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.setStatus(gen, domain.ConnDisconnected)
}

// Send writes v as a JSON frame. Frames sent while the socket is down are
// dropped; senders that need delivery guarantees must watch the status.
func (t *Transport) Send(v any) {
	t.mu.Lock()
	conn := t.conn
	ok := t.status == domain.ConnConnected && conn != nil
	t.mu.Unlock()
	if !ok {
		t.log.Debug("dropping outbound frame while disconnected")
		return
	}
	t.writeMu.Lock()
	err := conn.WriteJSON(v)
	t.writeMu.Unlock()
	if err != nil {
		t.log.Warn("socket write failed", "error", err)
	}
}

func (t *Transport) dial(gen int) {
	conn, _, err := t.dialer.DialContext(context.Background(), t.url, nil)
	if err != nil {
		t.log.Warn("socket dial failed", "url", t.url, "error", err)
		t.setStatus(gen, domain.ConnError)
		t.setStatus(gen, domain.ConnDisconnected)
		t.scheduleReconnect(gen)
		return
	}

	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		conn.Close()
		return
	}
	t.conn = conn
	t.attempts = 0
	t.mu.Unlock()

	t.setStatus(gen, domain.ConnConnected)
	t.log.Info("socket connected", "url", t.url)

	go t.pingLoop(conn, gen)
	t.readLoop(conn, gen)
}

func (t *Transport) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			stale := t.stopped || gen != t.gen
			if !stale && t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			if stale {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.Warn("socket closed unexpectedly", "error", err)
				t.setStatus(gen, domain.ConnError)
			}
			t.setStatus(gen, domain.ConnDisconnected)
			t.scheduleReconnect(gen)
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			t.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		if t.sink != nil {
			t.sink.HandleFrame(frame)
		}
	}
}

func (t *Transport) pingLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(t.pingEvery)
	defer ticker.Stop()
	for range ticker.C {
		t.mu.Lock()
		live := !t.stopped && gen == t.gen && t.conn == conn
		t.mu.Unlock()
		if !live {
			return
		}
		t.writeMu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		t.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// scheduleReconnect arms the next retry unless the generation moved on or
// the attempts are exhausted.
func (t *Transport) scheduleReconnect(gen int) {
	t.mu.Lock()
	if t.stopped || gen != t.gen {
		t.mu.Unlock()
		return
	}
	if t.attempts >= t.maxAttempts {
		t.mu.Unlock()
		t.log.Warn("reconnect attempts exhausted", "attempts", t.maxAttempts)
		return
	}
	t.attempts++
	attempt := t.attempts
	delay := util.BackoffDelay(attempt, t.baseDelay)
	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		if t.stopped || gen != t.gen {
			t.mu.Unlock()
			return
		}
		t.reconnectTimer = nil
		t.mu.Unlock()
		t.setStatus(gen, domain.ConnConnecting)
		go t.dial(gen)
	})
	t.mu.Unlock()
	t.log.Info("scheduling reconnect", "attempt", attempt, "delay", delay)
}

// setStatus records s and notifies observers in registration order. Calls
// from goroutines of an older generation are dropped.
func (t *Transport) setStatus(gen int, s domain.ConnStatus) {
	t.mu.Lock()
	if gen != t.gen || t.status == s {
		t.mu.Unlock()
		return
	}
	t.status = s
	t.mu.Unlock()
	t.obs.broadcast(s)
}
