// Package tradeiq bundles the realtime transport, frame dispatcher, chat
// session, and alert feed into a single client for UI code.
package tradeiq

import (
	"fmt"
	"log/slog"

	"tradeiq/internal/alerts"
	"tradeiq/internal/chat"
	"tradeiq/internal/config"
	"tradeiq/internal/domain"
	"tradeiq/internal/store"
	"tradeiq/internal/stream"
)

// Client owns the streaming stack. Construct with New, call Connect to
// bring the socket up, and Close on teardown to stop the reconnect chain.
type Client struct {
	transport  *stream.Transport
	dispatcher *stream.Dispatcher
	session    *chat.Session
	feed       *alerts.Feed
	closeKV    func() error
}

// Options overrides pieces of the default wiring. All fields are optional.
type Options struct {
	// Store backs the chat log. When nil, a SQLite store is opened at the
	// configured path, or an in-memory store when no path is configured.
	Store  store.KV
	Logger *slog.Logger
}

// New validates the configuration and wires the client. It does not open
// the socket; call Connect for that.
func New(cfg *config.Config, opts Options) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("tradeiq: nil config")
	}
	if cfg.Server.BaseURL == "" {
		return nil, fmt.Errorf("tradeiq: server.base_url is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	kv := opts.Store
	var closeKV func() error
	if kv == nil {
		if cfg.Storage.SQLitePath != "" {
			skv, err := store.NewSQLiteKV(cfg.Storage.SQLitePath)
			if err != nil {
				return nil, fmt.Errorf("opening chat store: %w", err)
			}
			kv = skv
			closeKV = skv.Close
		} else {
			kv = store.NewMemoryKV()
		}
	}

	d := stream.NewDispatcher()

	t, err := stream.NewTransport(stream.Options{
		BaseURL:          cfg.Server.BaseURL,
		SocketPath:       cfg.Server.SocketPath,
		UserID:           cfg.Server.UserID,
		MaxAttempts:      cfg.Stream.ReconnectMaxAttempts,
		BaseDelay:        cfg.ReconnectBaseDelay(),
		HandshakeTimeout: cfg.HandshakeTimeout(),
		PingInterval:     cfg.PingInterval(),
		Sink:             d,
		Logger:           log,
	})
	if err != nil {
		if closeKV != nil {
			closeKV()
		}
		return nil, fmt.Errorf("building transport: %w", err)
	}
	t.SubscribeStatus(d.HandleStatus)

	feed := alerts.NewFeed(cfg.Alerts.RecentAlerts, cfg.Alerts.RecentNarration)
	d.OnMarketAlert(feed.AddAlert)
	d.OnNarration(feed.AddNarration)

	sess := chat.NewSession(d, t, chat.Options{
		Store:       kv,
		AgentType:   cfg.Chat.AgentType,
		Watchdog:    cfg.Watchdog(),
		SettleDelay: cfg.SettleDelay(),
		WelcomeText: cfg.Chat.WelcomeText,
		Logger:      log,
	})

	return &Client{
		transport:  t,
		dispatcher: d,
		session:    sess,
		feed:       feed,
		closeKV:    closeKV,
	}, nil
}

// Connect opens the socket and starts the reconnect loop.
func (c *Client) Connect() { c.transport.Connect() }

// Disconnect closes the socket and halts reconnecting until the next
// Connect call.
func (c *Client) Disconnect() { c.transport.Disconnect() }

// Status returns the current connection status.
func (c *Client) Status() domain.ConnStatus { return c.transport.Status() }

// Endpoint returns the resolved socket URL.
func (c *Client) Endpoint() string { return c.transport.Endpoint() }

// Send submits user chat input.
func (c *Client) Send(text string) { c.session.Send(text) }

// ClearHistory resets the transcript to the welcome message.
func (c *Client) ClearHistory() { c.session.ClearHistory() }

// SetAgentType routes subsequent sends to the given agent.
func (c *Client) SetAgentType(agent string) { c.session.SetAgentType(agent) }

// Snapshot returns a copy of the current chat state.
func (c *Client) Snapshot() chat.Snapshot { return c.session.Snapshot() }

// State returns the current chat state.
func (c *Client) State() domain.ChatState { return c.session.State() }

// AppendLocal adds a message to the transcript without transmitting it.
func (c *Client) AppendLocal(msg domain.ChatMessage) { c.session.AppendLocal(msg) }

// SubscribeState registers an observer for chat snapshots. The returned
// function unsubscribes.
func (c *Client) SubscribeState(fn func(chat.Snapshot)) func() {
	return c.session.SubscribeState(fn)
}

// SubscribeAlerts registers an observer for market alerts.
func (c *Client) SubscribeAlerts(fn func(domain.MarketAlert)) func() {
	return c.dispatcher.OnMarketAlert(fn)
}

// SubscribeNarration registers an observer for narration events.
func (c *Client) SubscribeNarration(fn func(domain.Narration)) func() {
	return c.dispatcher.OnNarration(fn)
}

// SubscribeConn registers an observer for connection status changes.
func (c *Client) SubscribeConn(fn func(domain.ConnStatus)) func() {
	return c.dispatcher.OnConnStatus(fn)
}

// Feed exposes the bounded alert feed for dashboard rendering.
func (c *Client) Feed() *alerts.Feed { return c.feed }

// Close disconnects the transport, stops the session timers, and closes
// the chat store.
func (c *Client) Close() error {
	c.transport.Disconnect()
	c.session.Close()
	if c.closeKV != nil {
		return c.closeKV()
	}
	return nil
}
