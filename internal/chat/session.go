// Package chat implements the conversation state machine on top of the
// stream dispatcher: an ordered message log persisted across restarts, a
// live streaming buffer, a coarse request state, and a watchdog that
// recovers from responses that never complete.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tradeiq/internal/domain"
	"tradeiq/internal/store"
	"tradeiq/internal/stream"
)

const (
	// WelcomeText opens every fresh transcript.
	WelcomeText = "Welcome to TradeIQ! Ask me about market conditions, your trading patterns, or anything else on your mind."

	// TimeoutText is appended when a request runs past the watchdog.
	TimeoutText = "Request timed out. The server may be busy, please try again."

	// DefaultWatchdog bounds how long a request may run without a done or
	// reply frame before the session recovers on its own.
	DefaultWatchdog = 45 * time.Second
)

// Sender delivers outbound frames to the backend.
type Sender interface {
	Send(v any)
}

// Options configures a Session.
type Options struct {
	// Store persists the transcript across restarts. nil keeps the
	// conversation in memory only.
	Store store.KV

	// AgentType routes outbound messages; empty selects auto.
	AgentType string

	// Watchdog bounds request time. Zero or less uses DefaultWatchdog.
	Watchdog time.Duration

	// SettleDelay is how long the done state lingers before the session
	// returns to idle. It exists purely so a UI can show the finished
	// response settling; zero transitions immediately.
	SettleDelay time.Duration

	// WelcomeText overrides the canonical welcome message.
	WelcomeText string

	Logger *slog.Logger
}

// Snapshot is a point-in-time copy of the visible conversation state.
type Snapshot struct {
	State    domain.ChatState
	Messages []domain.ChatMessage
	Buffer   string
	Tool     *domain.ToolCall
}

// Session tracks one conversation. All mutation happens in reaction to user
// sends, dispatcher events, and the watchdog; every visible change is pushed
// to subscribed observers as a Snapshot.
type Session struct {
	sender  Sender
	kv      store.KV
	watch   time.Duration
	settle  time.Duration
	welcome string
	log     *slog.Logger

	mu         sync.Mutex
	agentType  string
	state      domain.ChatState
	messages   []domain.ChatMessage
	buf        strings.Builder
	tool       *domain.ToolCall
	watchTimer *time.Timer
	watchGen   int
	settleGen  int

	obsMu    sync.Mutex
	nextObs  int
	obsOrder []int
	obs      map[int]func(Snapshot)

	unsubs []func()
}

// NewSession creates a session wired to the dispatcher's stream events. The
// persisted transcript is restored if present; an empty, missing, or corrupt
// transcript starts over with the single welcome message.
func NewSession(d *stream.Dispatcher, sender Sender, opts Options) *Session {
	if opts.Watchdog <= 0 {
		opts.Watchdog = DefaultWatchdog
	}
	if opts.WelcomeText == "" {
		opts.WelcomeText = WelcomeText
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{
		sender:    sender,
		kv:        opts.Store,
		watch:     opts.Watchdog,
		settle:    opts.SettleDelay,
		welcome:   opts.WelcomeText,
		log:       opts.Logger,
		agentType: opts.AgentType,
		state:     domain.ChatIdle,
		obs:       make(map[int]func(Snapshot)),
	}

	s.restore()

	if d != nil {
		s.unsubs = append(s.unsubs,
			d.OnStreamStatus(s.handleStatus),
			d.OnChunk(s.handleChunk),
			d.OnDone(s.handleDone),
			d.OnGeneric(s.handleGeneric),
		)
	}
	return s
}

// restore loads the persisted transcript, falling back to a fresh welcome
// transcript when the store is empty or unreadable.
func (s *Session) restore() {
	if s.kv == nil {
		s.messages = []domain.ChatMessage{s.welcomeMessage()}
		return
	}

	msgs, err := store.LoadChatLog(context.Background(), s.kv)
	switch {
	case err != nil:
		s.log.Warn("chat history unreadable, resetting", "error", err)
		s.messages = []domain.ChatMessage{s.welcomeMessage()}
		s.persistLocked()
	case len(msgs) == 0:
		s.messages = []domain.ChatMessage{s.welcomeMessage()}
		s.persistLocked()
	default:
		// Restored messages render without entrance animation.
		for i := range msgs {
			msgs[i].SkipAnimation = true
		}
		s.messages = msgs
	}
}

func (s *Session) welcomeMessage() domain.ChatMessage {
	return domain.ChatMessage{
		Role:      domain.RoleAssistant,
		Content:   s.welcome,
		Timestamp: stamp(),
		Kind:      domain.KindNormal,
	}
}

// stamp returns the display timestamp shown next to a message.
func stamp() string {
	return time.Now().Format("3:04 PM")
}

// Send submits one user message: it is appended to the log, the watchdog is
// armed, and the outbound chat frame goes to the backend. Blank input is
// ignored.
func (s *Session) Send(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	s.messages = append(s.messages, domain.ChatMessage{
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: stamp(),
		Kind:      domain.KindNormal,
	})
	s.armWatchdogLocked()
	agent := s.agentType
	s.persistLocked()
	s.mu.Unlock()
	s.notify()

	s.sender.Send(stream.NewChatSend(text, agent))
}

// ClearHistory resets the log to the single welcome message and forces the
// session back to idle, abandoning any in-flight request.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	s.disarmWatchdogLocked()
	s.settleGen++
	s.buf.Reset()
	s.tool = nil
	s.messages = []domain.ChatMessage{s.welcomeMessage()}
	s.state = domain.ChatIdle
	s.persistLocked()
	s.mu.Unlock()
	s.notify()
}

// AppendLocal appends a locally generated message (an alert line rendered
// into the conversation, for example) without touching the request state.
func (s *Session) AppendLocal(msg domain.ChatMessage) {
	if msg.Timestamp == "" {
		msg.Timestamp = stamp()
	}
	if msg.Kind == "" {
		msg.Kind = domain.KindNormal
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.persistLocked()
	s.mu.Unlock()
	s.notify()
}

// SetAgentType changes the agent selector used for subsequent sends.
func (s *Session) SetAgentType(agent string) {
	s.mu.Lock()
	s.agentType = agent
	s.mu.Unlock()
}

// AgentType reports the current agent selector.
func (s *Session) AgentType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentType
}

// State reports the current request state.
func (s *Session) State() domain.ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the visible conversation state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]domain.ChatMessage, len(s.messages))
	copy(msgs, s.messages)

	var tool *domain.ToolCall
	if s.tool != nil {
		t := domain.ToolCall{
			Tools:       append([]string(nil), s.tool.Tools...),
			Description: s.tool.Description,
		}
		tool = &t
	}

	return Snapshot{
		State:    s.state,
		Messages: msgs,
		Buffer:   s.buf.String(),
		Tool:     tool,
	}
}

// SubscribeState registers fn to receive a snapshot after every visible
// change and returns its unsubscribe func.
func (s *Session) SubscribeState(fn func(Snapshot)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.obs[id] = fn
	s.obsOrder = append(s.obsOrder, id)
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.obs, id)
		for i, v := range s.obsOrder {
			if v == id {
				s.obsOrder = append(s.obsOrder[:i], s.obsOrder[i+1:]...)
				break
			}
		}
	}
}

// Close detaches the session from the dispatcher and stops its timers. The
// transcript stays persisted.
func (s *Session) Close() {
	s.mu.Lock()
	s.disarmWatchdogLocked()
	s.settleGen++
	s.mu.Unlock()
	for _, off := range s.unsubs {
		off()
	}
}

// ---------------------------------------------------------------------------
// Dispatcher event handlers
// ---------------------------------------------------------------------------

func (s *Session) handleStatus(st domain.StreamStatus) {
	s.mu.Lock()
	switch st.Phase {
	case domain.PhaseThinking:
		// A new response is starting: drop leftovers from the last one.
		s.tool = nil
		s.buf.Reset()
		s.state = domain.ChatThinking
	case domain.PhaseToolCall:
		s.state = domain.ChatToolCall
		s.tool = &domain.ToolCall{
			Tools:       append([]string(nil), st.ToolsUsed...),
			Description: st.Description,
		}
	case domain.PhaseStreaming:
		s.state = domain.ChatStreaming
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleChunk(content string) {
	s.mu.Lock()
	s.state = domain.ChatStreaming
	s.buf.WriteString(content)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleDone(f stream.StreamDoneFrame) {
	s.mu.Lock()
	s.disarmWatchdogLocked()

	content := f.FullContent
	if content == "" {
		content = s.buf.String()
	}
	s.messages = append(s.messages, domain.ChatMessage{
		Role:      domain.RoleAssistant,
		Content:   content,
		Timestamp: stamp(),
		Kind:      domain.KindNormal,
	})
	s.buf.Reset()
	s.tool = nil
	s.state = domain.ChatDone
	s.settleGen++
	gen := s.settleGen
	s.persistLocked()
	s.mu.Unlock()
	s.notify()

	if s.settle <= 0 {
		s.settleToIdle(gen)
		return
	}
	time.AfterFunc(s.settle, func() { s.settleToIdle(gen) })
}

// settleToIdle finishes the done → idle transition unless something newer
// already moved the session on.
func (s *Session) settleToIdle(gen int) {
	s.mu.Lock()
	if s.settleGen != gen || s.state != domain.ChatDone {
		s.mu.Unlock()
		return
	}
	s.state = domain.ChatIdle
	s.mu.Unlock()
	s.notify()
}

func (s *Session) handleGeneric(g *stream.GenericFrame) {
	// Only the plain reply path acts on the session; other generic frames
	// (system notices, unknown kinds) are someone else's concern.
	isReply := g.Type == stream.TypeReply || (g.Type == "" && g.Message != "")
	if !isReply {
		return
	}
	content := g.Content
	if content == "" {
		content = g.Message
	}

	s.mu.Lock()
	s.disarmWatchdogLocked()
	if content != "" {
		s.messages = append(s.messages, domain.ChatMessage{
			Role:      domain.RoleAssistant,
			Content:   content,
			Timestamp: stamp(),
			Kind:      domain.KindNormal,
		})
	}
	s.buf.Reset()
	s.tool = nil
	s.state = domain.ChatIdle
	s.persistLocked()
	s.mu.Unlock()
	s.notify()
}

// ---------------------------------------------------------------------------
// Watchdog
// ---------------------------------------------------------------------------

// armWatchdogLocked starts (or restarts) the single watchdog slot. Repeated
// sends re-arm the same slot, so only the most recent deadline counts.
func (s *Session) armWatchdogLocked() {
	s.watchGen++
	gen := s.watchGen
	if s.watchTimer != nil {
		s.watchTimer.Stop()
	}
	s.watchTimer = time.AfterFunc(s.watch, func() { s.watchdogFire(gen) })
}

func (s *Session) disarmWatchdogLocked() {
	s.watchGen++
	if s.watchTimer != nil {
		s.watchTimer.Stop()
		s.watchTimer = nil
	}
}

// watchdogFire recovers from a response that never completed: exactly one
// timeout message is appended and the session is forced back to idle.
func (s *Session) watchdogFire(gen int) {
	s.mu.Lock()
	if gen != s.watchGen {
		s.mu.Unlock()
		return
	}
	s.watchTimer = nil
	s.watchGen++

	s.log.Warn("chat request timed out", "after", s.watch)
	s.messages = append(s.messages, domain.ChatMessage{
		Role:      domain.RoleAssistant,
		Content:   TimeoutText,
		Timestamp: stamp(),
		Kind:      domain.KindNormal,
	})
	s.buf.Reset()
	s.tool = nil
	s.state = domain.ChatIdle
	s.persistLocked()
	s.mu.Unlock()
	s.notify()
}

// ---------------------------------------------------------------------------
// Persistence and notification
// ---------------------------------------------------------------------------

func (s *Session) persistLocked() {
	if s.kv == nil {
		return
	}
	if err := store.SaveChatLog(context.Background(), s.kv, s.messages); err != nil {
		s.log.Warn("persisting chat history", "error", err)
	}
}

func (s *Session) notify() {
	snap := s.Snapshot()

	s.obsMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.obsOrder))
	for _, id := range s.obsOrder {
		if fn, ok := s.obs[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
