package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tradeiq/internal/domain"
	"tradeiq/internal/store"
	"tradeiq/internal/stream"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []any
}

func (f *fakeSender) Send(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, v)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeSender) last() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession builds a session on a fresh dispatcher with zero settle
// delay so done drops straight to idle.
func newTestSession(t *testing.T, opts Options) (*Session, *stream.Dispatcher, *fakeSender) {
	t.Helper()
	if opts.Store == nil {
		opts.Store = store.NewMemoryKV()
	}
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	d := stream.NewDispatcher()
	sender := &fakeSender{}
	s := NewSession(d, sender, opts)
	t.Cleanup(s.Close)
	return s, d, sender
}

func feed(t *testing.T, d *stream.Dispatcher, payload string) {
	t.Helper()
	f, err := stream.DecodeFrame([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeFrame(%s): %v", payload, err)
	}
	d.Dispatch(f)
}

func contents(msgs []domain.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionStartsWithWelcome(t *testing.T) {
	kv := store.NewMemoryKV()
	s, _, _ := newTestSession(t, Options{Store: kv})

	snap := s.Snapshot()
	if snap.State != domain.ChatIdle {
		t.Errorf("State = %q, want %q", snap.State, domain.ChatIdle)
	}
	if len(snap.Messages) != 1 {
		t.Fatalf("fresh session has %d messages, want 1", len(snap.Messages))
	}
	m := snap.Messages[0]
	if m.Role != domain.RoleAssistant || m.Content != WelcomeText {
		t.Errorf("welcome = %+v, want assistant welcome", m)
	}

	// The welcome transcript is persisted immediately.
	saved, err := store.LoadChatLog(context.Background(), kv)
	if err != nil {
		t.Fatalf("LoadChatLog: %v", err)
	}
	if len(saved) != 1 || saved[0].Content != WelcomeText {
		t.Errorf("persisted transcript = %v, want single welcome", contents(saved))
	}
}

func TestSessionRestoresHistory(t *testing.T) {
	kv := store.NewMemoryKV()
	prior := []domain.ChatMessage{
		{Role: domain.RoleAssistant, Content: WelcomeText, Timestamp: "2:00 PM", Kind: domain.KindNormal},
		{Role: domain.RoleUser, Content: "BTC outlook?", Timestamp: "2:05 PM", Kind: domain.KindNormal},
		{Role: domain.RoleAssistant, Content: "BTC is bullish.", Timestamp: "2:05 PM", Kind: domain.KindNormal},
	}
	if err := store.SaveChatLog(context.Background(), kv, prior); err != nil {
		t.Fatalf("SaveChatLog: %v", err)
	}

	s, _, _ := newTestSession(t, Options{Store: kv})

	snap := s.Snapshot()
	if len(snap.Messages) != 3 {
		t.Fatalf("restored %d messages, want 3", len(snap.Messages))
	}
	for i, m := range snap.Messages {
		if m.Content != prior[i].Content || m.Role != prior[i].Role {
			t.Errorf("message[%d] = %+v, want %+v", i, m, prior[i])
		}
		if !m.SkipAnimation {
			t.Errorf("message[%d].SkipAnimation = false, want true after restore", i)
		}
	}
}

func TestSessionCorruptHistoryFallsBack(t *testing.T) {
	kv := store.NewMemoryKV()
	if err := kv.Set(context.Background(), store.KeyChatMessages, []byte(`{{broken`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	s, _, _ := newTestSession(t, Options{Store: kv})

	snap := s.Snapshot()
	if len(snap.Messages) != 1 || snap.Messages[0].Content != WelcomeText {
		t.Fatalf("after corrupt store: %v, want single welcome", contents(snap.Messages))
	}

	// The corrupt value was replaced by the fresh transcript.
	saved, err := store.LoadChatLog(context.Background(), kv)
	if err != nil {
		t.Fatalf("LoadChatLog after reset: %v", err)
	}
	if len(saved) != 1 {
		t.Errorf("persisted %d messages, want 1", len(saved))
	}
}

func TestSessionSendAppendsAndTransmits(t *testing.T) {
	s, _, sender := newTestSession(t, Options{})

	s.Send("  BTC outlook?  ")

	snap := s.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("log has %d messages after send, want 2", len(snap.Messages))
	}
	m := snap.Messages[1]
	if m.Role != domain.RoleUser || m.Content != "BTC outlook?" {
		t.Errorf("user message = %+v, want trimmed BTC outlook?", m)
	}

	frame, ok := sender.last().(stream.ChatSendFrame)
	if !ok {
		t.Fatalf("sent frame = %T, want stream.ChatSendFrame", sender.last())
	}
	if frame.Type != "chat.message" || frame.Message != "BTC outlook?" || frame.AgentType != "auto" || !frame.Stream {
		t.Errorf("sent frame = %+v", frame)
	}

	// Blank input goes nowhere.
	s.Send("   ")
	if sender.count() != 1 {
		t.Errorf("sender got %d frames, want 1", sender.count())
	}
	if got := len(s.Snapshot().Messages); got != 2 {
		t.Errorf("log has %d messages after blank send, want 2", got)
	}
}

func TestSessionAgentTypeSelection(t *testing.T) {
	s, _, sender := newTestSession(t, Options{AgentType: "market"})

	s.Send("what moved?")
	if f := sender.last().(stream.ChatSendFrame); f.AgentType != "market" {
		t.Errorf("AgentType = %q, want %q", f.AgentType, "market")
	}

	s.SetAgentType("")
	s.Send("and now?")
	if f := sender.last().(stream.ChatSendFrame); f.AgentType != "auto" {
		t.Errorf("AgentType = %q, want auto fallback", f.AgentType)
	}
}

func TestSessionStreamingScenario(t *testing.T) {
	s, d, _ := newTestSession(t, Options{})

	var states []domain.ChatState
	s.SubscribeState(func(snap Snapshot) { states = append(states, snap.State) })

	s.Send("BTC outlook?")

	feed(t, d, `{"type":"stream_status","status":"thinking"}`)
	if got := s.State(); got != domain.ChatThinking {
		t.Fatalf("state = %q, want thinking", got)
	}

	feed(t, d, `{"type":"stream_status","status":"tool_call","tools_used":["market_data"],"description":"Fetching BTC data"}`)
	snap := s.Snapshot()
	if snap.State != domain.ChatToolCall {
		t.Fatalf("state = %q, want tool_call", snap.State)
	}
	if snap.Tool == nil || len(snap.Tool.Tools) != 1 || snap.Tool.Tools[0] != "market_data" {
		t.Fatalf("tool = %+v, want market_data", snap.Tool)
	}

	feed(t, d, `{"type":"stream_chunk","content":"BTC is "}`)
	feed(t, d, `{"type":"stream_chunk","content":"bullish."}`)
	snap = s.Snapshot()
	if snap.State != domain.ChatStreaming {
		t.Fatalf("state = %q, want streaming", snap.State)
	}
	if snap.Buffer != "BTC is bullish." {
		t.Fatalf("buffer = %q, want chunks in order", snap.Buffer)
	}

	feed(t, d, `{"type":"stream_done","full_content":"BTC is bullish.","agent_type":"market","tools_used":["market_data"]}`)

	snap = s.Snapshot()
	if snap.State != domain.ChatIdle {
		t.Errorf("state = %q, want idle after zero settle delay", snap.State)
	}
	if snap.Buffer != "" {
		t.Errorf("buffer = %q, want empty after done", snap.Buffer)
	}
	if snap.Tool != nil {
		t.Errorf("tool = %+v, want nil after done", snap.Tool)
	}

	want := []string{WelcomeText, "BTC outlook?", "BTC is bullish."}
	got := contents(snap.Messages)
	if len(got) != len(want) {
		t.Fatalf("log = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if snap.Messages[2].Role != domain.RoleAssistant {
		t.Errorf("final message role = %q, want assistant", snap.Messages[2].Role)
	}

	// Deduplicated state sequence as observers saw it.
	var seq []domain.ChatState
	for _, st := range states {
		if len(seq) == 0 || seq[len(seq)-1] != st {
			seq = append(seq, st)
		}
	}
	wantSeq := []domain.ChatState{domain.ChatIdle, domain.ChatThinking, domain.ChatToolCall, domain.ChatStreaming, domain.ChatDone, domain.ChatIdle}
	if len(seq) != len(wantSeq) {
		t.Fatalf("state sequence = %v, want %v", seq, wantSeq)
	}
	for i := range wantSeq {
		if seq[i] != wantSeq[i] {
			t.Errorf("state sequence[%d] = %q, want %q", i, seq[i], wantSeq[i])
		}
	}
}

func TestSessionDoneFallsBackToBuffer(t *testing.T) {
	s, d, _ := newTestSession(t, Options{})

	s.Send("quick take")
	feed(t, d, `{"type":"stream_chunk","content":"Steady "}`)
	feed(t, d, `{"type":"stream_chunk","content":"for now."}`)
	feed(t, d, `{"type":"stream_done"}`)

	snap := s.Snapshot()
	last := snap.Messages[len(snap.Messages)-1]
	if last.Content != "Steady for now." {
		t.Errorf("assistant message = %q, want accumulated buffer", last.Content)
	}
}

func TestSessionDonePrefersFullContent(t *testing.T) {
	s, d, _ := newTestSession(t, Options{})

	s.Send("quick take")
	feed(t, d, `{"type":"stream_chunk","content":"partial"}`)
	feed(t, d, `{"type":"stream_done","full_content":"The full answer."}`)

	snap := s.Snapshot()
	last := snap.Messages[len(snap.Messages)-1]
	if last.Content != "The full answer." {
		t.Errorf("assistant message = %q, want full_content override", last.Content)
	}
}

func TestSessionReplyGoesStraightToIdle(t *testing.T) {
	s, d, _ := newTestSession(t, Options{Watchdog: 40 * time.Millisecond})

	var states []domain.ChatState
	s.SubscribeState(func(snap Snapshot) { states = append(states, snap.State) })

	s.Send("ping")
	feed(t, d, `{"type":"reply","content":"pong"}`)

	snap := s.Snapshot()
	if snap.State != domain.ChatIdle {
		t.Errorf("state = %q, want idle", snap.State)
	}
	last := snap.Messages[len(snap.Messages)-1]
	if last.Role != domain.RoleAssistant || last.Content != "pong" {
		t.Errorf("last message = %+v, want assistant pong", last)
	}
	for _, st := range states {
		if st == domain.ChatDone {
			t.Error("reply path passed through done, want direct idle")
		}
	}

	// The reply disarmed the watchdog: no timeout message appears later.
	time.Sleep(100 * time.Millisecond)
	msgs := s.Snapshot().Messages
	if got := len(msgs); got != 3 {
		t.Errorf("log = %v, want no timeout entry", contents(msgs))
	}
}

func TestSessionLegacyMessageFrame(t *testing.T) {
	s, d, _ := newTestSession(t, Options{})

	s.Send("hello")
	feed(t, d, `{"message":"legacy pong"}`)

	snap := s.Snapshot()
	last := snap.Messages[len(snap.Messages)-1]
	if last.Content != "legacy pong" {
		t.Errorf("last message = %q, want legacy pong", last.Content)
	}
	if snap.State != domain.ChatIdle {
		t.Errorf("state = %q, want idle", snap.State)
	}
}

func TestSessionIgnoresUnrelatedGenericFrames(t *testing.T) {
	s, d, _ := newTestSession(t, Options{Watchdog: time.Hour})

	s.Send("hello")
	before := len(s.Snapshot().Messages)

	feed(t, d, `{"type":"system","content":"maintenance at noon"}`)

	snap := s.Snapshot()
	if len(snap.Messages) != before {
		t.Errorf("log grew on a system frame: %v", contents(snap.Messages))
	}
}

func TestSessionWatchdogTimeout(t *testing.T) {
	s, _, _ := newTestSession(t, Options{Watchdog: 30 * time.Millisecond})

	s.Send("anyone there?")

	waitFor(t, "timeout message", func() bool {
		msgs := s.Snapshot().Messages
		return len(msgs) == 3 && msgs[2].Content == TimeoutText
	})
	if got := s.State(); got != domain.ChatIdle {
		t.Errorf("state = %q, want idle after timeout", got)
	}

	// Exactly one timeout message, even well past the deadline.
	time.Sleep(100 * time.Millisecond)
	count := 0
	for _, m := range s.Snapshot().Messages {
		if m.Content == TimeoutText {
			count++
		}
	}
	if count != 1 {
		t.Errorf("timeout messages = %d, want exactly 1", count)
	}
}

func TestSessionWatchdogDisarmedByDone(t *testing.T) {
	s, d, _ := newTestSession(t, Options{Watchdog: 50 * time.Millisecond})

	s.Send("BTC outlook?")
	feed(t, d, `{"type":"stream_done","full_content":"Quiet day."}`)

	time.Sleep(120 * time.Millisecond)
	for _, m := range s.Snapshot().Messages {
		if m.Content == TimeoutText {
			t.Fatal("watchdog fired after stream_done disarmed it")
		}
	}
}

func TestSessionRapidResendsShareOneWatchdog(t *testing.T) {
	s, _, _ := newTestSession(t, Options{Watchdog: 40 * time.Millisecond})

	s.Send("first")
	s.Send("second")

	waitFor(t, "single timeout", func() bool {
		count := 0
		for _, m := range s.Snapshot().Messages {
			if m.Content == TimeoutText {
				count++
			}
		}
		return count == 1
	})

	time.Sleep(120 * time.Millisecond)
	count := 0
	for _, m := range s.Snapshot().Messages {
		if m.Content == TimeoutText {
			count++
		}
	}
	if count != 1 {
		t.Errorf("timeout messages = %d, want 1 (single watchdog slot)", count)
	}
}

func TestSessionClearHistory(t *testing.T) {
	s, d, _ := newTestSession(t, Options{Watchdog: 50 * time.Millisecond})

	s.Send("BTC outlook?")
	feed(t, d, `{"type":"stream_status","status":"thinking"}`)
	feed(t, d, `{"type":"stream_chunk","content":"BTC is "}`)

	s.ClearHistory()

	snap := s.Snapshot()
	if snap.State != domain.ChatIdle {
		t.Errorf("state = %q, want idle after clear", snap.State)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Content != WelcomeText {
		t.Errorf("log = %v, want single welcome", contents(snap.Messages))
	}
	if snap.Buffer != "" {
		t.Errorf("buffer = %q, want empty after clear", snap.Buffer)
	}

	// Clear disarmed the watchdog.
	time.Sleep(120 * time.Millisecond)
	msgs := s.Snapshot().Messages
	if len(msgs) != 1 {
		t.Errorf("log after clear = %v, want no timeout entry", contents(msgs))
	}
}

func TestSessionSettleDelayHoldsDone(t *testing.T) {
	s, d, _ := newTestSession(t, Options{SettleDelay: 40 * time.Millisecond})

	s.Send("BTC outlook?")
	feed(t, d, `{"type":"stream_done","full_content":"Calm."}`)

	if got := s.State(); got != domain.ChatDone {
		t.Fatalf("state right after done = %q, want done", got)
	}
	waitFor(t, "settle to idle", func() bool { return s.State() == domain.ChatIdle })
}

func TestSessionThinkingResetsToolAndBuffer(t *testing.T) {
	s, d, _ := newTestSession(t, Options{})

	s.Send("first question")
	feed(t, d, `{"type":"stream_status","status":"tool_call","tools_used":["market_data"]}`)
	feed(t, d, `{"type":"stream_chunk","content":"stale partial"}`)

	// The next response begins: leftovers vanish.
	feed(t, d, `{"type":"stream_status","status":"thinking"}`)

	snap := s.Snapshot()
	if snap.State != domain.ChatThinking {
		t.Errorf("state = %q, want thinking", snap.State)
	}
	if snap.Buffer != "" {
		t.Errorf("buffer = %q, want cleared on thinking", snap.Buffer)
	}
	if snap.Tool != nil {
		t.Errorf("tool = %+v, want cleared on thinking", snap.Tool)
	}
}

func TestSessionPersistenceRoundTrip(t *testing.T) {
	kv := store.NewMemoryKV()

	s, d, _ := newTestSession(t, Options{Store: kv})
	s.Send("BTC outlook?")
	feed(t, d, `{"type":"stream_done","full_content":"BTC is bullish."}`)
	want := contents(s.Snapshot().Messages)
	s.Close()

	// A new session over the same store sees the same ordered transcript.
	restored, _, _ := newTestSession(t, Options{Store: kv})
	got := contents(restored.Snapshot().Messages)
	if len(got) != len(want) {
		t.Fatalf("restored log = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("restored[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSessionAppendLocal(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})

	s.AppendLocal(domain.ChatMessage{
		Role:    domain.RoleAssistant,
		Content: "BTC-USD spiked 4.2%",
		Kind:    domain.KindAlert,
	})

	snap := s.Snapshot()
	last := snap.Messages[len(snap.Messages)-1]
	if last.Kind != domain.KindAlert {
		t.Errorf("Kind = %q, want alert", last.Kind)
	}
	if last.Timestamp == "" {
		t.Error("Timestamp not defaulted")
	}
	if snap.State != domain.ChatIdle {
		t.Errorf("state = %q, want idle untouched", snap.State)
	}
}

func TestSessionUnsubscribe(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})

	calls := 0
	off := s.SubscribeState(func(Snapshot) { calls++ })

	s.Send("one")
	off()
	s.Send("two")

	if calls != 1 {
		t.Errorf("observer ran %d times, want 1", calls)
	}
}
