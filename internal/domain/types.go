// Package domain defines the shared value types exchanged between the
// streaming transport, the dispatcher, the chat session, and the stores.
package domain

import "time"

// ---------------------------------------------------------------------------
// Enumerations
// ---------------------------------------------------------------------------

// ConnStatus is the state of the socket connection. Owned by the transport;
// mutated only on socket lifecycle events.
type ConnStatus string

const (
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
	ConnDisconnected ConnStatus = "disconnected"
	ConnError        ConnStatus = "error"
)

// ChatState is the coarse phase of the chat session state machine.
type ChatState string

const (
	ChatIdle      ChatState = "idle"
	ChatThinking  ChatState = "thinking"
	ChatToolCall  ChatState = "tool_call"
	ChatStreaming ChatState = "streaming"
	ChatDone      ChatState = "done"
)

// StreamPhase is the backend-reported phase carried by a stream_status frame.
type StreamPhase string

const (
	PhaseThinking  StreamPhase = "thinking"
	PhaseToolCall  StreamPhase = "tool_call"
	PhaseStreaming StreamPhase = "streaming"
	PhaseDone      StreamPhase = "done"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageKind tags a chat message for rendering purposes.
type MessageKind string

const (
	KindNormal MessageKind = "normal"
	KindAlert  MessageKind = "alert"
)

// AlertDirection is the direction of a market alert move.
type AlertDirection string

const (
	DirectionSpike AlertDirection = "spike"
	DirectionDrop  AlertDirection = "drop"
)

// AlertMagnitude is the size class of a market alert move.
type AlertMagnitude string

const (
	MagnitudeMedium AlertMagnitude = "medium"
	MagnitudeHigh   AlertMagnitude = "high"
)

// AgentAuto is the default agent selector for outbound chat messages.
const AgentAuto = "auto"

// ---------------------------------------------------------------------------
// Value types
// ---------------------------------------------------------------------------

// ChatMessage is one entry in the conversation log. Timestamp is the display
// form shown next to the message (e.g. "3:04 PM"), not a machine timestamp.
// SkipAnimation suppresses the entrance animation when a UI renders a
// message that was restored rather than freshly received.
type ChatMessage struct {
	Role          Role        `json:"role"`
	Content       string      `json:"content"`
	Timestamp     string      `json:"timestamp"`
	Kind          MessageKind `json:"kind"`
	SkipAnimation bool        `json:"skip_animation,omitempty"`
}

// StreamStatus is a decoded stream_status frame: the phase of an in-flight
// assistant response plus optional agent/tool metadata.
type StreamStatus struct {
	Phase       StreamPhase
	AgentType   string
	ToolsUsed   []string
	Description string
}

// ToolCall records the tool phase currently reported by the backend.
type ToolCall struct {
	Tools       []string
	Description string
}

// MarketAlert is a backend-detected price move. Immutable once received;
// forwarded verbatim to listeners. Summary, Warning, and Draft are
// precomputed display texts.
type MarketAlert struct {
	Instrument string         `json:"instrument"`
	Price      float64        `json:"price"`
	ChangePct  float64        `json:"change_percent"`
	Direction  AlertDirection `json:"direction"`
	Magnitude  AlertMagnitude `json:"magnitude"`
	Timestamp  string         `json:"timestamp"`
	Summary    string         `json:"summary"`
	Warning    string         `json:"warning"`
	Draft      string         `json:"draft"`
}

// Narration is a free-text narration line about market activity. Immutable,
// forwarded verbatim. Missing fields decode to empty strings.
type Narration struct {
	Text       string `json:"text"`
	EventType  string `json:"event_type"`
	Instrument string `json:"instrument"`
	Timestamp  string `json:"timestamp"`
}

// PendingLink is a pending account-link record written by the OAuth flow.
// It shares the persistence surface with the chat log but is otherwise
// untouched by the streaming core.
type PendingLink struct {
	Provider  string    `json:"provider"`
	AccountID string    `json:"account_id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}
