// Package stream implements the realtime socket layer for the TradeIQ
// backend: a reconnecting websocket transport, the inbound frame decoder,
// and a dispatcher that fans decoded frames out to typed handler groups.
package stream

import (
	"encoding/json"
	"fmt"

	"tradeiq/internal/domain"
)

// Wire discriminators carried in the "type" field.
const (
	TypeMarketAlert  = "market_alert"
	TypeStreamStatus = "stream_status"
	TypeStreamChunk  = "stream_chunk"
	TypeStreamDone   = "stream_done"
	TypeNarration    = "narration"
	TypeReply        = "reply"
	TypeChatMessage  = "chat.message"
)

// Frame is one decoded inbound frame. Exactly one concrete type exists per
// known wire kind; anything unrecognised decodes to *GenericFrame, so every
// valid JSON payload yields a frame.
type Frame interface {
	frameKind() string
}

// MarketAlertFrame carries a market alert. The payload arrives either nested
// under the data field or flat on the frame itself.
type MarketAlertFrame struct {
	Alert domain.MarketAlert
}

// StreamStatusFrame reports the phase of an in-flight assistant response.
type StreamStatusFrame struct {
	Status domain.StreamStatus
}

// StreamChunkFrame carries one incremental fragment of assistant output.
type StreamChunkFrame struct {
	Content string
}

// StreamDoneFrame terminates a streaming response.
type StreamDoneFrame struct {
	FullContent string
	AgentType   string
	ToolsUsed   []string
}

// NarrationFrame carries one narration event.
type NarrationFrame struct {
	Event domain.Narration
}

// GenericFrame is the catch-all for plain replies, system notices, and the
// legacy message shape. Raw retains the full payload for consumers that
// need fields beyond the common ones.
type GenericFrame struct {
	Type    string
	Content string
	Message string
	Raw     json.RawMessage
}

func (*MarketAlertFrame) frameKind() string  { return TypeMarketAlert }
func (*StreamStatusFrame) frameKind() string { return TypeStreamStatus }
func (*StreamChunkFrame) frameKind() string  { return TypeStreamChunk }
func (*StreamDoneFrame) frameKind() string   { return TypeStreamDone }
func (*NarrationFrame) frameKind() string    { return TypeNarration }
func (f *GenericFrame) frameKind() string    { return f.Type }

// rawFrame is the loose wire shape shared by every inbound frame kind. Each
// known type reads the subset of fields it cares about.
type rawFrame struct {
	Type        string          `json:"type"`
	Content     string          `json:"content"`
	Data        json.RawMessage `json:"data"`
	Status      string          `json:"status"`
	Description string          `json:"description"`
	FullContent string          `json:"full_content"`
	AgentType   string          `json:"agent_type"`
	ToolsUsed   []string        `json:"tools_used"`
	Text        string          `json:"text"`
	EventType   string          `json:"event_type"`
	Instrument  string          `json:"instrument"`
	Timestamp   string          `json:"timestamp"`
	Message     string          `json:"message"`
}

// DecodeFrame decodes one wire payload into its tagged frame type. The
// classification is an ordered first-match check on the type field; unknown
// or missing types fall through to *GenericFrame. A payload that is not a
// JSON object is an error and the caller drops it.
func DecodeFrame(data []byte) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	switch raw.Type {
	case TypeMarketAlert:
		// Prefer the nested data payload, else the frame's own fields.
		src := data
		if len(raw.Data) > 0 && string(raw.Data) != "null" {
			src = raw.Data
		}
		var alert domain.MarketAlert
		if err := json.Unmarshal(src, &alert); err != nil {
			return nil, fmt.Errorf("decoding market alert: %w", err)
		}
		return &MarketAlertFrame{Alert: alert}, nil

	case TypeStreamStatus:
		phase := domain.StreamPhase(raw.Status)
		if raw.Status == "" {
			phase = domain.PhaseThinking
		}
		desc := raw.Description
		if desc == "" {
			desc = raw.Content
		}
		return &StreamStatusFrame{Status: domain.StreamStatus{
			Phase:       phase,
			AgentType:   raw.AgentType,
			ToolsUsed:   raw.ToolsUsed,
			Description: desc,
		}}, nil

	case TypeStreamChunk:
		return &StreamChunkFrame{Content: raw.Content}, nil

	case TypeStreamDone:
		return &StreamDoneFrame{
			FullContent: raw.FullContent,
			AgentType:   raw.AgentType,
			ToolsUsed:   raw.ToolsUsed,
		}, nil

	case TypeNarration:
		return &NarrationFrame{Event: domain.Narration{
			Text:       raw.Text,
			EventType:  raw.EventType,
			Instrument: raw.Instrument,
			Timestamp:  raw.Timestamp,
		}}, nil

	default:
		return &GenericFrame{
			Type:    raw.Type,
			Content: raw.Content,
			Message: raw.Message,
			Raw:     append(json.RawMessage(nil), data...),
		}, nil
	}
}

// ChatSendFrame is the outbound envelope for one user chat message.
type ChatSendFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	AgentType string `json:"agent_type"`
	Stream    bool   `json:"stream"`
}

// NewChatSend builds the outbound frame for one user message. An empty agent
// selector defaults to auto.
func NewChatSend(text, agent string) ChatSendFrame {
	if agent == "" {
		agent = domain.AgentAuto
	}
	return ChatSendFrame{
		Type:      TypeChatMessage,
		Message:   text,
		AgentType: agent,
		Stream:    true,
	}
}
