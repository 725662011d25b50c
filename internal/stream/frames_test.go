package stream

import (
	"encoding/json"
	"testing"

	"tradeiq/internal/domain"
)

func TestDecodeMarketAlertNested(t *testing.T) {
	payload := []byte(`{
		"type": "market_alert",
		"data": {
			"instrument": "BTC-USD",
			"price": 64250.5,
			"change_percent": 4.2,
			"direction": "spike",
			"magnitude": "high",
			"timestamp": "2025-11-03T14:05:00Z",
			"summary": "BTC jumped 4.2% in 5 minutes"
		}
	}`)
	f, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	af, ok := f.(*MarketAlertFrame)
	if !ok {
		t.Fatalf("frame type = %T, want *MarketAlertFrame", f)
	}
	if af.Alert.Instrument != "BTC-USD" {
		t.Errorf("Instrument = %q, want %q", af.Alert.Instrument, "BTC-USD")
	}
	if af.Alert.Price != 64250.5 {
		t.Errorf("Price = %v, want 64250.5", af.Alert.Price)
	}
	if af.Alert.Direction != domain.DirectionSpike {
		t.Errorf("Direction = %q, want %q", af.Alert.Direction, domain.DirectionSpike)
	}
	if af.Alert.Magnitude != domain.MagnitudeHigh {
		t.Errorf("Magnitude = %q, want %q", af.Alert.Magnitude, domain.MagnitudeHigh)
	}
}

func TestDecodeMarketAlertFlat(t *testing.T) {
	payload := []byte(`{"type":"market_alert","instrument":"ETH-USD","price":3120.0,"direction":"drop"}`)
	f, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	af, ok := f.(*MarketAlertFrame)
	if !ok {
		t.Fatalf("frame type = %T, want *MarketAlertFrame", f)
	}
	if af.Alert.Instrument != "ETH-USD" {
		t.Errorf("Instrument = %q, want %q", af.Alert.Instrument, "ETH-USD")
	}
	if af.Alert.Direction != domain.DirectionDrop {
		t.Errorf("Direction = %q, want %q", af.Alert.Direction, domain.DirectionDrop)
	}
}

func TestDecodeMarketAlertNullData(t *testing.T) {
	payload := []byte(`{"type":"market_alert","data":null,"instrument":"SOL-USD"}`)
	f, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	af := f.(*MarketAlertFrame)
	if af.Alert.Instrument != "SOL-USD" {
		t.Errorf("Instrument = %q, want %q", af.Alert.Instrument, "SOL-USD")
	}
}

func TestDecodeStreamStatus(t *testing.T) {
	payload := []byte(`{"type":"stream_status","status":"tool_call","agent_type":"market","tools_used":["market_data"],"description":"fetching prices"}`)
	f, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	sf, ok := f.(*StreamStatusFrame)
	if !ok {
		t.Fatalf("frame type = %T, want *StreamStatusFrame", f)
	}
	if sf.Status.Phase != domain.PhaseToolCall {
		t.Errorf("Phase = %q, want %q", sf.Status.Phase, domain.PhaseToolCall)
	}
	if sf.Status.AgentType != "market" {
		t.Errorf("AgentType = %q, want %q", sf.Status.AgentType, "market")
	}
	if len(sf.Status.ToolsUsed) != 1 || sf.Status.ToolsUsed[0] != "market_data" {
		t.Errorf("ToolsUsed = %v, want [market_data]", sf.Status.ToolsUsed)
	}
	if sf.Status.Description != "fetching prices" {
		t.Errorf("Description = %q, want %q", sf.Status.Description, "fetching prices")
	}
}

func TestDecodeStreamStatusDefaults(t *testing.T) {
	// Missing status defaults to thinking; description falls back to content.
	payload := []byte(`{"type":"stream_status","content":"working on it"}`)
	f, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	sf := f.(*StreamStatusFrame)
	if sf.Status.Phase != domain.PhaseThinking {
		t.Errorf("Phase = %q, want %q", sf.Status.Phase, domain.PhaseThinking)
	}
	if sf.Status.Description != "working on it" {
		t.Errorf("Description = %q, want %q", sf.Status.Description, "working on it")
	}
}

func TestDecodeStreamChunk(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"stream_chunk","content":"BTC is "}`))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	cf, ok := f.(*StreamChunkFrame)
	if !ok {
		t.Fatalf("frame type = %T, want *StreamChunkFrame", f)
	}
	if cf.Content != "BTC is " {
		t.Errorf("Content = %q, want %q", cf.Content, "BTC is ")
	}

	f, err = DecodeFrame([]byte(`{"type":"stream_chunk"}`))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got := f.(*StreamChunkFrame).Content; got != "" {
		t.Errorf("missing content = %q, want empty", got)
	}
}

func TestDecodeStreamDone(t *testing.T) {
	payload := []byte(`{"type":"stream_done","full_content":"BTC is bullish.","agent_type":"market","tools_used":["market_data"]}`)
	f, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	df, ok := f.(*StreamDoneFrame)
	if !ok {
		t.Fatalf("frame type = %T, want *StreamDoneFrame", f)
	}
	if df.FullContent != "BTC is bullish." {
		t.Errorf("FullContent = %q, want %q", df.FullContent, "BTC is bullish.")
	}
	if df.AgentType != "market" {
		t.Errorf("AgentType = %q, want %q", df.AgentType, "market")
	}
}

func TestDecodeNarration(t *testing.T) {
	payload := []byte(`{"type":"narration","text":"Volume climbing on BTC","event_type":"volume","instrument":"BTC-USD","timestamp":"2025-11-03T14:06:00Z"}`)
	f, err := DecodeFrame(payload)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	nf, ok := f.(*NarrationFrame)
	if !ok {
		t.Fatalf("frame type = %T, want *NarrationFrame", f)
	}
	if nf.Event.Text != "Volume climbing on BTC" {
		t.Errorf("Text = %q, want %q", nf.Event.Text, "Volume climbing on BTC")
	}
	if nf.Event.EventType != "volume" {
		t.Errorf("EventType = %q, want %q", nf.Event.EventType, "volume")
	}
}

func TestDecodeNarrationDefaults(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"type":"narration"}`))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	nf := f.(*NarrationFrame)
	if nf.Event.Text != "" || nf.Event.EventType != "" || nf.Event.Instrument != "" {
		t.Errorf("empty narration = %+v, want zero fields", nf.Event)
	}
}

func TestDecodeGenericFallthrough(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		typ     string
		content string
		message string
	}{
		{"reply", `{"type":"reply","content":"hello there"}`, "reply", "hello there", ""},
		{"unknown", `{"type":"mystery","content":"??"}`, "mystery", "??", ""},
		{"untyped", `{"message":"legacy text"}`, "", "", "legacy text"},
		{"empty object", `{}`, "", "", ""},
	}
	for _, tc := range cases {
		f, err := DecodeFrame([]byte(tc.payload))
		if err != nil {
			t.Fatalf("%s: DecodeFrame: %v", tc.name, err)
		}
		gf, ok := f.(*GenericFrame)
		if !ok {
			t.Fatalf("%s: frame type = %T, want *GenericFrame", tc.name, f)
		}
		if gf.Type != tc.typ {
			t.Errorf("%s: Type = %q, want %q", tc.name, gf.Type, tc.typ)
		}
		if gf.Content != tc.content {
			t.Errorf("%s: Content = %q, want %q", tc.name, gf.Content, tc.content)
		}
		if gf.Message != tc.message {
			t.Errorf("%s: Message = %q, want %q", tc.name, gf.Message, tc.message)
		}
		if string(gf.Raw) != tc.payload {
			t.Errorf("%s: Raw = %s, want %s", tc.name, gf.Raw, tc.payload)
		}
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	if _, err := DecodeFrame([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, err := DecodeFrame([]byte(`[1,2,3]`)); err == nil {
		t.Fatal("expected error for non-object payload")
	}
}

func TestNewChatSend(t *testing.T) {
	f := NewChatSend("what moved today?", "")
	if f.Type != TypeChatMessage {
		t.Errorf("Type = %q, want %q", f.Type, TypeChatMessage)
	}
	if f.AgentType != domain.AgentAuto {
		t.Errorf("AgentType = %q, want %q", f.AgentType, domain.AgentAuto)
	}
	if !f.Stream {
		t.Error("Stream = false, want true")
	}

	f = NewChatSend("BTC outlook?", "market")
	if f.AgentType != "market" {
		t.Errorf("AgentType = %q, want %q", f.AgentType, "market")
	}

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"type":"chat.message","message":"BTC outlook?","agent_type":"market","stream":true}`
	if string(data) != want {
		t.Errorf("encoded frame = %s, want %s", data, want)
	}
}
