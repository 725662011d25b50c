// Package httpapi provides the read-only JSON API served by the alert
// daemon, exposing the same counters the console renders.
package httpapi

import (
	"time"

	"tradeiq/internal/alerts"
	"tradeiq/internal/archive"
	"tradeiq/internal/domain"
)

// AlertJSON is the JSON representation of one received market alert.
type AlertJSON struct {
	Instrument string  `json:"instrument"`
	Price      float64 `json:"price"`
	ChangePct  float64 `json:"changePercent"`
	Direction  string  `json:"direction"`
	Magnitude  string  `json:"magnitude"`
	Timestamp  string  `json:"timestamp"`
	Summary    string  `json:"summary,omitempty"`
	Warning    string  `json:"warning,omitempty"`
	Draft      string  `json:"draft,omitempty"`
}

// NarrationJSON is a single narration event.
type NarrationJSON struct {
	Text       string `json:"text"`
	EventType  string `json:"eventType,omitempty"`
	Instrument string `json:"instrument,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// FeedJSON holds feed counters for the status endpoint.
type FeedJSON struct {
	AlertsTotal       uint64 `json:"alertsTotal"`
	NarrationTotal    uint64 `json:"narrationTotal"`
	AlertsRetained    int    `json:"alertsRetained"`
	NarrationRetained int    `json:"narrationRetained"`
	DroppedEvents     uint64 `json:"droppedEvents"`
	Subscribers       int    `json:"subscribers"`
}

// ArchiveJSON holds archiver flush counters for the status endpoint.
type ArchiveJSON struct {
	AlertsWritten    uint64 `json:"alertsWritten"`
	NarrationWritten uint64 `json:"narrationWritten"`
	Flushes          uint64 `json:"flushes"`
	FlushErrors      uint64 `json:"flushErrors"`
	PendingAlerts    int    `json:"pendingAlerts"`
	PendingNarration int    `json:"pendingNarration"`
	LastFlush        string `json:"lastFlush,omitempty"`
}

// StatusResponse is the top-level payload of GET /api/status.
type StatusResponse struct {
	Conn          string       `json:"conn"`
	Endpoint      string       `json:"endpoint,omitempty"`
	UptimeSeconds int64        `json:"uptimeSeconds"`
	Session       string       `json:"session"`
	ExchangeTime  string       `json:"exchangeTime"`
	Feed          FeedJSON     `json:"feed"`
	Archive       *ArchiveJSON `json:"archive,omitempty"`
}

// AlertsResponse lists recent alerts, newest first.
type AlertsResponse struct {
	Count  int         `json:"count"`
	Alerts []AlertJSON `json:"alerts"`
}

// NarrationResponse lists recent narration events, newest first.
type NarrationResponse struct {
	Count  int             `json:"count"`
	Events []NarrationJSON `json:"events"`
}

func convertAlert(a domain.MarketAlert) AlertJSON {
	return AlertJSON{
		Instrument: a.Instrument,
		Price:      a.Price,
		ChangePct:  a.ChangePct,
		Direction:  string(a.Direction),
		Magnitude:  string(a.Magnitude),
		Timestamp:  a.Timestamp,
		Summary:    a.Summary,
		Warning:    a.Warning,
		Draft:      a.Draft,
	}
}

func convertNarration(n domain.Narration) NarrationJSON {
	return NarrationJSON{
		Text:       n.Text,
		EventType:  n.EventType,
		Instrument: n.Instrument,
		Timestamp:  n.Timestamp,
	}
}

func convertFeedStats(s alerts.Stats) FeedJSON {
	return FeedJSON{
		AlertsTotal:       s.AlertsTotal,
		NarrationTotal:    s.NarrationTotal,
		AlertsRetained:    s.AlertsRetained,
		NarrationRetained: s.NarrationRetained,
		DroppedEvents:     s.DroppedEvents,
		Subscribers:       s.Subscribers,
	}
}

func convertArchiveStats(s archive.Stats) *ArchiveJSON {
	out := &ArchiveJSON{
		AlertsWritten:    s.AlertsWritten,
		NarrationWritten: s.NarrationWritten,
		Flushes:          s.Flushes,
		FlushErrors:      s.FlushErrors,
		PendingAlerts:    s.PendingAlerts,
		PendingNarration: s.PendingNarration,
	}
	if !s.LastFlush.IsZero() {
		out.LastFlush = s.LastFlush.UTC().Format(time.RFC3339)
	}
	return out
}
