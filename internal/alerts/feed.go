// Package alerts provides a shared in-memory model for live market alerts
// and narration events, with bounded retention and pub/sub for streaming
// consumers such as the dashboard and the archive worker.
package alerts

import (
	"sync"

	"tradeiq/internal/domain"
)

// Default retention when the caller passes no explicit caps.
const (
	DefaultAlertCap     = 256
	DefaultNarrationCap = 512
)

// Event is emitted to subscribers when an alert or narration event arrives.
// Exactly one of the two fields is set.
type Event struct {
	Alert     *domain.MarketAlert
	Narration *domain.Narration
}

// Stats summarizes feed activity since start.
type Stats struct {
	AlertsTotal       uint64
	NarrationTotal    uint64
	DroppedEvents     uint64
	AlertsRetained    int
	NarrationRetained int
	Subscribers       int
}

// Feed holds the most recent market alerts and narration events. Retention
// is bounded per kind; the oldest entries fall off first.
type Feed struct {
	mu           sync.RWMutex
	alerts       []domain.MarketAlert
	narration    []domain.Narration
	alertCap     int
	narrationCap int
	alertTotal   uint64
	narrTotal    uint64

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event
	dropped   uint64
}

// NewFeed creates a feed retaining up to alertCap alerts and narrationCap
// narration events. Caps of zero or less use the defaults.
func NewFeed(alertCap, narrationCap int) *Feed {
	if alertCap <= 0 {
		alertCap = DefaultAlertCap
	}
	if narrationCap <= 0 {
		narrationCap = DefaultNarrationCap
	}
	return &Feed{
		alertCap:     alertCap,
		narrationCap: narrationCap,
		subs:         make(map[int]chan Event),
	}
}

// AddAlert records a market alert and notifies subscribers.
func (f *Feed) AddAlert(a domain.MarketAlert) {
	f.mu.Lock()
	f.alerts = append(f.alerts, a)
	if len(f.alerts) > f.alertCap {
		f.alerts = append(f.alerts[:0], f.alerts[len(f.alerts)-f.alertCap:]...)
	}
	f.alertTotal++
	f.mu.Unlock()

	f.publish(Event{Alert: &a})
}

// AddNarration records a narration event and notifies subscribers.
func (f *Feed) AddNarration(n domain.Narration) {
	f.mu.Lock()
	f.narration = append(f.narration, n)
	if len(f.narration) > f.narrationCap {
		f.narration = append(f.narration[:0], f.narration[len(f.narration)-f.narrationCap:]...)
	}
	f.narrTotal++
	f.mu.Unlock()

	f.publish(Event{Narration: &n})
}

// publish fans an event out to subscribers (non-blocking send).
func (f *Feed) publish(evt Event) {
	f.subsMu.Lock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
			f.dropped++
		}
	}
	f.subsMu.Unlock()
}

// RecentAlerts returns up to limit of the most recent alerts in arrival
// order. A non-positive limit returns everything retained.
func (f *Feed) RecentAlerts(limit int) []domain.MarketAlert {
	f.mu.RLock()
	defer f.mu.RUnlock()
	src := f.alerts
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]domain.MarketAlert, len(src))
	copy(out, src)
	return out
}

// RecentNarration returns up to limit of the most recent narration events in
// arrival order. A non-positive limit returns everything retained.
func (f *Feed) RecentNarration(limit int) []domain.Narration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	src := f.narration
	if limit > 0 && len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]domain.Narration, len(src))
	copy(out, src)
	return out
}

// Stats reports totals since start plus current retention and subscribers.
func (f *Feed) Stats() Stats {
	f.mu.RLock()
	s := Stats{
		AlertsTotal:       f.alertTotal,
		NarrationTotal:    f.narrTotal,
		AlertsRetained:    len(f.alerts),
		NarrationRetained: len(f.narration),
	}
	f.mu.RUnlock()

	f.subsMu.Lock()
	s.DroppedEvents = f.dropped
	s.Subscribers = len(f.subs)
	f.subsMu.Unlock()
	return s
}

// Subscribe creates a new subscription channel for feed events.
func (f *Feed) Subscribe(bufSize int) (id int, ch <-chan Event) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	id = f.nextSubID
	f.nextSubID++
	c := make(chan Event, bufSize)
	f.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (f *Feed) Unsubscribe(id int) {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}
