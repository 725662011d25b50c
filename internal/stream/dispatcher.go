package stream

import (
	"sync"

	"tradeiq/internal/domain"
)

// group is a registry of handlers for one event type. Registration returns
// an unsubscribe func; broadcast invokes handlers in registration order,
// outside the lock so a handler may unsubscribe itself.
type group[T any] struct {
	mu    sync.Mutex
	next  int
	order []int
	fns   map[int]func(T)
}

func (g *group[T]) subscribe(fn func(T)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fns == nil {
		g.fns = make(map[int]func(T))
	}
	id := g.next
	g.next++
	g.fns[id] = fn
	g.order = append(g.order, id)
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.fns, id)
		for i, v := range g.order {
			if v == id {
				g.order = append(g.order[:i], g.order[i+1:]...)
				break
			}
		}
	}
}

func (g *group[T]) broadcast(v T) {
	g.mu.Lock()
	fns := make([]func(T), 0, len(g.order))
	for _, id := range g.order {
		if fn, ok := g.fns[id]; ok {
			fns = append(fns, fn)
		}
	}
	g.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// Dispatcher routes decoded frames to typed handler groups. Every frame
// reaches exactly one group; *GenericFrame is the catch-all, so no inbound
// payload is silently lost.
type Dispatcher struct {
	alerts    group[domain.MarketAlert]
	statuses  group[domain.StreamStatus]
	chunks    group[string]
	dones     group[StreamDoneFrame]
	narration group[domain.Narration]
	generic   group[*GenericFrame]
	conn      group[domain.ConnStatus]
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// OnMarketAlert registers fn for market alert frames.
func (d *Dispatcher) OnMarketAlert(fn func(domain.MarketAlert)) func() {
	return d.alerts.subscribe(fn)
}

// OnStreamStatus registers fn for stream status frames.
func (d *Dispatcher) OnStreamStatus(fn func(domain.StreamStatus)) func() {
	return d.statuses.subscribe(fn)
}

// OnChunk registers fn for incremental content fragments.
func (d *Dispatcher) OnChunk(fn func(string)) func() {
	return d.chunks.subscribe(fn)
}

// OnDone registers fn for stream completion frames.
func (d *Dispatcher) OnDone(fn func(StreamDoneFrame)) func() {
	return d.dones.subscribe(fn)
}

// OnNarration registers fn for narration frames.
func (d *Dispatcher) OnNarration(fn func(domain.Narration)) func() {
	return d.narration.subscribe(fn)
}

// OnGeneric registers fn for frames that match no dedicated kind.
func (d *Dispatcher) OnGeneric(fn func(*GenericFrame)) func() {
	return d.generic.subscribe(fn)
}

// OnConnStatus registers fn for transport connection transitions relayed
// through HandleStatus.
func (d *Dispatcher) OnConnStatus(fn func(domain.ConnStatus)) func() {
	return d.conn.subscribe(fn)
}

// Dispatch routes one decoded frame to its handler group.
func (d *Dispatcher) Dispatch(f Frame) {
	switch fr := f.(type) {
	case *MarketAlertFrame:
		d.alerts.broadcast(fr.Alert)
	case *StreamStatusFrame:
		d.statuses.broadcast(fr.Status)
	case *StreamChunkFrame:
		d.chunks.broadcast(fr.Content)
	case *StreamDoneFrame:
		d.dones.broadcast(*fr)
	case *NarrationFrame:
		d.narration.broadcast(fr.Event)
	case *GenericFrame:
		d.generic.broadcast(fr)
	}
}

// HandleFrame implements FrameSink.
func (d *Dispatcher) HandleFrame(f Frame) { d.Dispatch(f) }

// HandleStatus relays a transport status change to connection observers.
func (d *Dispatcher) HandleStatus(s domain.ConnStatus) { d.conn.broadcast(s) }

var _ FrameSink = (*Dispatcher)(nil)
