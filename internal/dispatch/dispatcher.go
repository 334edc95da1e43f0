package dispatch

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/treykane/port-console/internal/store"
)

// Dispatcher is the single-writer serialization point for the entity store.
// Dispatch applies actions one at a time in arrival order; State is lock-free
// and returns the latest immutable version.
type Dispatcher struct {
	mu      sync.Mutex
	current atomic.Pointer[store.State]
	version atomic.Uint64

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int

	logger *zap.Logger
}

// New creates a dispatcher seeded with initial, typically a restored snapshot.
func New(initial store.State, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		subs:   make(map[int]chan struct{}),
		logger: logger,
	}
	d.current.Store(&initial)
	return d
}

// State returns the current store version.
func (d *Dispatcher) State() store.State {
	return *d.current.Load()
}

// Version counts applied actions since construction.
func (d *Dispatcher) Version() uint64 {
	return d.version.Load()
}

// Dispatch folds a into the store and returns the resulting state.
func (d *Dispatcher) Dispatch(a Action) store.State {
	d.mu.Lock()
	prev := *d.current.Load()
	if ps, ok := a.(PortScoped); ok && !prev.Ports.Has(ps.TargetPort()) {
		d.mu.Unlock()
		d.logger.Debug("dropping action for unknown port",
			zap.String("action", string(a.Type())),
			zap.Int("port_id", ps.TargetPort()),
		)
		return prev
	}
	next := Reduce(prev, a)
	d.current.Store(&next)
	v := d.version.Add(1)
	d.mu.Unlock()

	d.logger.Debug("applied action",
		zap.String("action", string(a.Type())),
		zap.Uint64("version", v),
	)
	d.notify()
	return next
}

// Subscribe returns a channel signalled after each applied action and a
// function that cancels the subscription. Signals coalesce: a slow reader
// sees at most one pending notification and should re-read State.
func (d *Dispatcher) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	d.subMu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = ch
	d.subMu.Unlock()

	return ch, func() {
		d.subMu.Lock()
		delete(d.subs, id)
		d.subMu.Unlock()
	}
}

func (d *Dispatcher) notify() {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
