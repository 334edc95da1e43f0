// Package coordinator turns operator intents into Remote Gateway calls and
// folds their results into the entity store.
//
// Every method issues at most one gateway call per resource and dispatches
// only on success. Failures are returned unchanged and never retried.
package coordinator

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/treykane/port-console/internal/dispatch"
	"github.com/treykane/port-console/internal/events"
	"github.com/treykane/port-console/internal/gateway"
	"github.com/treykane/port-console/internal/store"
)

var (
	// ErrStaleResponse is returned when a result arrives for a server view
	// that is no longer active. The result is not applied.
	ErrStaleResponse = errors.New("response for a server view that is no longer open")
	// ErrRuleBusy is returned when the lifecycle policy blocks a rule edit.
	ErrRuleBusy = errors.New("forward rule is transitioning; wait for it to settle")
)

// Dispatcher is the store entry point the coordinator writes through.
type Dispatcher interface {
	Dispatch(a dispatch.Action) store.State
	State() store.State
}

// Journal records mutations. A nil journal disables recording.
type Journal interface {
	Append(evt events.Event) error
}

type Options struct {
	Gateway    gateway.Gateway
	Dispatcher Dispatcher
	Journal    Journal
	Logger     *zap.Logger
	// FanOut bounds concurrent per-port fetches during a refresh.
	FanOut int
}

// Coordinator owns the active server view.
type Coordinator struct {
	gw      gateway.Gateway
	d       Dispatcher
	journal Journal
	logger  *zap.Logger
	fanOut  int

	mu         sync.Mutex
	active     int
	gen        uint64
	viewCtx    context.Context
	viewCancel context.CancelFunc
}

// call identifies the view a port-level call was issued under. gen changes on
// every open and close, so a result is applied only to the view that asked.
type call struct {
	serverID int
	gen      uint64
}

func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fanOut := opts.FanOut
	if fanOut <= 0 {
		fanOut = 8
	}
	return &Coordinator{
		gw:      opts.Gateway,
		d:       opts.Dispatcher,
		journal: opts.Journal,
		logger:  logger,
		fanOut:  fanOut,
	}
}

// State returns the current store snapshot.
func (c *Coordinator) State() store.State {
	return c.d.State()
}

// ActiveServer returns the id of the open server view, or 0.
func (c *Coordinator) ActiveServer() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// isStale reports whether results for v must be dropped. Callers hold c.mu.
func (c *Coordinator) isStale(v call) bool {
	if v.gen != c.gen {
		return true
	}
	return c.active != 0 && c.active != v.serverID
}

// apply dispatches a port-level result unless the view moved on. The check and
// the dispatch happen under the view lock so a result cannot land after the
// CLEAR_SERVER_PORTS of the next view.
func (c *Coordinator) apply(v call, a dispatch.Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isStale(v) {
		c.logger.Debug("dropping stale response",
			zap.String("action", string(a.Type())),
			zap.Int("server_id", v.serverID),
			zap.Int("active_server_id", c.active),
		)
		return ErrStaleResponse
	}
	c.d.Dispatch(a)
	return nil
}

// scoped ties ctx to the active view for serverID so that switching views
// cancels the call. The returned func must be called when the call returns.
func (c *Coordinator) scoped(ctx context.Context, serverID int) (context.Context, call, func()) {
	c.mu.Lock()
	view := c.viewCtx
	v := call{serverID: serverID, gen: c.gen}
	matches := c.active == serverID
	c.mu.Unlock()
	if view == nil || !matches {
		return ctx, v, func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(view, cancel)
	return ctx, v, func() {
		stop()
		cancel()
	}
}

// failed maps a gateway error to ErrStaleResponse when the view changed while
// the call was in flight.
func (c *Coordinator) failed(v call, op string, err error) error {
	c.mu.Lock()
	stale := c.isStale(v)
	c.mu.Unlock()
	if stale {
		c.logger.Debug("dropping failure for inactive view", zap.String("op", op), zap.Error(err))
		return ErrStaleResponse
	}
	return c.logFailure(op, v.serverID, err)
}

func (c *Coordinator) logFailure(op string, serverID int, err error) error {
	c.logger.Warn("gateway call failed",
		zap.String("op", op),
		zap.Int("server_id", serverID),
		zap.String("kind", gateway.KindOf(err).String()),
		zap.String("error", gateway.DebugMessage(err)),
	)
	return err
}

func (c *Coordinator) record(evt events.Event, err error) {
	if c.journal == nil {
		return
	}
	if err != nil {
		evt.Error = gateway.UserMessage(err, true)
	}
	if jerr := c.journal.Append(evt); jerr != nil {
		c.logger.Warn("failed to write event", zap.String("event_type", evt.EventType), zap.Error(jerr))
	}
}
