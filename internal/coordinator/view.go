package coordinator

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/treykane/port-console/internal/dispatch"
	"github.com/treykane/port-console/internal/gateway"
)

// activate makes serverID the active view: in-flight calls of the previous
// view are cancelled and the port table is cleared before any new fetch.
func (c *Coordinator) activate(serverID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.viewCancel != nil {
		c.viewCancel()
	}
	c.viewCtx, c.viewCancel = context.WithCancel(context.Background())
	c.active = serverID
	c.gen++
	c.d.Dispatch(dispatch.ClearServerPorts{})
	c.logger.Debug("server view opened", zap.Int("server_id", serverID))
}

// OpenServer switches to serverID's view and loads the server record (when not
// already stored) and its port list concurrently.
func (c *Coordinator) OpenServer(ctx context.Context, serverID int) error {
	c.activate(serverID)
	ctx, _, done := c.scoped(ctx, serverID)
	defer done()

	g, gctx := errgroup.WithContext(ctx)
	if _, ok := c.d.State().Server(serverID); !ok {
		g.Go(func() error {
			_, err := c.FetchServer(gctx, serverID)
			return err
		})
	}
	g.Go(func() error {
		_, err := c.FetchPorts(gctx, serverID)
		return err
	})
	return g.Wait()
}

// RefreshServer re-reads the open server: the server record and port list
// first, then every port's forward rule and users in parallel. Ports that
// disappeared server-side are removed from the store.
func (c *Coordinator) RefreshServer(ctx context.Context, serverID int) error {
	ctx, v, done := c.scoped(ctx, serverID)
	defer done()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.FetchServer(gctx, serverID)
		return err
	})
	var listed []int
	g.Go(func() error {
		ports, err := c.FetchPorts(gctx, serverID)
		for _, p := range ports {
			listed = append(listed, p.ID)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if err := c.prune(v, listed); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(c.fanOut)
	for _, portID := range listed {
		portID := portID
		g.Go(func() error {
			_, err := c.FetchForwardRule(gctx, serverID, portID)
			if errors.Is(err, gateway.ErrNotFound) {
				// No rule on this port.
				return c.apply(v, dispatch.SetForwardRule{PortID: portID})
			}
			return err
		})
		g.Go(func() error {
			_, err := c.FetchPortUsers(gctx, serverID, portID)
			return err
		})
	}
	return g.Wait()
}

func (c *Coordinator) prune(v call, listed []int) error {
	keep := make(map[int]bool, len(listed))
	for _, id := range listed {
		keep[id] = true
	}
	for _, p := range c.d.State().PortsForServer(v.serverID) {
		if keep[p.ID] {
			continue
		}
		if err := c.apply(v, dispatch.RemovePort{PortID: p.ID}); err != nil {
			return err
		}
	}
	return nil
}

// CloseServer leaves the server view: pending calls are cancelled and the
// port table is cleared so the next view starts empty.
func (c *Coordinator) CloseServer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.viewCancel != nil {
		c.viewCancel()
		c.viewCancel = nil
	}
	c.viewCtx = nil
	c.active = 0
	c.gen++
	c.d.Dispatch(dispatch.ClearServerPorts{})
}
