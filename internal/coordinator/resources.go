package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/treykane/port-console/internal/dispatch"
	"github.com/treykane/port-console/internal/events"
	"github.com/treykane/port-console/internal/gateway"
	"github.com/treykane/port-console/internal/lifecycle"
	"github.com/treykane/port-console/internal/model"
)

// FetchServers loads the server list. Servers are global: their results and
// failures are never subject to the view guard.
func (c *Coordinator) FetchServers(ctx context.Context) ([]model.Server, error) {
	servers, err := c.gw.ListServers(ctx)
	if err != nil {
		return nil, c.logFailure("list servers", 0, err)
	}
	c.d.Dispatch(dispatch.AddServers{Servers: servers})
	return servers, nil
}

func (c *Coordinator) FetchServer(ctx context.Context, serverID int) (model.Server, error) {
	srv, err := c.gw.GetServer(ctx, serverID)
	if err != nil {
		return model.Server{}, c.logFailure("get server", serverID, err)
	}
	c.d.Dispatch(dispatch.AddServer{Server: srv})
	return srv, nil
}

// Ports

func (c *Coordinator) FetchPorts(ctx context.Context, serverID int) ([]model.Port, error) {
	ctx, v, done := c.scoped(ctx, serverID)
	defer done()
	ports, err := c.gw.ListPorts(ctx, serverID)
	if err != nil {
		return nil, c.failed(v, "list ports", err)
	}
	if err := c.apply(v, dispatch.AddPorts{ServerID: serverID, Ports: ports}); err != nil {
		return nil, err
	}
	return ports, nil
}

func (c *Coordinator) FetchPort(ctx context.Context, serverID, portID int) (model.Port, error) {
	ctx, v, done := c.scoped(ctx, serverID)
	defer done()
	p, err := c.gw.GetPort(ctx, serverID, portID)
	if err != nil {
		return model.Port{}, c.failed(v, "get port", err)
	}
	if err := c.apply(v, dispatch.AddPort{Port: p}); err != nil {
		return model.Port{}, err
	}
	return p, nil
}

func (c *Coordinator) CreatePort(ctx context.Context, serverID int, in model.PortInput) (model.Port, error) {
	evt := events.Event{ServerID: serverID, EventType: events.PortCreated, Message: fmt.Sprintf("num %d", in.Num)}
	if err := gateway.ValidatePort(in); err != nil {
		c.record(evt, err)
		return model.Port{}, err
	}
	ctx, v, done := c.scoped(ctx, serverID)
	defer done()
	p, err := c.gw.CreatePort(ctx, serverID, in)
	if err != nil {
		err = c.failed(v, "create port", err)
		c.record(evt, err)
		return model.Port{}, err
	}
	evt.PortID = p.ID
	c.record(evt, nil)
	if err := c.apply(v, dispatch.AddPort{Port: p}); err != nil {
		return p, err
	}
	return p, nil
}

func (c *Coordinator) UpdatePort(ctx context.Context, serverID, portID int, in model.PortInput) (model.Port, error) {
	evt := events.Event{ServerID: serverID, PortID: portID, EventType: events.PortUpdated, Message: fmt.Sprintf("num %d", in.Num)}
	if err := gateway.ValidatePort(in); err != nil {
		c.record(evt, err)
		return model.Port{}, err
	}
	ctx, v, done := c.scoped(ctx, serverID)
	defer done()
	p, err := c.gw.UpdatePort(ctx, serverID, portID, in)
	if err != nil {
		err = c.failed(v, "update port", err)
		c.record(evt, err)
		return model.Port{}, err
	}
	c.record(evt, nil)
	if err := c.apply(v, dispatch.AddPort{Port: p}); err != nil {
		return p, err
	}
	return p, nil
}

// DeletePort removes the port. A port already gone server-side counts as deleted.
func (c *Coordinator) DeletePort(ctx context.Context, serverID, portID int) error {
	evt := events.Event{ServerID: serverID, PortID: portID, EventType: events.PortDeleted}
	ctx, v, done := c.scoped(ctx, serverID)
	defer done()
	if err := c.gw.DeletePort(ctx, serverID, portID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		err = c.failed(v, "delete port", err)
		c.record(evt, err)
		return err
	}
	c.record(evt, nil)
	return c.apply(v, dispatch.RemovePort{PortID: portID})
}

// Port users

func (c *Coordinator) FetchPortUsers(ctx context.Context, serverID, portID int) ([]model.PortUserRef, error) {
	ctx, v, done := c.scoped(ctx, serverID)
	defer done()
	users, err := c.gw.ListPortUsers(ctx, serverID, portID)
	if err != nil {
		return nil, c.failed(v, "list port users", err)
	}
	if err := c.apply(v, dispatch.AddPortUsers{PortID: portID, Users: users}); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Coordinator) AddPortUser(ctx context.Context, serverID, portID int, in model.PortUserInput) (model.PortUserRef, error) {
	evt := events.Event{ServerID: serverID, PortID: portID, EventType: events.UserAdded, Message: fmt.Sprintf("user %d", in.UserID)}
	if err := gateway.ValidatePortUser(in); err != nil {
		c.record(evt, err)
		return model.PortUserRef{}, err
	}
	ctx, v, done := c.scoped(ctx, serverID)
	defer done()
	ref, err := c.gw.AddPortUser(ctx, serverID, portID, in)
	if err != nil {
		err = c.failed(v, "add port user", err)
		c.record(evt, err)
		return model.PortUserRef{}, err
	}
	evt.Message = ref.User.Email
	c.record(evt, nil)
	if err := c.apply(v, dispatch.AddPortUser{PortID: portID, User: ref}); err != nil {
		return ref, err
	}
	return ref, nil
}

// RemovePortUser revokes access. A membership already gone counts as removed.
func (c *Coordinator) RemovePortUser(ctx context.Context, serverID, portID, userID int) error {
	evt := events.Event{ServerID: serverID, PortID: portID, EventType: events.UserRemoved, Message: fmt.Sprintf("user %d", userID)}
	ctx, v, done := c.scoped(ctx, serverID)
	defer done()
	if err := c.gw.RemovePortUser(ctx, serverID, portID, userID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		err = c.failed(v, "remove port user", err)
		c.record(evt, err)
		return err
	}
	c.record(evt, nil)
	return c.apply(v, dispatch.RemovePortUser{PortID: portID, UserID: userID})
}

// Forward rules

func (c *Coordinator) FetchForwardRule(ctx context.Context, serverID, portID int) (model.ForwardRule, error) {
	ctx, v, done := c.scoped(ctx, serverID)
	defer done()
	rule, err := c.gw.GetForwardRule(ctx, serverID, portID)
	if err != nil {
		return model.ForwardRule{}, c.failed(v, "get forward rule", err)
	}
	if err := c.apply(v, dispatch.SetForwardRule{PortID: portID, Rule: &rule}); err != nil {
		return model.ForwardRule{}, err
	}
	return rule, nil
}

// checkEditable refuses edits to a stored rule that is still transitioning.
func (c *Coordinator) checkEditable(serverID, portID int, evtType string) error {
	rule := c.d.State().ForwardRule(portID)
	if lifecycle.CanEdit(rule) {
		return nil
	}
	c.record(events.Event{
		ServerID:   serverID,
		PortID:     portID,
		EventType:  events.RuleRefused,
		RuleStatus: rule.Status,
		Message:    fmt.Sprintf("%s refused at count %d", evtType, rule.Count),
	}, nil)
	return ErrRuleBusy
}

func (c *Coordinator) CreateForwardRule(ctx context.Context, serverID, portID int, in model.ForwardRuleInput) (model.ForwardRule, error) {
	return c.writeForwardRule(ctx, serverID, portID, in, true)
}

func (c *Coordinator) UpdateForwardRule(ctx context.Context, serverID, portID int, in model.ForwardRuleInput) (model.ForwardRule, error) {
	return c.writeForwardRule(ctx, serverID, portID, in, false)
}

func (c *Coordinator) writeForwardRule(ctx context.Context, serverID, portID int, in model.ForwardRuleInput, create bool) (model.ForwardRule, error) {
	evtType, op := events.RuleUpdated, "update forward rule"
	if create {
		evtType, op = events.RuleCreated, "create forward rule"
	}
	if err := c.checkEditable(serverID, portID, evtType); err != nil {
		return model.ForwardRule{}, err
	}
	evt := events.Event{ServerID: serverID, PortID: portID, EventType: evtType, Message: in.Method}
	if err := gateway.ValidateForwardRule(in); err != nil {
		c.record(evt, err)
		return model.ForwardRule{}, err
	}
	ctx, v, done := c.scoped(ctx, serverID)
	defer done()

	var (
		rule model.ForwardRule
		err  error
	)
	if create {
		rule, err = c.gw.CreateForwardRule(ctx, serverID, portID, in)
	} else {
		rule, err = c.gw.UpdateForwardRule(ctx, serverID, portID, in)
	}
	if err != nil {
		err = c.failed(v, op, err)
		c.record(evt, err)
		return model.ForwardRule{}, err
	}
	evt.RuleStatus = rule.Status
	evt.Message = lifecycle.Describe(&rule)
	c.record(evt, nil)
	if err := c.apply(v, dispatch.SetForwardRule{PortID: portID, Rule: &rule}); err != nil {
		return rule, err
	}
	return rule, nil
}

// DeleteForwardRule removes the rule when the policy allows it. A rule
// already gone server-side counts as deleted.
func (c *Coordinator) DeleteForwardRule(ctx context.Context, serverID, portID int) error {
	if err := c.checkEditable(serverID, portID, events.RuleDeleted); err != nil {
		return err
	}
	evt := events.Event{ServerID: serverID, PortID: portID, EventType: events.RuleDeleted}
	ctx, v, done := c.scoped(ctx, serverID)
	defer done()
	if err := c.gw.DeleteForwardRule(ctx, serverID, portID); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		err = c.failed(v, "delete forward rule", err)
		c.record(evt, err)
		return err
	}
	c.record(evt, nil)
	return c.apply(v, dispatch.SetForwardRule{PortID: portID})
}
