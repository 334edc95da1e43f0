package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/treykane/port-console/internal/events"
	"github.com/treykane/port-console/internal/gateway"
	"github.com/treykane/port-console/internal/model"
)

// fakeGateway is an in-memory Gateway. Calls named in gates block until the
// gate is released or ctx is done; entered receives the op name first.
type fakeGateway struct {
	mu      sync.Mutex
	servers map[int]model.Server
	ports   map[int]model.Port
	users   map[int][]model.PortUserRef
	errs    map[string]error
	calls   map[string]int

	gates       map[string]chan struct{}
	ignoreCtx   bool
	entered     chan string
	nextPortNum int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		servers: map[int]model.Server{
			1: {ID: 1, Name: "edge-a", Address: "203.0.113.10"},
			2: {ID: 2, Name: "edge-b", Address: "203.0.113.20"},
		},
		ports: map[int]model.Port{
			10: {ID: 10, ServerID: 1, Num: 8080},
			11: {ID: 11, ServerID: 1, Num: 9000},
			20: {ID: 20, ServerID: 2, Num: 443},
		},
		users:       map[int][]model.PortUserRef{},
		errs:        map[string]error{},
		calls:       map[string]int{},
		gates:       map[string]chan struct{}{},
		entered:     make(chan string, 16),
		nextPortNum: 100,
	}
}

func (f *fakeGateway) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	gate := f.gates[op]
	err := f.errs[op]
	ignore := f.ignoreCtx
	f.mu.Unlock()

	if gate != nil {
		f.entered <- op
		if ignore {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return &gateway.Failure{Kind: gateway.KindTransport, Op: op, Message: "request failed", Err: ctx.Err()}
			}
		}
	}
	return err
}

func (f *fakeGateway) gate(op string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[op] = ch
	return ch
}

func (f *fakeGateway) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = err
}

func (f *fakeGateway) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func notFound(op string) error {
	return &gateway.Failure{Kind: gateway.KindNotFound, Op: op, Status: 404, Message: "not found"}
}

func (f *fakeGateway) ListServers(ctx context.Context) ([]model.Server, error) {
	if err := f.enter(ctx, "ListServers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Server
	for _, s := range f.servers {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeGateway) GetServer(ctx context.Context, serverID int) (model.Server, error) {
	if err := f.enter(ctx, "GetServer"); err != nil {
		return model.Server{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.servers[serverID]
	if !ok {
		return model.Server{}, notFound("get server")
	}
	return s, nil
}

func (f *fakeGateway) ListPorts(ctx context.Context, serverID int) ([]model.Port, error) {
	if err := f.enter(ctx, "ListPorts"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Port
	for _, p := range f.ports {
		if p.ServerID == serverID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeGateway) GetPort(ctx context.Context, serverID, portID int) (model.Port, error) {
	if err := f.enter(ctx, "GetPort"); err != nil {
		return model.Port{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.ports[portID]
	if !ok || p.ServerID != serverID {
		return model.Port{}, notFound("get port")
	}
	return p, nil
}

func (f *fakeGateway) CreatePort(ctx context.Context, serverID int, in model.PortInput) (model.Port, error) {
	if err := f.enter(ctx, "CreatePort"); err != nil {
		return model.Port{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := model.Port{ID: f.nextPortNum, ServerID: serverID, Num: in.Num, ExternalNum: in.ExternalNum, Config: in.Config}
	f.nextPortNum++
	f.ports[p.ID] = p
	return p, nil
}

func (f *fakeGateway) UpdatePort(ctx context.Context, serverID, portID int, in model.PortInput) (model.Port, error) {
	if err := f.enter(ctx, "UpdatePort"); err != nil {
		return model.Port{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.ports[portID]
	if !ok {
		return model.Port{}, notFound("update port")
	}
	p.Num, p.ExternalNum, p.Config = in.Num, in.ExternalNum, in.Config
	f.ports[portID] = p
	return p, nil
}

func (f *fakeGateway) DeletePort(ctx context.Context, serverID, portID int) error {
	if err := f.enter(ctx, "DeletePort"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ports[portID]; !ok {
		return notFound("delete port")
	}
	delete(f.ports, portID)
	return nil
}

func (f *fakeGateway) ListPortUsers(ctx context.Context, serverID, portID int) ([]model.PortUserRef, error) {
	if err := f.enter(ctx, "ListPortUsers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.PortUserRef{}, f.users[portID]...), nil
}

func (f *fakeGateway) AddPortUser(ctx context.Context, serverID, portID int, in model.PortUserInput) (model.PortUserRef, error) {
	if err := f.enter(ctx, "AddPortUser"); err != nil {
		return model.PortUserRef{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := model.PortUserRef{UserID: in.UserID, User: model.User{ID: in.UserID, Email: fmt.Sprintf("user%d@example.com", in.UserID)}}
	f.users[portID] = append(f.users[portID], ref)
	return ref, nil
}

func (f *fakeGateway) RemovePortUser(ctx context.Context, serverID, portID, userID int) error {
	return f.enter(ctx, "RemovePortUser")
}

func (f *fakeGateway) GetForwardRule(ctx context.Context, serverID, portID int) (model.ForwardRule, error) {
	if err := f.enter(ctx, "GetForwardRule"); err != nil {
		return model.ForwardRule{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.ports[portID]
	if !ok || p.ForwardRule == nil {
		return model.ForwardRule{}, notFound("get forward rule")
	}
	return *p.ForwardRule, nil
}

func (f *fakeGateway) CreateForwardRule(ctx context.Context, serverID, portID int, in model.ForwardRuleInput) (model.ForwardRule, error) {
	return f.setRule(ctx, "CreateForwardRule", portID, in)
}

func (f *fakeGateway) UpdateForwardRule(ctx context.Context, serverID, portID int, in model.ForwardRuleInput) (model.ForwardRule, error) {
	return f.setRule(ctx, "UpdateForwardRule", portID, in)
}

func (f *fakeGateway) setRule(ctx context.Context, op string, portID int, in model.ForwardRuleInput) (model.ForwardRule, error) {
	if err := f.enter(ctx, op); err != nil {
		return model.ForwardRule{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rule := model.ForwardRule{Method: in.Method, Config: in.Config, Status: model.RulePending}
	p := f.ports[portID]
	p.ForwardRule = &rule
	f.ports[portID] = p
	return rule, nil
}

func (f *fakeGateway) DeleteForwardRule(ctx context.Context, serverID, portID int) error {
	return f.enter(ctx, "DeleteForwardRule")
}

type memJournal struct {
	mu     sync.Mutex
	events []events.Event
}

func (j *memJournal) Append(evt events.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, evt)
	return nil
}

func (j *memJournal) types() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, e := range j.events {
		out = append(out, e.EventType)
	}
	return out
}
