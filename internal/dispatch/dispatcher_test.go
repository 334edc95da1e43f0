package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/treykane/port-console/internal/model"
	"github.com/treykane/port-console/internal/store"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	return New(store.Empty(), zaptest.NewLogger(t))
}

func TestAddServerOverridesListedServer(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch(AddServers{Servers: []model.Server{{ID: 1, Name: "A"}}})
	s := d.Dispatch(AddServer{Server: model.Server{ID: 1, Name: "B"}})

	require.Equal(t, 1, s.Servers.Len())
	srv, ok := s.Server(1)
	require.True(t, ok)
	assert.Equal(t, "B", srv.Name)
}

func TestAddServersKeepsOtherServers(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch(AddServer{Server: model.Server{ID: 5, Name: "kept"}})
	s := d.Dispatch(AddServers{Servers: []model.Server{{ID: 1, Name: "A"}}})
	assert.Equal(t, 2, s.Servers.Len())
}

func TestClearServerPortsRemovesEverything(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch(AddPorts{ServerID: 1, Ports: []model.Port{{ID: 10, ServerID: 1, Num: 8080}}})
	s := d.Dispatch(ClearServerPorts{})

	_, ok := s.Port(10)
	assert.False(t, ok)
	assert.Zero(t, s.Ports.Len())
}

func TestSetForwardRuleForUnknownPortIsDropped(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch(AddPorts{ServerID: 1, Ports: []model.Port{{ID: 10, ServerID: 1, Num: 8080}}})
	before := d.State()
	v := d.Version()

	after := d.Dispatch(SetForwardRule{PortID: 99, Rule: &model.ForwardRule{Method: "iptables", Status: model.RulePending}})

	assert.Equal(t, before.Ports.List(), after.Ports.List())
	assert.Equal(t, v, d.Version(), "dropped action must not bump the version")
}

func TestAddPortsIsIdempotent(t *testing.T) {
	action := AddPorts{ServerID: 1, Ports: []model.Port{
		{ID: 10, ServerID: 1, Num: 8080},
		{ID: 11, ServerID: 1, Num: 8081},
	}}
	once := Reduce(store.Empty(), action)
	twice := Reduce(Reduce(store.Empty(), action), action)
	assert.Equal(t, once.Ports.List(), twice.Ports.List())
}

func TestPortUsersReplaceAndMembership(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch(AddPort{Port: model.Port{ID: 10, ServerID: 1, Num: 8080, AllowedUsers: []model.PortUserRef{{UserID: 1}}}})

	s := d.Dispatch(AddPortUsers{PortID: 10, Users: []model.PortUserRef{
		{UserID: 2, User: model.User{Email: "b@example.com"}},
		{UserID: 3, User: model.User{Email: "c@example.com"}},
	}})
	p, _ := s.Port(10)
	require.Len(t, p.AllowedUsers, 2)
	assert.Equal(t, 2, p.AllowedUsers[0].UserID)

	s = d.Dispatch(AddPortUser{PortID: 10, User: model.PortUserRef{UserID: 3, User: model.User{Email: "c2@example.com"}}})
	p, _ = s.Port(10)
	require.Len(t, p.AllowedUsers, 2)
	assert.Equal(t, "c2@example.com", p.AllowedUsers[1].User.Email)

	s = d.Dispatch(AddPortUser{PortID: 10, User: model.PortUserRef{UserID: 4}})
	p, _ = s.Port(10)
	assert.Len(t, p.AllowedUsers, 3)

	s = d.Dispatch(RemovePortUser{PortID: 10, UserID: 2})
	p, _ = s.Port(10)
	require.Len(t, p.AllowedUsers, 2)
	assert.Equal(t, 3, p.AllowedUsers[0].UserID)
}

func TestSetForwardRuleCopiesRule(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch(AddPort{Port: model.Port{ID: 10, ServerID: 1, Num: 8080}})

	rule := &model.ForwardRule{Method: "iptables", Status: model.RuleStarting, Count: 1}
	d.Dispatch(SetForwardRule{PortID: 10, Rule: rule})
	rule.Count = 50

	got := d.State().ForwardRule(10)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Count)

	d.Dispatch(SetForwardRule{PortID: 10, Rule: nil})
	assert.Nil(t, d.State().ForwardRule(10))
}

func TestRemovePortAbsentIsNoop(t *testing.T) {
	d := newTestDispatcher(t)
	d.Dispatch(AddPort{Port: model.Port{ID: 1, Num: 22}})
	s := d.Dispatch(RemovePort{PortID: 2})
	assert.Equal(t, 1, s.Ports.Len())
}

func TestReducersIgnoreForeignActions(t *testing.T) {
	servers := store.NewTable(model.Server{ID: 1})
	assert.Equal(t, servers, ReduceServers(servers, ClearServerPorts{}))

	ports := store.NewTable(model.Port{ID: 1})
	assert.Equal(t, ports, ReducePorts(ports, AddServer{Server: model.Server{ID: 2}}))
}

// The store keeps whichever ADD_PORT was applied last, independent of the
// order in which the underlying requests were issued.
func TestOutOfOrderCompletionsFollowDispatchOrder(t *testing.T) {
	d := newTestDispatcher(t)
	issuedFirst := model.Port{ID: 10, ServerID: 1, Num: 8080, Usage: &model.PortUsage{UploadBytes: 1}}
	issuedSecond := model.Port{ID: 10, ServerID: 1, Num: 8080, Usage: &model.PortUsage{UploadBytes: 2}}

	// second request completes first
	d.Dispatch(AddPort{Port: issuedSecond})
	d.Dispatch(AddPort{Port: issuedFirst})

	p, ok := d.State().Port(10)
	require.True(t, ok)
	assert.Equal(t, int64(1), p.Usage.UploadBytes)
}

func TestConcurrentDispatchesAreSerialized(t *testing.T) {
	d := newTestDispatcher(t)
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.Dispatch(AddPort{Port: model.Port{ID: id, ServerID: 1, Num: 1000 + id}})
			_ = d.State().Ports.Len()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, d.State().Ports.Len())
	assert.Equal(t, uint64(50), d.Version())
}

func TestSubscribeNotifiesAndUnsubscribes(t *testing.T) {
	d := newTestDispatcher(t)
	ch, cancel := d.Subscribe()

	d.Dispatch(AddServer{Server: model.Server{ID: 1}})
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}

	cancel()
	d.Dispatch(AddServer{Server: model.Server{ID: 2}})
	select {
	case <-ch:
		t.Fatal("unexpected notification after cancel")
	default:
	}
}
