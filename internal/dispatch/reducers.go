package dispatch

import (
	"github.com/treykane/port-console/internal/model"
	"github.com/treykane/port-console/internal/store"
)

// Reduce applies a to s. Each kind has its own reducer and ignores actions it
// does not recognize, so the result is deterministic and replay-safe.
func Reduce(s store.State, a Action) store.State {
	return store.State{
		Servers: ReduceServers(s.Servers, a),
		Ports:   ReducePorts(s.Ports, a),
	}
}

// ReduceServers folds server actions.
func ReduceServers(t store.Table[model.Server], a Action) store.Table[model.Server] {
	switch a := a.(type) {
	case AddServers:
		return t.UpsertMany(a.Servers)
	case AddServer:
		return t.UpsertOne(a.Server)
	}
	return t
}

// ReducePorts folds port actions. Sub-resource actions for a port that is not
// stored are dropped: parents are always fetched before their children.
func ReducePorts(t store.Table[model.Port], a Action) store.Table[model.Port] {
	switch a := a.(type) {
	case AddPorts:
		return t.UpsertMany(a.Ports)
	case AddPort:
		return t.UpsertOne(a.Port)
	case RemovePort:
		return t.RemoveOne(a.PortID)
	case ClearServerPorts:
		return t.Clear()
	case AddPortUsers:
		users := append([]model.PortUserRef(nil), a.Users...)
		next, _ := t.Update(a.PortID, func(p model.Port) model.Port {
			p.AllowedUsers = users
			return p
		})
		return next
	case AddPortUser:
		next, _ := t.Update(a.PortID, func(p model.Port) model.Port {
			p.AllowedUsers = upsertMember(p.AllowedUsers, a.User)
			return p
		})
		return next
	case RemovePortUser:
		next, _ := t.Update(a.PortID, func(p model.Port) model.Port {
			p.AllowedUsers = removeMember(p.AllowedUsers, a.UserID)
			return p
		})
		return next
	case SetForwardRule:
		var rule *model.ForwardRule
		if a.Rule != nil {
			r := *a.Rule
			rule = &r
		}
		next, _ := t.Update(a.PortID, func(p model.Port) model.Port {
			p.ForwardRule = rule
			return p
		})
		return next
	}
	return t
}

func upsertMember(list []model.PortUserRef, ref model.PortUserRef) []model.PortUserRef {
	out := make([]model.PortUserRef, 0, len(list)+1)
	replaced := false
	for _, u := range list {
		if u.UserID == ref.UserID {
			out = append(out, ref)
			replaced = true
			continue
		}
		out = append(out, u)
	}
	if !replaced {
		out = append(out, ref)
	}
	return out
}

func removeMember(list []model.PortUserRef, userID int) []model.PortUserRef {
	out := make([]model.PortUserRef, 0, len(list))
	for _, u := range list {
		if u.UserID != userID {
			out = append(out, u)
		}
	}
	return out
}
