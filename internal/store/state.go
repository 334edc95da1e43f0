package store

import "github.com/treykane/port-console/internal/model"

// State is one version of the entity store.
type State struct {
	Servers Table[model.Server] `json:"servers"`
	Ports   Table[model.Port]   `json:"ports"`
}

// Empty is the initial state.
func Empty() State {
	return State{}
}

// Server returns the server with id.
func (s State) Server(id int) (model.Server, bool) {
	return s.Servers.Get(id)
}

// Port returns the port with id.
func (s State) Port(id int) (model.Port, bool) {
	return s.Ports.Get(id)
}

// PortsForServer lists the stored ports that belong to serverID, ordered by id.
func (s State) PortsForServer(serverID int) []model.Port {
	var out []model.Port
	for _, p := range s.Ports.List() {
		if p.ServerID == serverID {
			out = append(out, p)
		}
	}
	return out
}

// ForwardRule returns the rule embedded in port id, or nil.
func (s State) ForwardRule(portID int) *model.ForwardRule {
	p, ok := s.Ports.Get(portID)
	if !ok {
		return nil
	}
	return p.ForwardRule
}
