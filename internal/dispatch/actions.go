// Package dispatch folds actions into the entity store.
package dispatch

import "github.com/treykane/port-console/internal/model"

type ActionType string

const (
	TypeAddServers       ActionType = "ADD_SERVERS"
	TypeAddServer        ActionType = "ADD_SERVER"
	TypeAddPorts         ActionType = "ADD_PORTS"
	TypeAddPort          ActionType = "ADD_PORT"
	TypeRemovePort       ActionType = "REMOVE_PORT"
	TypeClearServerPorts ActionType = "CLEAR_SERVER_PORTS"
	TypeAddPortUsers     ActionType = "ADD_PORT_USERS"
	TypeAddPortUser      ActionType = "ADD_PORT_USER"
	TypeRemovePortUser   ActionType = "REMOVE_PORT_USER"
	TypeSetForwardRule   ActionType = "SET_FORWARD_RULE"
)

// Action is one state transition request.
type Action interface {
	Type() ActionType
}

// PortScoped is implemented by actions that modify an existing port. They are
// dropped when the port is not in the store.
type PortScoped interface {
	Action
	TargetPort() int
}

type AddServers struct {
	Servers []model.Server
}

type AddServer struct {
	Server model.Server
}

type AddPorts struct {
	ServerID int
	Ports    []model.Port
}

type AddPort struct {
	Port model.Port
}

type RemovePort struct {
	PortID int
}

type ClearServerPorts struct{}

// AddPortUsers replaces the whole allowed_users list of a port.
type AddPortUsers struct {
	PortID int
	Users  []model.PortUserRef
}

// AddPortUser inserts or replaces one membership by user id.
type AddPortUser struct {
	PortID int
	User   model.PortUserRef
}

type RemovePortUser struct {
	PortID int
	UserID int
}

// SetForwardRule sets or, with a nil Rule, clears the rule of a port.
type SetForwardRule struct {
	PortID int
	Rule   *model.ForwardRule
}

func (AddServers) Type() ActionType       { return TypeAddServers }
func (AddServer) Type() ActionType        { return TypeAddServer }
func (AddPorts) Type() ActionType         { return TypeAddPorts }
func (AddPort) Type() ActionType          { return TypeAddPort }
func (RemovePort) Type() ActionType       { return TypeRemovePort }
func (ClearServerPorts) Type() ActionType { return TypeClearServerPorts }
func (AddPortUsers) Type() ActionType     { return TypeAddPortUsers }
func (AddPortUser) Type() ActionType      { return TypeAddPortUser }
func (RemovePortUser) Type() ActionType   { return TypeRemovePortUser }
func (SetForwardRule) Type() ActionType   { return TypeSetForwardRule }

func (a AddPortUsers) TargetPort() int   { return a.PortID }
func (a AddPortUser) TargetPort() int    { return a.PortID }
func (a RemovePortUser) TargetPort() int { return a.PortID }
func (a SetForwardRule) TargetPort() int { return a.PortID }
