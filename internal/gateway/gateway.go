// Package gateway is the narrow contract between the console and the remote
// port-forwarding API.
package gateway

import (
	"context"

	"github.com/treykane/port-console/internal/model"
)

// Gateway performs one authenticated API call per method. Implementations
// return a *Failure for every error so callers can branch on its Kind.
type Gateway interface {
	ListServers(ctx context.Context) ([]model.Server, error)
	GetServer(ctx context.Context, serverID int) (model.Server, error)

	ListPorts(ctx context.Context, serverID int) ([]model.Port, error)
	GetPort(ctx context.Context, serverID, portID int) (model.Port, error)
	CreatePort(ctx context.Context, serverID int, in model.PortInput) (model.Port, error)
	UpdatePort(ctx context.Context, serverID, portID int, in model.PortInput) (model.Port, error)
	DeletePort(ctx context.Context, serverID, portID int) error

	ListPortUsers(ctx context.Context, serverID, portID int) ([]model.PortUserRef, error)
	AddPortUser(ctx context.Context, serverID, portID int, in model.PortUserInput) (model.PortUserRef, error)
	RemovePortUser(ctx context.Context, serverID, portID, userID int) error

	GetForwardRule(ctx context.Context, serverID, portID int) (model.ForwardRule, error)
	CreateForwardRule(ctx context.Context, serverID, portID int, in model.ForwardRuleInput) (model.ForwardRule, error)
	UpdateForwardRule(ctx context.Context, serverID, portID int, in model.ForwardRuleInput) (model.ForwardRule, error)
	DeleteForwardRule(ctx context.Context, serverID, portID int) error
}
