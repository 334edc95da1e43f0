// Package lifecycle decides what an operator may do with a forward rule and
// how its status is presented. All functions are total over every rule value,
// including nil.
package lifecycle

import (
	"fmt"
	"strings"

	"github.com/treykane/port-console/internal/model"
)

// StuckThreshold is the number of status pings after which a rule that is
// still starting or running is assumed stuck and editing is unlocked again.
const StuckThreshold = 10

// Category is the display bucket of a rule.
type Category int

const (
	CategoryNone Category = iota
	CategoryInProgress
	CategorySuccess
	CategoryFailure
)

func (c Category) String() string {
	switch c {
	case CategoryInProgress:
		return "in-progress"
	case CategorySuccess:
		return "success"
	case CategoryFailure:
		return "failure"
	default:
		return "none"
	}
}

// Transitioning reports whether the backend is actively applying the rule.
func Transitioning(rule *model.ForwardRule) bool {
	if rule == nil {
		return false
	}
	return rule.Status == model.RuleStarting || rule.Status == model.RuleRunning
}

// Stuck reports whether a transitioning rule has exceeded StuckThreshold pings.
func Stuck(rule *model.ForwardRule) bool {
	return Transitioning(rule) && rule.Count > StuckThreshold
}

// CanEdit reports whether the rule may be created, edited or deleted now.
// Edits are blocked only while the backend is transitioning the rule and it
// has not yet been pinged often enough to be considered stuck.
func CanEdit(rule *model.ForwardRule) bool {
	if !Transitioning(rule) {
		return true
	}
	return rule.Count > StuckThreshold
}

// Classify maps a rule status to its display category.
func Classify(rule *model.ForwardRule) Category {
	if rule == nil {
		return CategoryNone
	}
	switch rule.Status {
	case model.RulePending, model.RuleStarting, model.RuleRunning:
		return CategoryInProgress
	case model.RuleSuccessful:
		return CategorySuccess
	case model.RuleFailed:
		return CategoryFailure
	default:
		return CategoryNone
	}
}

// Label is the short badge text for a rule.
func Label(rule *model.ForwardRule) string {
	if rule == nil {
		return ""
	}
	switch rule.Status {
	case model.RulePending:
		return "pending"
	case model.RuleStarting, model.RuleRunning:
		if Stuck(rule) {
			return "forwarding (stalled)"
		}
		return "forwarding"
	case model.RuleSuccessful:
		return "forward succeeded"
	case model.RuleFailed:
		return "forward failed"
	default:
		return string(rule.Status)
	}
}

// Icon is a one-rune glyph for table cells.
func Icon(rule *model.ForwardRule) string {
	switch Classify(rule) {
	case CategoryInProgress:
		return "~"
	case CategorySuccess:
		return "✓"
	case CategoryFailure:
		return "!"
	default:
		return "o"
	}
}

// Describe renders the rule target.
func Describe(rule *model.ForwardRule) string {
	if rule == nil {
		return "no forward rule"
	}
	if rule.Method == model.MethodIPTables {
		return fmt.Sprintf("[%s] %s:%d", rule.Config.Type, rule.Config.RemoteAddress, rule.Config.RemotePort)
	}
	return rule.Method
}

// UsersSummary renders the allowed_users list of a port.
func UsersSummary(users []model.PortUserRef) string {
	if len(users) == 0 {
		return "no users on this port"
	}
	emails := make([]string, 0, len(users))
	for _, u := range users {
		emails = append(emails, u.User.Email)
	}
	noun := "users"
	if len(users) == 1 {
		noun = "user"
	}
	return fmt.Sprintf("%d %s on this port: %s", len(users), noun, strings.Join(emails, ", "))
}
