package model

// PortInput is the payload for creating or updating a port.
type PortInput struct {
	Num         int        `json:"num" validate:"required,min=1,max=65535"`
	ExternalNum *int       `json:"external_num,omitempty" validate:"omitempty,min=1,max=65535"`
	Config      PortConfig `json:"config"`
}

// PortUserInput grants a user access to a port.
type PortUserInput struct {
	UserID int `json:"user_id" validate:"required,min=1"`
}

// ForwardRuleInput is the payload for creating or updating a forward rule.
type ForwardRuleInput struct {
	Method string            `json:"method" validate:"required"`
	Config ForwardRuleConfig `json:"config"`
}

// IsIPTables reports whether the input targets the iptables method.
func (in ForwardRuleInput) IsIPTables() bool { return in.Method == MethodIPTables }
