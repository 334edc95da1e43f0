package model

// Server is a forwarding host exposed by the API.
type Server struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (s Server) Key() int { return s.ID }

// PortConfig carries per-port rate limits in kb/s. Nil means unlimited.
type PortConfig struct {
	IngressLimit *int `json:"ingress_limit,omitempty"`
	EgressLimit  *int `json:"egress_limit,omitempty"`
}

// Limited reports whether any direction has a non-zero limit.
func (c PortConfig) Limited() bool {
	return (c.IngressLimit != nil && *c.IngressLimit > 0) || (c.EgressLimit != nil && *c.EgressLimit > 0)
}

// PortUsage is the traffic counter reported by the backend.
type PortUsage struct {
	UploadBytes      int64  `json:"upload_bytes"`
	DownloadBytes    int64  `json:"download_bytes"`
	ReadableUpload   string `json:"readable_upload"`
	ReadableDownload string `json:"readable_download"`
}

// User is the account behind a port membership.
type User struct {
	ID    int    `json:"id,omitempty"`
	Email string `json:"email"`
}

// PortUserRef is one entry of a port's allowed_users list.
type PortUserRef struct {
	UserID int  `json:"user_id"`
	User   User `json:"user"`
}

// Port is an exposed port on a server. ForwardRule is embedded and has no
// identity of its own.
type Port struct {
	ID           int           `json:"id"`
	ServerID     int           `json:"server_id"`
	Num          int           `json:"num"`
	ExternalNum  *int          `json:"external_num,omitempty"`
	Config       PortConfig    `json:"config"`
	Usage        *PortUsage    `json:"usage,omitempty"`
	AllowedUsers []PortUserRef `json:"allowed_users"`
	ForwardRule  *ForwardRule  `json:"forward_rule,omitempty"`
}

func (p Port) Key() int { return p.ID }

// DisplayNum returns the externally visible port number, falling back to Num.
// The fallback is a read-time projection and is never written back.
func (p Port) DisplayNum() int {
	if p.ExternalNum != nil && *p.ExternalNum != 0 {
		return *p.ExternalNum
	}
	return p.Num
}

// RuleStatus is the backend-reported lifecycle state of a forward rule.
type RuleStatus string

const (
	RulePending    RuleStatus = "pending"
	RuleStarting   RuleStatus = "starting"
	RuleRunning    RuleStatus = "running"
	RuleSuccessful RuleStatus = "successful"
	RuleFailed     RuleStatus = "failed"
)

// MethodIPTables is the only forwarding method whose config is interpreted.
const MethodIPTables = "iptables"

// ForwardRuleConfig is the iptables redirect target. Other methods leave it zero.
type ForwardRuleConfig struct {
	Type          string `json:"type,omitempty"`
	RemoteAddress string `json:"remote_address,omitempty"`
	RemotePort    int    `json:"remote_port,omitempty"`
}

// ForwardRule is the forwarding configuration and status attached to a Port.
type ForwardRule struct {
	Method string            `json:"method"`
	Config ForwardRuleConfig `json:"config"`
	Status RuleStatus        `json:"status"`
	Count  int               `json:"count"`
}
