package ui

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/treykane/port-console/internal/model"
	"github.com/treykane/port-console/internal/util"
)

// formKind distinguishes the forward-rule editor from the new-port form.
type formKind int

const (
	formRule formKind = iota
	formPort
)

// Field indices for the rule form.
const (
	ruleFieldType = iota
	ruleFieldAddress
	ruleFieldPort
	ruleFieldCount
)

// Field indices for the port form.
const (
	portFieldNum = iota
	portFieldExternal
	portFieldIngress
	portFieldEgress
	portFieldCount
)

// formResult is returned when the user submits the form.
type formResult struct {
	kind     formKind
	serverID int
	portID   int
	create   bool // rule form: the port has no rule yet
	rule     model.ForwardRuleInput
	port     model.PortInput
}

// editForm holds the state of an open form panel.
type editForm struct {
	kind     formKind
	serverID int
	portID   int
	create   bool

	labels   []string
	fields   []textinput.Model
	focusIdx int

	errMsg string
}

func newInputs(placeholders []string, limits []int, values []string) []textinput.Model {
	fields := make([]textinput.Model, len(placeholders))
	for i := range fields {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = limits[i]
		ti.Width = 40
		if i < len(values) {
			ti.SetValue(values[i])
		}
		fields[i] = ti
	}
	fields[0].Focus()
	return fields
}

// newRuleForm opens the iptables rule editor, prefilled from existing.
func newRuleForm(serverID, portID int, existing *model.ForwardRule) *editForm {
	values := []string{"tcp", "", ""}
	if existing != nil && existing.Method == model.MethodIPTables {
		values = []string{existing.Config.Type, existing.Config.RemoteAddress, ""}
		if existing.Config.RemotePort > 0 {
			values[ruleFieldPort] = strconv.Itoa(existing.Config.RemotePort)
		}
	}
	return &editForm{
		kind:     formRule,
		serverID: serverID,
		portID:   portID,
		create:   existing == nil,
		labels:   []string{"Type:", "Address:", "Port:"},
		fields: newInputs(
			[]string{"tcp, udp or all", "10.0.0.5 or 10.0.0.5:80 (required)", "80 (required)"},
			[]int{8, 256, 5},
			values,
		),
	}
}

// newPortForm opens the new-port form for serverID.
func newPortForm(serverID int) *editForm {
	return &editForm{
		kind:     formPort,
		serverID: serverID,
		labels:   []string{"Port:", "External:", "Ingress kb/s:", "Egress kb/s:"},
		fields: newInputs(
			[]string{"8080 (required)", "18080 (optional)", "unlimited", "unlimited"},
			[]int{5, 5, 10, 10},
			nil,
		),
	}
}

// update processes a key message and returns a formResult if the form is complete.
func (f *editForm) update(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	n := len(f.fields)
	switch msg.String() {
	case "tab", "shift+tab", "down", "up":
		f.fields[f.focusIdx].Blur()
		if msg.String() == "tab" || msg.String() == "down" {
			f.focusIdx = (f.focusIdx + 1) % n
		} else {
			f.focusIdx = (f.focusIdx - 1 + n) % n
		}
		f.fields[f.focusIdx].Focus()
		return nil, f.fields[f.focusIdx].Cursor.BlinkCmd()
	case "enter":
		res, err := f.build()
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return res, nil
	default:
		var cmd tea.Cmd
		f.fields[f.focusIdx], cmd = f.fields[f.focusIdx].Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *editForm) value(i int) string {
	return strings.TrimSpace(f.fields[i].Value())
}

func (f *editForm) build() (*formResult, error) {
	res := &formResult{kind: f.kind, serverID: f.serverID, portID: f.portID, create: f.create}
	if f.kind == formPort {
		in, err := f.buildPort()
		if err != nil {
			return nil, err
		}
		res.port = in
		return res, nil
	}
	in, err := f.buildRule()
	if err != nil {
		return nil, err
	}
	res.rule = in
	return res, nil
}

func (f *editForm) buildRule() (model.ForwardRuleInput, error) {
	in := model.ForwardRuleInput{Method: model.MethodIPTables}
	in.Config.Type = strings.ToLower(f.value(ruleFieldType))
	if in.Config.Type == "" {
		in.Config.Type = "tcp"
	}

	address := f.value(ruleFieldAddress)
	portStr := f.value(ruleFieldPort)
	if portStr == "" {
		host, port, err := parseTarget(address)
		if err != nil {
			return model.ForwardRuleInput{}, err
		}
		in.Config.RemoteAddress = host
		in.Config.RemotePort = port
		return in, nil
	}
	if address == "" {
		return model.ForwardRuleInput{}, fmt.Errorf("address is required")
	}
	port, err := util.ParsePort(portStr)
	if err != nil {
		return model.ForwardRuleInput{}, err
	}
	in.Config.RemoteAddress = address
	in.Config.RemotePort = port
	return in, nil
}

func (f *editForm) buildPort() (model.PortInput, error) {
	num, err := util.ParsePort(f.value(portFieldNum))
	if err != nil {
		return model.PortInput{}, err
	}
	in := model.PortInput{Num: num}
	if in.ExternalNum, err = optionalInt(f.value(portFieldExternal), "external port"); err != nil {
		return model.PortInput{}, err
	}
	if in.Config.IngressLimit, err = optionalInt(f.value(portFieldIngress), "ingress limit"); err != nil {
		return model.PortInput{}, err
	}
	if in.Config.EgressLimit, err = optionalInt(f.value(portFieldEgress), "egress limit"); err != nil {
		return model.PortInput{}, err
	}
	return in, nil
}

func optionalInt(s, name string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("%s must be a non-negative number", name)
	}
	if v == 0 {
		return nil, nil
	}
	return &v, nil
}

// view renders the form panel.
func (f *editForm) view(renderPanel func(string, string, int, lipgloss.Color) string, width int) string {
	accent := lipgloss.Color("214")
	title := fmt.Sprintf("New Port on server %d", f.serverID)
	if f.kind == formRule {
		title = fmt.Sprintf("Edit Forward Rule of port %d", f.portID)
		if f.create {
			title = fmt.Sprintf("New Forward Rule on port %d", f.portID)
		}
	}

	var b strings.Builder
	for i, label := range f.labels {
		cursor := "  "
		if i == f.focusIdx {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s%-14s %s\n", cursor, label, f.fields[i].View()))
	}
	if f.kind == formRule {
		b.WriteString("\nAddress accepts host:port when Port is left empty.\n")
	}
	if f.errMsg != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		b.WriteString("\n" + errStyle.Render("Error: "+f.errMsg) + "\n")
	}
	b.WriteString("\nTab/Shift-Tab navigate | Enter submit | Esc cancel")
	return renderPanel(title, b.String(), width, accent)
}

// parseTarget splits a host:port forwarding target. IPv6 hosts must be
// bracketed: [2001:db8::1]:80.
func parseTarget(input string) (string, int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", 0, fmt.Errorf("address cannot be empty")
	}
	host, portStr, err := net.SplitHostPort(input)
	if err != nil {
		return "", 0, fmt.Errorf("address needs a port: use host:port or fill in Port")
	}
	port, err := util.ParsePort(portStr)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, fmt.Errorf("host cannot be empty")
	}
	return host, port, nil
}
