// Package ui implements the interactive operator dashboard.
package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/treykane/port-console/internal/appconfig"
	"github.com/treykane/port-console/internal/coordinator"
	"github.com/treykane/port-console/internal/gateway"
	"github.com/treykane/port-console/internal/history"
	"github.com/treykane/port-console/internal/lifecycle"
	"github.com/treykane/port-console/internal/model"
	"github.com/treykane/port-console/internal/session"
	"github.com/treykane/port-console/internal/store"
	"github.com/treykane/port-console/internal/util"
)

// console is the part of the coordinator the dashboard drives.
type console interface {
	State() store.State
	ActiveServer() int
	FetchServers(ctx context.Context) ([]model.Server, error)
	OpenServer(ctx context.Context, serverID int) error
	RefreshServer(ctx context.Context, serverID int) error
	CloseServer()
	CreatePort(ctx context.Context, serverID int, in model.PortInput) (model.Port, error)
	DeletePort(ctx context.Context, serverID, portID int) error
	CreateForwardRule(ctx context.Context, serverID, portID int, in model.ForwardRuleInput) (model.ForwardRule, error)
	UpdateForwardRule(ctx context.Context, serverID, portID int, in model.ForwardRuleInput) (model.ForwardRule, error)
	DeleteForwardRule(ctx context.Context, serverID, portID int) error
}

type focusPane int

const (
	focusServers focusPane = iota
	focusPorts
)

type (
	tickMsg    time.Time
	statusMsg  string
	configMsg  appconfig.Config
	storeMsg   struct{}
	serversMsg struct {
		servers []model.Server
		err     error
	}
	viewMsg struct {
		serverID int
		opened   bool
		err      error
	}
	actionMsg struct {
		serverID int
		status   string
		err      error
	}
)

type dashboardModel struct {
	coord       console
	servers     []model.Server
	filtered    []model.Server
	sel         int
	portSel     int
	focus       focusPane
	filter      string
	filterMode  bool
	showHelp    bool
	status      string
	loading     bool
	refreshSecs int
	recentFirst bool
	form        *editForm
	width       int
	height      int
}

func newDashboard(coord console, cfg appconfig.Config) dashboardModel {
	m := dashboardModel{
		coord:       coord,
		refreshSecs: cfg.UI.RefreshSeconds,
		recentFirst: cfg.UI.RecentFirst,
		status:      "Loading servers...",
	}
	// Show whatever the cache restored until the first fetch lands.
	m.servers = coord.State().Servers.List()
	m.applyFilter()
	return m
}

func (m *dashboardModel) applyFilter() {
	all := append([]model.Server(nil), m.servers...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if m.recentFirst {
		if last, err := history.LastOpened(); err == nil {
			all = history.SortServersRecent(all, last)
		}
	}
	if f := strings.ToLower(strings.TrimSpace(m.filter)); f == "" {
		m.filtered = all
	} else {
		m.filtered = nil
		for _, s := range all {
			if strings.Contains(strings.ToLower(s.Name), f) || strings.Contains(strings.ToLower(s.Address), f) {
				m.filtered = append(m.filtered, s)
			}
		}
	}
	if m.sel >= len(m.filtered) {
		m.sel = len(m.filtered) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

// ports returns the open server's ports ordered by display number.
func (m dashboardModel) ports() []model.Port {
	active := m.coord.ActiveServer()
	if active == 0 {
		return nil
	}
	ports := m.coord.State().PortsForServer(active)
	sort.SliceStable(ports, func(i, j int) bool { return ports[i].DisplayNum() < ports[j].DisplayNum() })
	return ports
}

func (m dashboardModel) selectedPort() (model.Port, bool) {
	ports := m.ports()
	if m.portSel < 0 || m.portSel >= len(ports) {
		return model.Port{}, false
	}
	return ports[m.portSel], true
}

func tickCmd(seconds int) tea.Cmd {
	return tea.Tick(time.Duration(clampRefresh(seconds))*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m dashboardModel) loadServersCmd() tea.Cmd {
	coord := m.coord
	return func() tea.Msg {
		servers, err := coord.FetchServers(context.Background())
		return serversMsg{servers: servers, err: err}
	}
}

func (m dashboardModel) openServerCmd(serverID int) tea.Cmd {
	coord := m.coord
	return func() tea.Msg {
		err := coord.OpenServer(context.Background(), serverID)
		if err == nil {
			err = coord.RefreshServer(context.Background(), serverID)
		}
		return viewMsg{serverID: serverID, opened: true, err: err}
	}
}

func (m dashboardModel) refreshCmd(serverID int) tea.Cmd {
	coord := m.coord
	return func() tea.Msg {
		return viewMsg{serverID: serverID, err: coord.RefreshServer(context.Background(), serverID)}
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(m.loadServersCmd(), tickCmd(m.refreshSecs))
}

// ignorable reports errors caused by the operator navigating away.
func ignorable(err error) bool {
	return errors.Is(err, coordinator.ErrStaleResponse) || errors.Is(err, context.Canceled)
}

func failureStatus(prefix string, err error) string {
	status := prefix + ": " + gateway.UserMessage(err, true)
	if gateway.IsRetryable(err) {
		status += " (press r to retry)"
	}
	return status
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		cmds := []tea.Cmd{tickCmd(m.refreshSecs)}
		if active := m.coord.ActiveServer(); active != 0 && !m.loading && m.form == nil {
			m.loading = true
			cmds = append(cmds, m.refreshCmd(active))
		}
		return m, tea.Batch(cmds...)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case configMsg:
		m.refreshSecs = msg.UI.RefreshSeconds
		m.recentFirst = msg.UI.RecentFirst
		m.applyFilter()
		m.status = "Config reloaded"
		return m, nil
	case serversMsg:
		if msg.err != nil {
			m.status = failureStatus("Loading servers failed", msg.err)
			return m, nil
		}
		m.servers = m.coord.State().Servers.List()
		m.applyFilter()
		m.status = fmt.Sprintf("Loaded %d servers. Enter opens a server.", len(msg.servers))
		return m, nil
	case viewMsg:
		if msg.serverID != m.coord.ActiveServer() {
			return m, nil
		}
		m.loading = false
		if msg.err != nil {
			if !ignorable(msg.err) {
				m.status = failureStatus("Refresh failed", msg.err)
			}
			return m, nil
		}
		if n := len(m.ports()); m.portSel >= n {
			m.portSel = max(n-1, 0)
		}
		if msg.opened {
			m.status = "Server opened. Tab switches to ports, e edits a forward rule."
		}
		return m, nil
	case actionMsg:
		if msg.err != nil {
			if !ignorable(msg.err) {
				m.status = failureStatus("Failed", msg.err)
			}
			return m, nil
		}
		m.status = msg.status
		if msg.serverID != 0 && msg.serverID == m.coord.ActiveServer() {
			m.loading = true
			return m, m.refreshCmd(msg.serverID)
		}
		return m, nil
	case storeMsg:
		m.servers = m.coord.State().Servers.List()
		m.applyFilter()
		if n := len(m.ports()); m.portSel >= n {
			m.portSel = max(n-1, 0)
		}
		return m, nil
	case statusMsg:
		m.status = string(msg)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m dashboardModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.form != nil {
		if msg.String() == "esc" {
			m.form = nil
			m.status = "Cancelled"
			return m, nil
		}
		res, cmd := m.form.update(msg)
		if res == nil {
			return m, cmd
		}
		m.form = nil
		return m, m.submitCmd(*res)
	}

	if m.filterMode {
		switch msg.String() {
		case "enter", "esc":
			m.filterMode = false
		case "backspace":
			if len(m.filter) > 0 {
				m.filter = m.filter[:len(m.filter)-1]
			}
		default:
			if len(msg.String()) == 1 {
				m.filter += msg.String()
			}
		}
		m.applyFilter()
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.coord.CloseServer()
		return m, tea.Quit
	case "j", "down":
		if m.focus == focusPorts {
			if m.portSel < len(m.ports())-1 {
				m.portSel++
			}
		} else if m.sel < len(m.filtered)-1 {
			m.sel++
		}
	case "k", "up":
		if m.focus == focusPorts {
			if m.portSel > 0 {
				m.portSel--
			}
		} else if m.sel > 0 {
			m.sel--
		}
	case "tab":
		if m.coord.ActiveServer() != 0 {
			if m.focus == focusPorts {
				m.focus = focusServers
			} else {
				m.focus = focusPorts
			}
		}
	case "/":
		m.filterMode = true
		m.focus = focusServers
		m.status = "Filter mode: type and press Enter"
	case "?":
		m.showHelp = !m.showHelp
	case "r":
		m.status = "Refreshing..."
		if active := m.coord.ActiveServer(); active != 0 {
			m.loading = true
			return m, tea.Batch(m.loadServersCmd(), m.refreshCmd(active))
		}
		return m, m.loadServersCmd()
	case "enter":
		if len(m.filtered) == 0 || m.focus != focusServers {
			break
		}
		srv := m.filtered[m.sel]
		if err := history.Touch(srv.ID); err != nil {
			m.status = "history: " + err.Error()
		}
		// The port table is cleared synchronously by OpenServer; reset the cursor with it.
		m.portSel = 0
		m.focus = focusPorts
		m.loading = true
		m.status = "Opening " + srv.Name + "..."
		return m, m.openServerCmd(srv.ID)
	case "esc":
		if m.coord.ActiveServer() != 0 {
			m.coord.CloseServer()
			m.focus = focusServers
			m.portSel = 0
			m.status = "Server closed"
		}
	case "n":
		if active := m.coord.ActiveServer(); active != 0 {
			m.form = newPortForm(active)
			return m, m.form.fields[0].Cursor.BlinkCmd()
		}
		m.status = "Open a server before adding ports"
	case "e":
		p, ok := m.selectedPort()
		if !ok || m.focus != focusPorts {
			m.status = "Select a port to edit its forward rule"
			break
		}
		if !lifecycle.CanEdit(p.ForwardRule) {
			m.status = fmt.Sprintf("Port %d: %s. Wait for it to settle.", p.DisplayNum(), coordinator.ErrRuleBusy)
			break
		}
		m.form = newRuleForm(p.ServerID, p.ID, p.ForwardRule)
		return m, m.form.fields[0].Cursor.BlinkCmd()
	case "x":
		p, ok := m.selectedPort()
		if !ok || m.focus != focusPorts || p.ForwardRule == nil {
			m.status = "Select a port with a forward rule to delete it"
			break
		}
		if !lifecycle.CanEdit(p.ForwardRule) {
			m.status = fmt.Sprintf("Port %d: %s. Wait for it to settle.", p.DisplayNum(), coordinator.ErrRuleBusy)
			break
		}
		return m, m.deleteRuleCmd(p.ServerID, p.ID)
	case "D":
		p, ok := m.selectedPort()
		if !ok || m.focus != focusPorts {
			break
		}
		return m, m.deletePortCmd(p.ServerID, p.ID)
	}
	return m, nil
}

func (m dashboardModel) submitCmd(res formResult) tea.Cmd {
	coord := m.coord
	return func() tea.Msg {
		ctx := context.Background()
		if res.kind == formPort {
			p, err := coord.CreatePort(ctx, res.serverID, res.port)
			return actionMsg{serverID: res.serverID, err: err, status: fmt.Sprintf("Created port %d", p.DisplayNum())}
		}
		var (
			rule model.ForwardRule
			err  error
		)
		if res.create {
			rule, err = coord.CreateForwardRule(ctx, res.serverID, res.portID, res.rule)
		} else {
			rule, err = coord.UpdateForwardRule(ctx, res.serverID, res.portID, res.rule)
		}
		return actionMsg{serverID: res.serverID, err: err, status: "Forward rule saved: " + lifecycle.Describe(&rule)}
	}
}

func (m dashboardModel) deleteRuleCmd(serverID, portID int) tea.Cmd {
	coord := m.coord
	return func() tea.Msg {
		err := coord.DeleteForwardRule(context.Background(), serverID, portID)
		return actionMsg{serverID: serverID, err: err, status: "Forward rule deleted"}
	}
}

func (m dashboardModel) deletePortCmd(serverID, portID int) tea.Cmd {
	coord := m.coord
	return func() tea.Msg {
		err := coord.DeletePort(context.Background(), serverID, portID)
		return actionMsg{serverID: serverID, err: err, status: "Port deleted"}
	}
}

func (m dashboardModel) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("Port Console")
	ports := m.ports()
	subhead := fmt.Sprintf("servers=%d shown=%d ports=%d refresh=%ds", len(m.servers), len(m.filtered), len(ports), clampRefresh(m.refreshSecs))
	active := m.coord.ActiveServer()

	left := strings.Builder{}
	for i, s := range m.filtered {
		cursor := " "
		if i == m.sel && m.focus == focusServers {
			cursor = ">"
		}
		mark := " "
		if s.ID == active {
			mark = "*"
		}
		left.WriteString(fmt.Sprintf("%s[%s] %-20s %s\n", cursor, mark, s.Name, util.EmptyDash(s.Address)))
	}
	if len(m.filtered) == 0 {
		left.WriteString("  (no servers)\n")
	}

	right := strings.Builder{}
	if active == 0 {
		right.WriteString("Select a server and press Enter.\n")
	} else {
		right.WriteString(fmt.Sprintf("  %-12s %-22s %-22s %s\n", "PORT", "RULE", "TARGET", "USERS"))
		for i, p := range ports {
			cursor := " "
			if i == m.portSel && m.focus == focusPorts {
				cursor = ">"
			}
			right.WriteString(fmt.Sprintf("%s %-12s %-22s %-22s %d\n", cursor, portLabel(p), ruleBadge(p.ForwardRule), truncate(lifecycle.Describe(p.ForwardRule), 22), len(p.AllowedUsers)))
		}
		if len(ports) == 0 {
			if m.loading {
				right.WriteString("  (loading...)\n")
			} else {
				right.WriteString("  (no ports)\n")
			}
		}
	}

	filterLine := fmt.Sprintf("Filter: %s", m.filter)
	if m.filterMode {
		filterLine += " (typing...)"
	}
	quickHelp := "Keys: Enter open | Tab ports | e edit rule | x delete rule | n new port | r refresh | ? help | q quit"

	width := m.effectiveWidth()
	sections := []string{head, subhead, filterLine, quickHelp, m.renderMainPanels(left.String(), right.String())}
	if p, ok := m.selectedPort(); ok && m.focus == focusPorts {
		sections = append(sections, m.renderPanel("Port Details", portDetail(p), width, lipgloss.Color("63")))
	}
	if m.form != nil {
		sections = append(sections, m.form.view(m.renderPanel, width))
	}
	if m.showHelp {
		sections = append(sections, m.renderPanel("Help", m.helpBlock(), width, lipgloss.Color("244")))
	}
	sections = append(sections, m.renderPanel("Status", m.status, width, lipgloss.Color("205")))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func portLabel(p model.Port) string {
	if p.ExternalNum != nil && *p.ExternalNum != 0 && *p.ExternalNum != p.Num {
		return fmt.Sprintf("%d(%d)", p.DisplayNum(), p.Num)
	}
	return fmt.Sprintf("%d", p.Num)
}

var categoryColors = map[lifecycle.Category]lipgloss.Color{
	lifecycle.CategoryInProgress: lipgloss.Color("214"),
	lifecycle.CategorySuccess:    lipgloss.Color("42"),
	lifecycle.CategoryFailure:    lipgloss.Color("196"),
	lifecycle.CategoryNone:       lipgloss.Color("244"),
}

func ruleBadge(rule *model.ForwardRule) string {
	if rule == nil {
		return "-"
	}
	text := truncate(lifecycle.Icon(rule)+" "+lifecycle.Label(rule), 22)
	return lipgloss.NewStyle().Foreground(categoryColors[lifecycle.Classify(rule)]).Render(text)
}

func portDetail(p model.Port) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("Port: %s  (id %d)", portLabel(p), p.ID))
	lines = append(lines, fmt.Sprintf("Limits: in %s, out %s", util.FormatLimit(p.Config.IngressLimit), util.FormatLimit(p.Config.EgressLimit)))
	if p.Usage != nil {
		lines = append(lines, fmt.Sprintf("Usage: up %s, down %s", util.EmptyDash(p.Usage.ReadableUpload), util.EmptyDash(p.Usage.ReadableDownload)))
	}
	lines = append(lines, "Users: "+lifecycle.UsersSummary(p.AllowedUsers))
	rule := p.ForwardRule
	if rule == nil {
		lines = append(lines, "Rule: none. Press e to create one.")
		return strings.Join(lines, "\n")
	}
	lines = append(lines, fmt.Sprintf("Rule: %s %s  %s", lifecycle.Icon(rule), lifecycle.Label(rule), lifecycle.Describe(rule)))
	switch {
	case lifecycle.Stuck(rule):
		lines = append(lines, fmt.Sprintf("  No progress after %d checks; editing is unlocked.", rule.Count))
	case !lifecycle.CanEdit(rule):
		lines = append(lines, "  Applying; editing is locked until it settles.")
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Run starts the dashboard on the terminal. The view re-renders on every
// store change and UI settings reload when the config file changes.
func Run(s *session.Session) error {
	p := tea.NewProgram(newDashboard(s.Coordinator, s.Config), tea.WithAltScreen())

	changes, unsubscribe := s.Dispatcher.Subscribe()
	done := make(chan struct{})
	defer close(done)
	defer unsubscribe()
	go func() {
		for {
			select {
			case <-changes:
				p.Send(storeMsg{})
			case <-done:
				return
			}
		}
	}()

	mgr, err := appconfig.NewManager(s.Logger.Named("config"))
	if err != nil {
		s.Logger.Warn("config watch disabled", zap.Error(err))
	} else {
		mgr.Watch(func(cfg appconfig.Config) { p.Send(configMsg(cfg)) })
	}
	_, err = p.Run()
	return err
}

func clampRefresh(seconds int) int {
	if seconds <= 0 {
		return util.DefaultRefreshSeconds
	}
	return seconds
}

func (m dashboardModel) renderMainPanels(serversPanel, portsPanel string) string {
	width := m.effectiveWidth()
	if width < 96 {
		return lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderPanel("Servers", serversPanel, width, lipgloss.Color("39")),
			m.renderPanel("Ports", portsPanel, width, lipgloss.Color("69")),
		)
	}
	leftWidth := width * 2 / 5
	rightWidth := width - leftWidth
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderPanel("Servers", serversPanel, leftWidth, lipgloss.Color("39")),
		m.renderPanel("Ports", portsPanel, rightWidth, lipgloss.Color("69")),
	)
}

func (m dashboardModel) helpBlock() string {
	return strings.Join([]string{
		"  Navigation: j/k or arrow keys move selection; Tab switches between servers and ports.",
		"  Filtering: press /, type name or address text, then Enter.",
		"  Open: Enter on a server loads its ports, rules and users. Esc closes it.",
		"  Rules: e creates or edits the selected port's rule, x deletes it.",
		"  Rules that are starting or running are locked until they settle or stop progressing.",
		"  Ports: n adds a port to the open server, D deletes the selected port.",
		"  Refresh: r reloads now; the open server also refreshes on a timer.",
		"  Quit: press q (or Ctrl+C).",
	}, "\n")
}

func (m dashboardModel) effectiveWidth() int {
	if m.width <= 0 {
		return 100
	}
	return m.width
}

func (m dashboardModel) renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	content := strings.TrimSuffix(body, "\n")
	panel := strings.TrimSpace(header + "\n" + content)
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}
