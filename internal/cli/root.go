// Package cli provides the command-line interface for port-console.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/treykane/port-console/internal/gateway"
	"github.com/treykane/port-console/internal/history"
	"github.com/treykane/port-console/internal/lifecycle"
	"github.com/treykane/port-console/internal/model"
	"github.com/treykane/port-console/internal/session"
	"github.com/treykane/port-console/internal/ui"
	"github.com/treykane/port-console/internal/util"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           util.AppName,
		Short:         "Operator console for port-forwarding servers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := session.Open(session.Options{LogToFile: true})
			if err != nil {
				return err
			}
			runErr := ui.Run(s)
			if err := s.Close(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}

	root.AddCommand(
		newServersCmd(),
		newServerCmd(),
		newPortCmd(),
		newRuleCmd(),
		newPresetCmd(),
		newUsersCmd(),
		newEventsCmd(),
		newDoctorCmd(),
		newCacheCmd(),
		newDevServerCmd(),
		newVersionCmd(),
	)
	return root
}

// withSession opens a CLI session, runs fn and persists the cache. Gateway
// failures are reduced to their operator-facing message.
func withSession(fn func(s *session.Session) error) error {
	s, err := session.Open(session.Options{})
	if err != nil {
		return err
	}
	runErr := fn(s)
	if runErr != nil {
		s.Logger.Debug("command failed", zap.String("error", gateway.DebugMessage(runErr)))
		runErr = userError(runErr)
	}
	if err := s.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func userError(err error) error {
	var f *gateway.Failure
	if errors.As(err, &f) {
		return errors.New(gateway.UserMessage(err, true))
	}
	return err
}

func parseID(arg, name string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", name, arg)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), util.AppName, Version)
		},
	}
}

func newServersCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(s *session.Session) error {
				servers, err := s.Coordinator.FetchServers(cmd.Context())
				if err != nil {
					return err
				}
				sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })
				if s.Config.UI.RecentFirst {
					if last, err := history.LastOpened(); err == nil {
						servers = history.SortServersRecent(servers, last)
					}
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), servers)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%-6s %-24s %s\n", "ID", "NAME", "ADDRESS")
				for _, srv := range servers {
					fmt.Fprintf(w, "%-6d %-24s %s\n", srv.ID, srv.Name, util.EmptyDash(srv.Address))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

// PortView is the CLI projection of one port.
type PortView struct {
	ID          int                 `json:"id"`
	Num         int                 `json:"num"`
	ExternalNum *int                `json:"external_num,omitempty"`
	DisplayNum  int                 `json:"display_num"`
	Rule        *model.ForwardRule  `json:"forward_rule,omitempty"`
	RuleLabel   string              `json:"rule_label"`
	RuleTarget  string              `json:"rule_target"`
	Category    string              `json:"category"`
	Editable    bool                `json:"editable"`
	Ingress     string              `json:"ingress"`
	Egress      string              `json:"egress"`
	Usage       *model.PortUsage    `json:"usage,omitempty"`
	Users       []model.PortUserRef `json:"allowed_users"`
}

func portView(p model.Port) PortView {
	return PortView{
		ID:          p.ID,
		Num:         p.Num,
		ExternalNum: p.ExternalNum,
		DisplayNum:  p.DisplayNum(),
		Rule:        p.ForwardRule,
		RuleLabel:   lifecycle.Label(p.ForwardRule),
		RuleTarget:  lifecycle.Describe(p.ForwardRule),
		Category:    lifecycle.Classify(p.ForwardRule).String(),
		Editable:    lifecycle.CanEdit(p.ForwardRule),
		Ingress:     util.FormatLimit(p.Config.IngressLimit),
		Egress:      util.FormatLimit(p.Config.EgressLimit),
		Usage:       p.Usage,
		Users:       p.AllowedUsers,
	}
}

func newServerCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "server <server-id>",
		Short: "Show a server with its ports, forward rules and users",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, err := parseID(args[0], "server id")
			if err != nil {
				return err
			}
			return withSession(func(s *session.Session) error {
				if err := s.Coordinator.OpenServer(cmd.Context(), serverID); err != nil {
					return err
				}
				if err := s.Coordinator.RefreshServer(cmd.Context(), serverID); err != nil {
					return err
				}
				if err := history.Touch(serverID); err != nil {
					s.Logger.Warn("failed to record history", zap.Error(err))
				}
				st := s.Dispatcher.State()
				srv, _ := st.Server(serverID)
				var views []PortView
				for _, p := range st.PortsForServer(serverID) {
					views = append(views, portView(p))
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), struct {
						Server model.Server `json:"server"`
						Ports  []PortView   `json:"ports"`
					}{srv, views})
				}
				printPorts(cmd.OutOrStdout(), srv, views)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func printPorts(w io.Writer, srv model.Server, views []PortView) {
	fmt.Fprintf(w, "%s (%s)\n", srv.Name, util.EmptyDash(srv.Address))
	fmt.Fprintf(w, "%-6s %-14s %-24s %-28s %-5s %-20s %-20s %s\n",
		"ID", "PORT", "RULE", "TARGET", "EDIT", "LIMIT IN/OUT", "USAGE UP/DOWN", "USERS")
	for _, v := range views {
		port := strconv.Itoa(v.Num)
		if v.DisplayNum != v.Num {
			port = fmt.Sprintf("%d(%d)", v.DisplayNum, v.Num)
		}
		label := util.EmptyDash(v.RuleLabel)
		if v.Rule != nil {
			label = lifecycle.Icon(v.Rule) + " " + label
		}
		edit := "no"
		if v.Editable {
			edit = "yes"
		}
		usage := "-"
		if v.Usage != nil {
			usage = util.EmptyDash(v.Usage.ReadableUpload) + "/" + util.EmptyDash(v.Usage.ReadableDownload)
		}
		fmt.Fprintf(w, "%-6d %-14s %-24s %-28s %-5s %-20s %-20s %d\n",
			v.ID, port, label, v.RuleTarget, edit, v.Ingress+"/"+v.Egress, usage, len(v.Users))
	}
}
