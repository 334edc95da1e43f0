package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treykane/port-console/internal/gateway"
	"github.com/treykane/port-console/internal/lifecycle"
	"github.com/treykane/port-console/internal/model"
	"github.com/treykane/port-console/internal/preset"
	"github.com/treykane/port-console/internal/session"
)

type portFlags struct {
	num      int
	external int
	ingress  int
	egress   int
}

func (f *portFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.num, "num", 0, "port number on the server")
	cmd.Flags().IntVar(&f.external, "external", 0, "externally visible port number (0 = same as --num)")
	cmd.Flags().IntVar(&f.ingress, "ingress", 0, "ingress limit in kb/s (0 = unlimited)")
	cmd.Flags().IntVar(&f.egress, "egress", 0, "egress limit in kb/s (0 = unlimited)")
}

func (f portFlags) input() model.PortInput {
	in := model.PortInput{Num: f.num}
	if f.external > 0 {
		in.ExternalNum = intPtr(f.external)
	}
	if f.ingress > 0 {
		in.Config.IngressLimit = intPtr(f.ingress)
	}
	if f.egress > 0 {
		in.Config.EgressLimit = intPtr(f.egress)
	}
	return in
}

func intPtr(v int) *int { return &v }

func newPortCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "port",
		Short: "Create, update or delete ports",
	}

	var create portFlags
	createCmd := &cobra.Command{
		Use:   "create <server-id>",
		Short: "Create a port on a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, err := parseID(args[0], "server id")
			if err != nil {
				return err
			}
			return withSession(func(s *session.Session) error {
				p, err := s.Coordinator.CreatePort(cmd.Context(), serverID, create.input())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created port %d (num %d) on server %d\n", p.ID, p.DisplayNum(), serverID)
				return nil
			})
		},
	}
	create.bind(createCmd)

	var update portFlags
	updateCmd := &cobra.Command{
		Use:   "update <server-id> <port-id>",
		Short: "Update a port",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, portID, err := parseServerPort(args)
			if err != nil {
				return err
			}
			return withSession(func(s *session.Session) error {
				p, err := s.Coordinator.UpdatePort(cmd.Context(), serverID, portID, update.input())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated port %d (num %d)\n", p.ID, p.DisplayNum())
				return nil
			})
		},
	}
	update.bind(updateCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete <server-id> <port-id>",
		Short: "Delete a port",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, portID, err := parseServerPort(args)
			if err != nil {
				return err
			}
			return withSession(func(s *session.Session) error {
				if err := s.Coordinator.DeletePort(cmd.Context(), serverID, portID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted port %d\n", portID)
				return nil
			})
		},
	}

	cmd.AddCommand(createCmd, updateCmd, deleteCmd)
	return cmd
}

func parseServerPort(args []string) (int, int, error) {
	serverID, err := parseID(args[0], "server id")
	if err != nil {
		return 0, 0, err
	}
	portID, err := parseID(args[1], "port id")
	if err != nil {
		return 0, 0, err
	}
	return serverID, portID, nil
}

func newRuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Show, set or delete the forward rule of a port",
	}

	var jsonOut bool
	showCmd := &cobra.Command{
		Use:   "show <server-id> <port-id>",
		Short: "Show the forward rule of a port",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, portID, err := parseServerPort(args)
			if err != nil {
				return err
			}
			return withSession(func(s *session.Session) error {
				if _, err := s.Coordinator.FetchPort(cmd.Context(), serverID, portID); err != nil {
					return err
				}
				rule, err := s.Coordinator.FetchForwardRule(cmd.Context(), serverID, portID)
				if err != nil {
					if errors.Is(err, gateway.ErrNotFound) {
						fmt.Fprintln(cmd.OutOrStdout(), lifecycle.Describe(nil))
						return nil
					}
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), rule)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%s %s\n", lifecycle.Icon(&rule), lifecycle.Label(&rule))
				fmt.Fprintf(w, "method:   %s\n", rule.Method)
				fmt.Fprintf(w, "target:   %s\n", lifecycle.Describe(&rule))
				fmt.Fprintf(w, "editable: %t\n", lifecycle.CanEdit(&rule))
				return nil
			})
		},
	}
	showCmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")

	var in model.ForwardRuleInput
	var presetName string
	setCmd := &cobra.Command{
		Use:   "set <server-id> <port-id>",
		Short: "Create or replace the forward rule of a port",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, portID, err := parseServerPort(args)
			if err != nil {
				return err
			}
			in := in
			if presetName != "" {
				in, err = fromPreset(cmd, presetName, in)
				if err != nil {
					return err
				}
			}
			return withSession(func(s *session.Session) error {
				p, err := s.Coordinator.FetchPort(cmd.Context(), serverID, portID)
				if err != nil {
					return err
				}
				var rule model.ForwardRule
				if p.ForwardRule == nil {
					rule, err = s.Coordinator.CreateForwardRule(cmd.Context(), serverID, portID, in)
				} else {
					rule, err = s.Coordinator.UpdateForwardRule(cmd.Context(), serverID, portID, in)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Forward rule for port %d: %s (%s)\n", portID, lifecycle.Describe(&rule), lifecycle.Label(&rule))
				return nil
			})
		},
	}
	setCmd.Flags().StringVar(&in.Method, "method", model.MethodIPTables, "forwarding method")
	setCmd.Flags().StringVar(&in.Config.Type, "type", "tcp", "iptables protocol: tcp, udp or all")
	setCmd.Flags().StringVar(&in.Config.RemoteAddress, "address", "", "remote address to forward to")
	setCmd.Flags().IntVar(&in.Config.RemotePort, "port", 0, "remote port to forward to")
	setCmd.Flags().StringVar(&presetName, "preset", "", "start from a saved preset; explicit flags override it")

	deleteCmd := &cobra.Command{
		Use:   "delete <server-id> <port-id>",
		Short: "Delete the forward rule of a port",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, portID, err := parseServerPort(args)
			if err != nil {
				return err
			}
			return withSession(func(s *session.Session) error {
				if _, err := s.Coordinator.FetchPort(cmd.Context(), serverID, portID); err != nil {
					return err
				}
				if err := s.Coordinator.DeleteForwardRule(cmd.Context(), serverID, portID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted forward rule for port %d\n", portID)
				return nil
			})
		},
	}

	cmd.AddCommand(showCmd, setCmd, deleteCmd)
	return cmd
}

func newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage the users allowed on a port",
	}

	listCmd := &cobra.Command{
		Use:   "list <server-id> <port-id>",
		Short: "List users allowed on a port",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, portID, err := parseServerPort(args)
			if err != nil {
				return err
			}
			return withSession(func(s *session.Session) error {
				if _, err := s.Coordinator.FetchPort(cmd.Context(), serverID, portID); err != nil {
					return err
				}
				users, err := s.Coordinator.FetchPortUsers(cmd.Context(), serverID, portID)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintln(w, lifecycle.UsersSummary(users))
				for _, u := range users {
					fmt.Fprintf(w, "%-6d %s\n", u.UserID, u.User.Email)
				}
				return nil
			})
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <server-id> <port-id> <user-id>",
		Short: "Allow a user on a port",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, portID, err := parseServerPort(args)
			if err != nil {
				return err
			}
			userID, err := parseID(args[2], "user id")
			if err != nil {
				return err
			}
			return withSession(func(s *session.Session) error {
				if _, err := s.Coordinator.FetchPort(cmd.Context(), serverID, portID); err != nil {
					return err
				}
				ref, err := s.Coordinator.AddPortUser(cmd.Context(), serverID, portID, model.PortUserInput{UserID: userID})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Allowed user %d (%s) on port %d\n", ref.UserID, ref.User.Email, portID)
				return nil
			})
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <server-id> <port-id> <user-id>",
		Short: "Remove a user from a port",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID, portID, err := parseServerPort(args)
			if err != nil {
				return err
			}
			userID, err := parseID(args[2], "user id")
			if err != nil {
				return err
			}
			return withSession(func(s *session.Session) error {
				if _, err := s.Coordinator.FetchPort(cmd.Context(), serverID, portID); err != nil {
					return err
				}
				if err := s.Coordinator.RemovePortUser(cmd.Context(), serverID, portID, userID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed user %d from port %d\n", userID, portID)
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, addCmd, removeCmd)
	return cmd
}

// fromPreset loads a saved rule and applies the flags the user set explicitly.
func fromPreset(cmd *cobra.Command, name string, flags model.ForwardRuleInput) (model.ForwardRuleInput, error) {
	p, err := preset.Get(name)
	if err != nil {
		return model.ForwardRuleInput{}, err
	}
	in := p.Rule
	f := cmd.Flags()
	if f.Changed("method") {
		in.Method = flags.Method
	}
	if f.Changed("type") {
		in.Config.Type = flags.Config.Type
	}
	if f.Changed("address") {
		in.Config.RemoteAddress = flags.Config.RemoteAddress
	}
	if f.Changed("port") {
		in.Config.RemotePort = flags.Config.RemotePort
	}
	return in, nil
}

func newPresetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preset",
		Short: "Manage saved forward-rule targets",
	}

	var jsonOut bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := preset.LoadAll()
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), all)
			}
			w := cmd.OutOrStdout()
			if len(all) == 0 {
				fmt.Fprintln(w, "No presets saved.")
				return nil
			}
			for _, p := range all {
				rule := model.ForwardRule{Method: p.Rule.Method, Config: p.Rule.Config}
				fmt.Fprintf(w, "%-16s %s\n", p.Name, lifecycle.Describe(&rule))
			}
			return nil
		},
	}
	listCmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")

	var in model.ForwardRuleInput
	saveCmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save or replace a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := preset.Save(args[0], in); err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved preset %s\n", args[0])
			return nil
		},
	}
	saveCmd.Flags().StringVar(&in.Method, "method", model.MethodIPTables, "forwarding method")
	saveCmd.Flags().StringVar(&in.Config.Type, "type", "tcp", "iptables protocol: tcp, udp or all")
	saveCmd.Flags().StringVar(&in.Config.RemoteAddress, "address", "", "remote address to forward to")
	saveCmd.Flags().IntVar(&in.Config.RemotePort, "port", 0, "remote port to forward to")

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := preset.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted preset %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, saveCmd, deleteCmd)
	return cmd
}
