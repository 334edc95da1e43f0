package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/treykane/port-console/internal/appconfig"
	"github.com/treykane/port-console/internal/devserver"
	"github.com/treykane/port-console/internal/doctor"
	"github.com/treykane/port-console/internal/events"
	"github.com/treykane/port-console/internal/gateway"
	"github.com/treykane/port-console/internal/logging"
	"github.com/treykane/port-console/internal/session"
)

func newEventsCmd() *cobra.Command {
	var serverID, portID, limit int
	var eventType, since string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the local mutation journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := events.Query{ServerID: serverID, PortID: portID, EventType: eventType, Limit: limit}
			if since != "" {
				d, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
				q.Since = time.Now().Add(-d)
			}
			list, err := events.NewStore().Read(q)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			w := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(w, "No events recorded.")
				return nil
			}
			for _, evt := range list {
				line := fmt.Sprintf("%s %-14s server=%d port=%d %s",
					evt.Timestamp.Format(time.RFC3339), evt.EventType, evt.ServerID, evt.PortID, evt.Message)
				if evt.RuleStatus != "" {
					line += " status=" + string(evt.RuleStatus)
				}
				if evt.Error != "" {
					line += " error=" + evt.Error
				}
				fmt.Fprintln(w, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&serverID, "server", 0, "filter by server id")
	cmd.Flags().IntVar(&portID, "port", 0, "filter by port id")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().StringVar(&since, "since", "", "only events newer than this duration, e.g. 1h")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events (most recent)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newDoctorCmd() *cobra.Command {
	var jsonOut, offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, cache and API connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			var gw gateway.Gateway
			if !offline {
				if h, err := gateway.NewHTTP(gateway.Options{
					BaseURL: cfg.API.URL,
					Token:   cfg.API.Token,
					Timeout: cfg.Timeout(),
				}); err == nil {
					gw = h
				}
			}
			report, err := doctor.Run(cmd.Context(), cfg, gw)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			w := cmd.OutOrStdout()
			if len(report.Issues) == 0 {
				fmt.Fprintln(w, "No issues found.")
				return nil
			}
			for _, issue := range report.Issues {
				fmt.Fprintf(w, "[%s] %s %s: %s\n", issue.Severity, issue.Check, issue.Target, issue.Message)
				if issue.Recommendation != "" {
					fmt.Fprintf(w, "  fix: %s\n", issue.Recommendation)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the API probe")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local state cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the cached snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.ClearCache(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
			return nil
		},
	})
	return cmd
}

func newDevServerCmd() *cobra.Command {
	var addr, token, seedPath, level string
	var settle int
	var stuck bool
	cmd := &cobra.Command{
		Use:   "dev-server",
		Short: "Run an in-memory API server for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(level)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			seed := devserver.DefaultSeed()
			if seedPath != "" {
				seed, err = devserver.LoadSeed(seedPath)
				if err != nil {
					return err
				}
			}
			srv := devserver.New(devserver.Options{
				Token:       token,
				SettleAfter: settle,
				Stuck:       stuck,
				Seed:        seed,
				Logger:      logger,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(addr) }()
			logger.Info("dev server listening",
				zap.String("url", "http://"+addr+devserver.APIPrefix),
				zap.Int("servers", len(seed.Servers)),
				zap.Bool("stuck", stuck))

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Echo().Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8000", "listen address")
	cmd.Flags().StringVar(&token, "token", "", "bearer token required by the API (empty disables auth)")
	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML seed file (default: built-in sample data)")
	cmd.Flags().IntVar(&settle, "settle", devserver.DefaultSettleAfter, "reads before a forward rule settles")
	cmd.Flags().BoolVar(&stuck, "stuck", false, "never let forward rules settle")
	cmd.Flags().StringVar(&level, "log-level", "info", "log level")
	return cmd
}
