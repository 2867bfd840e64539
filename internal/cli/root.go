// Package cli provides the command-line interface for pgtunnel.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pgtunnel/internal/appconfig"
	"pgtunnel/internal/doctor"
	"pgtunnel/internal/events"
	"pgtunnel/internal/rules"
	"pgtunnel/internal/security"
	"pgtunnel/internal/tunnel"
	"pgtunnel/internal/ui"
	"pgtunnel/internal/util"
)

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:   "pgtunnel",
		Short: "SSH tunnel manager for database connections",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ui.Run()
		},
	}
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	root.AddCommand(newUpCmd())
	root.AddCommand(newResolveCmd())
	root.AddCommand(newRulesCmd())
	root.AddCommand(newEventsCmd())
	root.AddCommand(newDoctorCmd())
	return root
}

func newManager(explicit string) (*tunnel.Manager, appconfig.Config, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return nil, appconfig.Config{}, err
	}
	matcher, err := rules.NewMatcher(cfg.AliasTunnels, cfg.HostTunnels)
	if err != nil {
		return nil, appconfig.Config{}, err
	}
	mgr := tunnel.NewManager(&cfg, matcher, explicit)
	mgr.SetJournal(events.NewStore())
	return mgr, cfg, nil
}

// resolveTarget turns command arguments into a database host, port, and
// alias. A positional argument names a configured database target; the
// --host/--port flags address an arbitrary database directly.
func resolveTarget(cfg appconfig.Config, args []string, host string, port int, alias string) (string, int, string, error) {
	if len(args) == 1 {
		db, ok := cfg.FindDatabase(args[0])
		if !ok {
			return "", 0, "", fmt.Errorf("no configured database named %q", args[0])
		}
		return db.Host, db.Port, db.Name, nil
	}
	if host == "" {
		return "", 0, "", fmt.Errorf("either a database name or --host is required")
	}
	return host, port, alias, nil
}

func newUpCmd() *cobra.Command {
	var (
		host    string
		port    int
		alias   string
		spec    string
		redact  bool
		jsonOut bool
	)
	up := &cobra.Command{
		Use:   "up [database]",
		Short: "Establish a tunnel and keep it open until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := newManager(spec)
			if err != nil {
				return err
			}
			dbHost, dbPort, dbAlias, err := resolveTarget(cfg, args, host, port, alias)
			if err != nil {
				return err
			}

			localHost, localPort, err := mgr.Start(dbHost, dbPort, dbAlias)
			if err != nil {
				return fmt.Errorf("%s", security.UserMessage(err, redact))
			}
			defer mgr.Stop()

			if !mgr.Active() {
				fmt.Printf("no tunnel rule matches %s; connect directly to %s\n",
					dbHost, net.JoinHostPort(dbHost, fmt.Sprint(dbPort)))
				return nil
			}

			st := mgr.Status()
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(st); err != nil {
					return err
				}
			} else {
				fmt.Printf("tunnel active: %s -> %s via %s\n",
					net.JoinHostPort(localHost, fmt.Sprint(localPort)),
					net.JoinHostPort(dbHost, fmt.Sprint(dbPort)), st.Bastion)
				fmt.Println("press Ctrl-C to stop")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	up.Flags().StringVar(&host, "host", "", "database host to reach through the tunnel")
	up.Flags().IntVar(&port, "port", 5432, "database port")
	up.Flags().StringVar(&alias, "alias", "", "database alias tested against alias rules")
	up.Flags().StringVar(&spec, "tunnel", "", "explicit tunnel specification, overrides configured rules")
	up.Flags().BoolVar(&redact, "redact", true, "redact sensitive paths in error output")
	up.Flags().BoolVar(&jsonOut, "json", false, "output status as JSON")
	return up
}

func newResolveCmd() *cobra.Command {
	var (
		alias string
		spec  string
	)
	resolve := &cobra.Command{
		Use:   "resolve <host>",
		Short: "Show which tunnel rule applies and the resolved connection parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := newManager(spec)
			if err != nil {
				return err
			}
			raw, ok := mgr.FindTunnelSpec(args[0], alias)
			if !ok {
				fmt.Printf("no tunnel rule matches host %q", args[0])
				if alias != "" {
					fmt.Printf(" or alias %q", alias)
				}
				fmt.Println("; connections go direct")
				return nil
			}
			parsed, err := tunnel.ParseSpec(raw)
			if err != nil {
				return err
			}
			params, err := tunnel.Resolve(parsed, cfg)
			if err != nil {
				return err
			}
			fmt.Printf("tunnel specification: %s\n", raw)
			fmt.Printf("bastion:              %s\n", params.Addr())
			fmt.Printf("user:                 %s\n", params.User)
			if params.ProxyCommand != "" {
				fmt.Printf("proxy command:        %s\n", params.ProxyCommand)
			}
			for _, id := range params.IdentityFiles {
				fmt.Printf("identity file:        %s\n", id)
			}
			fmt.Printf("host key policy:      %s\n", params.HostKeyPolicy)
			return nil
		},
	}
	resolve.Flags().StringVar(&alias, "alias", "", "database alias tested against alias rules")
	resolve.Flags().StringVar(&spec, "tunnel", "", "explicit tunnel specification, overrides configured rules")
	return resolve
}

func newRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List configured tunnel rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			fmt.Printf("%-8s %-36s %s\n", "SET", "PATTERN", "TUNNEL")
			for _, r := range cfg.AliasTunnels {
				fmt.Printf("%-8s %-36s %s\n", "alias", r.Pattern, security.RedactMessage(r.Tunnel))
			}
			for _, r := range cfg.HostTunnels {
				fmt.Printf("%-8s %-36s %s\n", "host", r.Pattern, security.RedactMessage(r.Tunnel))
			}
			if len(cfg.AliasTunnels)+len(cfg.HostTunnels) == 0 {
				fmt.Println("(no rules configured; all connections go direct)")
			}
			return nil
		},
	}
}

func newEventsCmd() *cobra.Command {
	var (
		eventType string
		bastion   string
		sinceArg  string
		limit     int
		jsonOut   bool
	)
	evts := &cobra.Command{
		Use:   "events",
		Short: "Show the tunnel lifecycle journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := events.Query{EventType: eventType, Bastion: bastion, Limit: limit}
			if sinceArg != "" {
				d, err := time.ParseDuration(sinceArg)
				if err != nil {
					return fmt.Errorf("invalid --since duration: %w", err)
				}
				q.Since = time.Now().Add(-d)
			}
			out, err := events.NewStore().Read(q)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Printf("%-25s %-18s %-28s %-28s %s\n", "TIMESTAMP", "EVENT", "BASTION", "REMOTE", "MESSAGE")
			for _, e := range out {
				remote := ""
				if e.RemoteHost != "" {
					remote = net.JoinHostPort(e.RemoteHost, fmt.Sprint(e.RemotePort))
				}
				fmt.Printf("%-25s %-18s %-28s %-28s %s\n",
					e.Timestamp.Format(time.RFC3339), e.EventType,
					util.EmptyDash(e.Bastion), util.EmptyDash(remote), e.Message)
			}
			return nil
		},
	}
	evts.Flags().StringVar(&eventType, "type", "", "filter by event type")
	evts.Flags().StringVar(&bastion, "bastion", "", "filter by bastion host")
	evts.Flags().StringVar(&sinceArg, "since", "", "only events newer than this duration (e.g. 24h)")
	evts.Flags().IntVar(&limit, "limit", 0, "keep only the most recent N events")
	evts.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return evts
}

func newDoctorCmd() *cobra.Command {
	var jsonOut bool
	doc := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose local tunnel configuration and security posture",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := doctor.Run()
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			if len(report.Issues) == 0 {
				fmt.Println("no issues found")
				return nil
			}
			for _, is := range report.Issues {
				fmt.Printf("[%s] %s %s: %s\n", is.Severity, is.Check, is.Target, is.Message)
				if is.Recommendation != "" {
					fmt.Printf("        %s\n", is.Recommendation)
				}
			}
			if hasHighIssue(report) {
				return fmt.Errorf("doctor found high severity issues")
			}
			return nil
		},
	}
	doc.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return doc
}

func hasHighIssue(r doctor.Report) bool {
	for _, is := range r.Issues {
		if is.Severity == doctor.SeverityHigh {
			return true
		}
	}
	return false
}
