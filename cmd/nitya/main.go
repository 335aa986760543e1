package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/audit"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/banner"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/brain"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/config"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/gateway"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/history"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/llm"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/preview"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/prompt"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/prospect"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/queue"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/retry"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/scheduler"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/security"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/session"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/tokenizer"
	"github.com/StarterNode/NITYA-V1.2-sub000/internal/tooling"
)

// buildMeta holds version and build metadata (injectable via ldflags).
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("nitya %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:   "nitya",
		Short: "Design consultation backend",
		Long:  "NITYA is the conversational backend for prospect design consultations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return runDaemon(cmd, args, daemonShutdownCh)
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check config, prospect paths, and upstream connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			if code := runCheck(fix, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	checkCmd.Flags().Bool("fix", false, "write default config if missing")
	root.AddCommand(checkCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and create the prospect directories",
		RunE:  runInit,
	}
	root.AddCommand(initCmd)

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Print recent chat turns from the audit log",
		RunE:  runAudit,
	}
	auditCmd.Flags().Int("limit", 20, "maximum number of turns to print")
	root.AddCommand(auditCmd)

	return root
}

// newLogger builds the process logger from infra config. Unknown values fall
// back to text/info.
func newLogger(infra domain.InfraConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(infra.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(infra.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// runCheck verifies the config file, the on-disk prospect layout, and the
// upstream model API (via a retried probe). Returns a process exit code.
func runCheck(fix bool, out, errOut interface{ Write([]byte) (int, error) }) int {
	config.LoadEnv()
	cfgPath := config.Path()
	code := 0

	if _, err := os.Stat(cfgPath); err != nil {
		if !fix {
			fmt.Fprintf(errOut, "config: %s missing (run with --fix or `nitya init`)\n", cfgPath)
			return 1
		}
		if err := config.WriteDefault(cfgPath); err != nil {
			fmt.Fprintf(errOut, "config: write default: %v\n", err)
			return 1
		}
		fmt.Fprintf(out, "config: wrote default %s\n", cfgPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(errOut, "config: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "config: %s ok\n", cfgPath)

	for _, dir := range []string{cfg.Prospects.Root, cfg.Model.PromptDir} {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			fmt.Fprintf(errOut, "path: %s missing (run `nitya init`)\n", dir)
			code = 1
			continue
		}
		fmt.Fprintf(out, "path: %s ok\n", dir)
	}

	client, err := llm.NewClient(&cfg.Model, llm.EnvSecrets)
	if err != nil {
		fmt.Fprintf(errOut, "upstream: %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if err := llm.Probe(ctx, client, retry.FromDomain(cfg.Retry)); err != nil {
		fmt.Fprintf(errOut, "upstream: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "upstream: %s ok\n", cfg.Model.Model)
	return code
}

// probeTimeout bounds the connectivity check in `nitya check`. Tests shorten it.
var probeTimeout = 30 * time.Second

// runInit writes the default config (unless one exists) and creates the
// directories it names: prospects root with a default prospect, the static
// bundle dir, and the persona prompt dir.
func runInit(cmd *cobra.Command, args []string) error {
	cfgPath := config.Path()
	if _, err := os.Stat(cfgPath); err != nil {
		if err := config.WriteDefault(cfgPath); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", cfgPath)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s exists, keeping it\n", cfgPath)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	store := prospect.NewStore(cfg.Prospects.Root)
	if err := store.EnsureDir(cfg.Prospects.DefaultID); err != nil {
		return fmt.Errorf("create default prospect: %w", err)
	}
	for _, dir := range []string{cfg.Gateway.StaticDir, cfg.Model.PromptDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "prospect root %s ready (default: %s)\n",
		cfg.Prospects.Root, cfg.Prospects.DefaultID)
	return nil
}

// runAudit prints the most recent turns from the audit log, newest first.
func runAudit(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	db, err := audit.Open(cfg.Audit.Database)
	if err != nil {
		return fmt.Errorf("audit open: %w", err)
	}
	defer db.Close()
	store, err := audit.NewStore(db, nil)
	if err != nil {
		return err
	}
	turns, err := store.RecentTurns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tPROSPECT\tCALLS\tTOOLS\tSTOP\tDURATION\tERROR")
	for _, t := range turns {
		stop := string(t.StopReason)
		if t.LimitHit {
			stop += " (limit)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			t.CreatedAt.Format("2006-01-02 15:04:05"),
			t.Prospect, t.CompletionCalls, t.ToolCalls, stop,
			t.Duration.Round(time.Millisecond), t.Err)
	}
	return tw.Flush()
}

// runDaemon runs the daemon loop. If shutdownCh is non-nil, it returns when shutdownCh is closed (for tests).
// Otherwise it blocks on OS signals.
func runDaemon(cmd *cobra.Command, args []string, shutdownCh <-chan struct{}) error {
	euidGetter := security.EffectiveUIDGetter()
	if daemonEUIDGetter != nil {
		euidGetter = daemonEUIDGetter
	}
	if err := security.RequireNonRoot(euidGetter); err != nil {
		return err
	}
	version := getVersion()
	banner.Startup(version, nil)

	config.LoadEnv()
	cfg, err := config.Load(config.Path())
	if err != nil {
		fmt.Println("  (no config file — run `nitya init` or `nitya check --fix`)")
	} else {
		fmt.Printf("  gateway :%d  auth=%s\n", cfg.Gateway.Port, cfg.Gateway.Auth.Mode)
	}

	var gatewayShutdown chan struct{}
	var sched *scheduler.Scheduler
	var watcher *preview.Watcher
	if cfg != nil {
		logger := newLogger(cfg.Infra)

		store := prospect.NewStore(cfg.Prospects.Root)
		sessions := session.NewStore(store)

		registry := tooling.NewRegistry()
		for _, tool := range []tooling.ProspectTool{
			tooling.NewAssetsTool(store),
			tooling.NewMetadataTool(store),
			tooling.NewSitemapTool(store),
			tooling.NewStylesTool(store),
			tooling.NewConversationTool(sessions),
		} {
			if err := registry.Register(tool); err != nil {
				return fmt.Errorf("register tool: %w", err)
			}
		}

		client, err := llm.NewClient(&cfg.Model, llm.EnvSecrets)
		if err != nil {
			return fmt.Errorf("model client: %w", err)
		}
		prompts, err := prompt.NewProvider(cfg.Model.PromptDir, logger)
		if err != nil {
			return fmt.Errorf("prompt modules: %w", err)
		}

		brainOpts := []brain.Option{brain.WithLogger(logger)}
		if tok, err := tokenizer.NewDefault(); err != nil {
			logger.Warn("tokenizer unavailable, history window disabled", "error", err)
		} else {
			brainOpts = append(brainOpts,
				brain.WithHistoryWindow(history.NewWindow(tok, cfg.Model.MaxHistoryTokens)))
		}
		chatBrain := brain.NewBrain(client, brain.NewDispatcher(registry, logger), prompts, brainOpts...)

		var recorder domain.TurnRecorder
		var auditStore *audit.Store
		if cfg.Audit.Database != "" {
			db, err := audit.Open(cfg.Audit.Database)
			if err != nil {
				logger.Warn("audit log disabled", "error", err)
			} else if auditStore, err = audit.NewStore(db, logger); err != nil {
				logger.Warn("audit log disabled", "error", err)
				db.Close()
			} else {
				recorder = auditStore
			}
		}

		hub := preview.NewHub(logger)
		watcher = preview.NewWatcher(store.Root(), hub, logger)
		if err := watcher.Start(); err != nil {
			logger.Warn("preview reload disabled", "error", err)
			watcher = nil
		}

		sched = scheduler.NewScheduler(scheduler.NewRobfigCronEngine(), scheduler.WithLogger(logger))
		if auditStore != nil && cfg.Audit.SweepSchedule != "" {
			retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
			_ = sched.AddJob(scheduler.Job{
				ID:       "audit-retention",
				Name:     "audit retention sweep",
				CronExpr: cfg.Audit.SweepSchedule,
				Task: func(ctx context.Context) error {
					_, err := auditStore.Prune(ctx, time.Now().Add(-retention))
					return err
				},
			})
		}
		_ = sched.AddJob(scheduler.Job{
			ID:       "thumb-sweep",
			Name:     "orphaned thumbnail sweep",
			CronExpr: "30 4 * * *",
			Task: func(ctx context.Context) error {
				_, err := store.PruneOrphanThumbs()
				return err
			},
		})
		sched.Start()
		fmt.Println("  scheduler started")

		srv, srvErr := gateway.NewServer(cfg, gateway.Deps{
			Brain:         chatBrain,
			Conversations: sessions,
			Prospects:     store,
			Hub:           hub,
			Turns:         queue.NewTurnQueue(),
			Recorder:      recorder,
			Logger:        logger,
		})
		if srvErr != nil {
			fmt.Fprintf(gatewayBindErrWriter, "  gateway start: %v\n", srvErr)
		} else {
			gatewayServerForTest = srv
			gatewayShutdown = make(chan struct{})
			go func() {
				_ = srv.Run(gatewayShutdown)
			}()
			// Wait until the server has bound so "ready." means clients can connect.
			var bound string
			for i := 0; i < daemonBindWaitIterations; i++ {
				if a := srv.Addr(); a != "" {
					bound = a
					break
				}
				time.Sleep(20 * time.Millisecond)
			}
			if bound != "" {
				fmt.Printf("  listen %s\n  ready.\n", bound)
			} else {
				if err := srv.ListenErr(); err != nil {
					fmt.Fprintf(gatewayBindErrWriter, "  gateway failed to bind: %v\n", err)
				} else {
					fmt.Fprintln(gatewayBindErrWriter, "  gateway failed to bind (check port or permissions)")
				}
			}
		}
	}
	if gatewayShutdown == nil {
		fmt.Println("  ready.")
	}

	stopAll := func() {
		if sched != nil {
			sched.Stop()
		}
		if watcher != nil {
			_ = watcher.Stop()
		}
		if gatewayShutdown != nil {
			close(gatewayShutdown)
		}
	}

	if shutdownCh != nil {
		<-shutdownCh
		stopAll()
		return nil
	}
	daemonWaitForShutdown()
	stopAll()
	return nil
}

func getVersion() string {
	if version != "" {
		return version
	}
	b, err := os.ReadFile("VERSION")
	if err != nil {
		return "dev"
	}
	return strings.TrimSpace(string(b))
}

// version is set at build time via ldflags for build metadata, e.g.:
//   go build -ldflags "-X main.version=1.2.0" -o nitya ./cmd/nitya
var version string

// daemonShutdownCh is set by tests to unblock runDaemon without signals. Production leaves it nil.
var daemonShutdownCh <-chan struct{}

// daemonEUIDGetter is set by tests to avoid RequireNonRoot failing when test runs as root. Production leaves it nil.
var daemonEUIDGetter func() int

// daemonWaitForShutdown is set by init in main_signal*.go so tests can inject a no-op to cover the nil-shutdownCh path.
var daemonWaitForShutdown func()

// gatewayServerForTest is set when the gateway server starts so tests can read Addr().
var gatewayServerForTest *gateway.Server

// daemonBindWaitIterations is the max loop count waiting for gateway to bind. Tests may set to 0 to skip wait and cover the "failed to bind (check port or permissions)" branch.
var daemonBindWaitIterations = 50

// gatewayBindErrWriter is where bind errors are written. Tests set this to capture output; production uses os.Stderr.
var gatewayBindErrWriter interface{ Write([]byte) (int, error) } = os.Stderr

// exitCodeErr carries an exit code for the process. When returned from a command, runApp exits with that code.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

// runApp runs the root command with the given args and returns the exit code (0, 1, or 2).
func runApp(args []string) int {
	bm := newBuildMeta(version, "", "")
	if bm.Version == "" {
		bm.Version = getVersion()
	}
	root := newRootCommand(bm)
	root.SetArgs(args[1:])
	if err := root.Execute(); err != nil {
		if err == security.ErrRunningAsRoot {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		if ec, ok := err.(interface{ ExitCode() int }); ok {
			return ec.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
