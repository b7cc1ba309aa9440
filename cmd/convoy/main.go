// Command convoy runs a coordinated multi-worker session against a goal,
// keeping every worker's activity inside a token-budgeted shared context log.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/oklog/ulid/v2"

	"github.com/stackmesh/convoy/pkg/bus"
	"github.com/stackmesh/convoy/pkg/config"
	"github.com/stackmesh/convoy/pkg/contextlog"
	"github.com/stackmesh/convoy/pkg/coordinator"
	"github.com/stackmesh/convoy/pkg/logging"
	"github.com/stackmesh/convoy/pkg/notify"
	"github.com/stackmesh/convoy/pkg/storage"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch args[0] {
	case "start":
		return runStart(args[1:])
	case "sessions":
		return runSessions(args[1:])
	case "version":
		fmt.Printf("convoy %s (%s, built %s)\n", version, commit, buildDate)
		return 0
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `convoy coordinates concurrent workers against a shared goal.

Usage:
  convoy start <goal> [flags]   run a coordination session
  convoy sessions [flags]       list persisted sessions
  convoy version                print version information

Start flags:
  --config=PATH       config file (YAML)
  --project=IDENTITY  run with project-scoped context for the named project
  --deadline=DUR      overall session deadline, e.g. 30m
`)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	project := fs.String("project", "", "project identity for project-scoped context")
	deadline := fs.Duration("deadline", 0, "session deadline (0 means none)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "start requires a goal")
		return 2
	}
	goal := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	sessionID := ulid.Make().String()

	logger, err := logging.NewLogger(cfg.Logging.Dir, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.MinLevel))

	transport, err := buildTransport(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bus: %v\n", err)
		return 1
	}
	defer transport.Close()

	notifier := buildNotifier(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *deadline)
		defer cancel()
	}

	tracker := contextlog.NewBudgetTracker(nil, cfg.Context.TokenCapacity)
	tracker.SetThresholds(cfg.Context.WarningPct, cfg.Context.CriticalPct, cfg.Context.EmergencyPct)
	tracker.OnThreshold(func(level contextlog.Level, m contextlog.Measurement) {
		_ = logger.Warn(logging.CategoryContext, "budget_threshold",
			fmt.Sprintf("context at %.1f%% (%s)", m.PercentUsed, level), map[string]any{
				"level":  level.String(),
				"tokens": m.Tokens,
				"source": string(m.Source),
			})
		if level >= contextlog.LevelCritical {
			_ = notifier.Notify(ctx, notify.Event{
				Title:     "context budget " + level.String(),
				Body:      fmt.Sprintf("session context at %.1f%% of capacity", m.PercentUsed),
				Level:     notify.LevelWarning,
				SessionID: sessionID,
				Timestamp: time.Now().UTC(),
			})
		}
	})

	registry := contextlog.NewRegistry()
	mgr, err := registry.Create(sessionID, buildScope(cfg, *project), tracker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "context: %v\n", err)
		return 1
	}
	mgr.SetCompactor(contextlog.NewCompactorKeep(cfg.Context.EmergencyKeep))
	mgr.SetActiveTask(goal)

	coord := coordinator.New(coordinator.Config{
		SessionID:           sessionID,
		Goal:                goal,
		BackoffBase:         cfg.Workers.BackoffBase,
		BackoffMax:          cfg.Workers.BackoffMax,
		DependencyGrace:     cfg.Workers.DependencyGrace,
		ResourceWaitTimeout: cfg.Workers.ResourceWaitTimeout,
	}, mgr, transport)
	coord.SetLogger(logger)
	coord.SetNotifier(notifier)

	if cfg.Storage.Path != "" {
		store, err := storage.New(cfg.Storage.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "storage: %v\n", err)
			return 1
		}
		defer store.Close()
		coord.SetStore(store)
	}

	session, err := coord.Start(ctx, defaultWorkers(goal, cfg.Workers.MaxRetries))
	if err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		return 1
	}
	fmt.Printf("session %s started: %s\n", sessionID, goal)

	report := session.Wait(context.Background())

	fmt.Printf("\nsession %s %s in %s\n", report.SessionID, report.Outcome, report.Duration.Round(time.Millisecond))
	if report.Degraded {
		fmt.Println("warning: persistence degraded during the run")
	}
	for _, w := range report.Workers {
		line := fmt.Sprintf("  %-16s %-12s %3d%%", w.Name, w.State, w.Progress)
		if w.Reason != "" && w.State == coordinator.StateError {
			line += "  " + w.Reason
		}
		fmt.Println(line)
	}

	m := mgr.Measure()
	fmt.Printf("context: %d tokens (%.1f%% used, %s), %d compactions\n",
		m.Tokens, m.PercentUsed, m.Source, mgr.Compactions()+mgr.EmergencyCompactions())

	if report.Outcome == coordinator.OutcomeCompleted {
		return 0
	}
	return 1
}

func runSessions(args []string) int {
	fs := flag.NewFlagSet("sessions", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file path")
	limit := fs.Int("limit", 20, "maximum sessions to list")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if cfg.Storage.Path == "" {
		fmt.Fprintln(os.Stderr, "no storage path configured")
		return 1
	}

	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage: %v\n", err)
		return 1
	}
	defer store.Close()

	sessions, err := store.ListSessions(context.Background(), *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list: %v\n", err)
		return 1
	}
	for _, s := range sessions {
		outcome := s.Outcome
		if outcome == "" {
			outcome = "running"
		}
		fmt.Printf("%s  %-10s  %s\n", s.ID, outcome, s.Goal)
	}
	return 0
}

// buildScope picks the context scope for the run and applies the configured
// compression ratios instead of the built-in scope defaults.
func buildScope(cfg *config.Config, project string) contextlog.ScopeConfig {
	if project != "" {
		scope := contextlog.ProjectScope(project)
		if r := cfg.Context.ProjectRatio; r > 0 && r < 1 {
			scope.CompressionRatio = r
		}
		return scope
	}
	scope := contextlog.SessionScope()
	if r := cfg.Context.SessionRatio; r > 0 && r < 1 {
		scope.CompressionRatio = r
	}
	return scope
}

func buildTransport(cfg *config.Config) (bus.MessageBus, error) {
	if cfg.Bus.Embedded || cfg.Bus.URL == "" {
		return bus.NewMemoryBus(), nil
	}
	return bus.NewNATSBus(bus.Config{URL: cfg.Bus.URL, Name: "convoy"})
}

func buildNotifier(cfg *config.Config, logger *logging.Logger) notify.Notifier {
	var channels []notify.Notifier
	if cfg.Notify.SlackWebhookURL != "" {
		slack, err := notify.NewSlackNotifier(notify.SlackConfig{
			WebhookURL: cfg.Notify.SlackWebhookURL,
			Channel:    cfg.Notify.SlackChannel,
		})
		if err != nil {
			_ = logger.Warn(logging.CategoryNotify, "slack_disabled", err.Error(), nil)
		} else {
			channels = append(channels, slack)
		}
	}
	if cfg.Notify.BusSubjects {
		conn, err := nats.Connect(cfg.Bus.URL, nats.Name("convoy-notify"))
		if err != nil {
			_ = logger.Warn(logging.CategoryNotify, "bus_notify_disabled", err.Error(),
				map[string]any{"url": cfg.Bus.URL})
		} else {
			busNotifier, err := notify.NewNATSNotifier(conn)
			if err != nil {
				conn.Close()
				_ = logger.Warn(logging.CategoryNotify, "bus_notify_disabled", err.Error(), nil)
			} else {
				channels = append(channels, busNotifier)
			}
		}
	}
	switch len(channels) {
	case 0:
		return notify.Noop{}
	case 1:
		return channels[0]
	default:
		return notify.NewMulti(channels...)
	}
}

// defaultWorkers is the built-in worker set: review and scan run in parallel,
// deployment waits for both, and an optional notification worker trails the
// deployment.
func defaultWorkers(goal string, maxRetries int) []coordinator.WorkerSpec {
	echo := func(output string, delay time.Duration) coordinator.TaskRunner {
		return coordinator.TaskRunnerFunc(func(ctx context.Context, task coordinator.Task) (*coordinator.TaskResult, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				return &coordinator.TaskResult{Output: output}, nil
			}
		})
	}

	return []coordinator.WorkerSpec{
		{
			Name:       "code-review",
			Role:       "code-review",
			MaxRetries: maxRetries,
			Tasks: []coordinator.Task{
				{ID: "review", Label: "review changes", Payload: map[string]any{"goal": goal}},
			},
			Runner: echo("review passed", 200*time.Millisecond),
		},
		{
			Name:       "security-scan",
			Role:       "security-scan",
			MaxRetries: maxRetries,
			Tasks: []coordinator.Task{
				{ID: "scan", Label: "scan dependencies", Resources: []string{"dependency-index"}},
			},
			Runner: echo("no findings", 300*time.Millisecond),
		},
		{
			Name:       "deployment",
			Role:       "deployment",
			DependsOn:  []string{"code-review", "security-scan"},
			MaxRetries: maxRetries,
			Tasks: []coordinator.Task{
				{ID: "deploy", Label: "deploy release", Resources: []string{"staging-env"}},
			},
			Runner: echo("deployed", 200*time.Millisecond),
		},
		{
			Name:      "notification",
			Role:      "notification",
			DependsOn: []string{"deployment"},
			Optional:  true,
			Tasks: []coordinator.Task{
				{ID: "announce", Label: "announce release"},
			},
			Runner: echo("announced", 50*time.Millisecond),
		},
	}
}
