package main

import (
	"testing"

	"github.com/stackmesh/convoy/pkg/config"
	"github.com/stackmesh/convoy/pkg/contextlog"
	"github.com/stackmesh/convoy/pkg/logging"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger(t.TempDir(), "test-session")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

func TestBuildScopeUsesConfiguredRatios(t *testing.T) {
	cfg := config.Default()
	cfg.Context.SessionRatio = 0.6
	cfg.Context.ProjectRatio = 0.45

	scope := buildScope(cfg, "")
	if scope.Scope != contextlog.ScopeSession {
		t.Errorf("scope = %q, want session", scope.Scope)
	}
	if scope.CompressionRatio != 0.6 {
		t.Errorf("session ratio = %v, want 0.6 from config", scope.CompressionRatio)
	}

	scope = buildScope(cfg, "atlas")
	if scope.Scope != contextlog.ScopeProject {
		t.Errorf("scope = %q, want project", scope.Scope)
	}
	if scope.Identity != "atlas" {
		t.Errorf("identity = %q, want atlas", scope.Identity)
	}
	if scope.CompressionRatio != 0.45 {
		t.Errorf("project ratio = %v, want 0.45 from config", scope.CompressionRatio)
	}
}

func TestBuildScopeRejectsInvalidRatios(t *testing.T) {
	cfg := config.Default()
	cfg.Context.SessionRatio = 1.8

	scope := buildScope(cfg, "")
	if scope.CompressionRatio != contextlog.SessionCompressionRatio {
		t.Errorf("ratio = %v, want scope default %v", scope.CompressionRatio, contextlog.SessionCompressionRatio)
	}
}

func TestBuildNotifierDefaultsToNoop(t *testing.T) {
	cfg := config.Default()
	n := buildNotifier(cfg, testLogger(t))
	if got := n.Name(); got != "noop" {
		t.Errorf("notifier = %q, want noop when nothing is configured", got)
	}
}

func TestBuildNotifierSlackOnly(t *testing.T) {
	cfg := config.Default()
	cfg.Notify.SlackWebhookURL = "https://hooks.slack.test/T00/B00/xyz"

	n := buildNotifier(cfg, testLogger(t))
	if got := n.Name(); got != "slack" {
		t.Errorf("notifier = %q, want slack", got)
	}
}

func TestBuildNotifierSkipsUnreachableBus(t *testing.T) {
	cfg := config.Default()
	cfg.Notify.BusSubjects = true
	cfg.Bus.URL = "nats://127.0.0.1:1"

	// An unreachable bus downgrades to the remaining channels, never fails.
	n := buildNotifier(cfg, testLogger(t))
	if got := n.Name(); got != "noop" {
		t.Errorf("notifier = %q, want noop after bus connect failure", got)
	}
}
