// Command vocalcommit runs the voice-to-commit orchestrator: it accepts
// natural-language change requests over HTTP, plans and applies edits to
// the todo UI working tree, commits them locally, and gates every push on
// developer approval.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vocalcommit/pkg/config"
	"vocalcommit/pkg/editor"
	"vocalcommit/pkg/eventlog"
	"vocalcommit/pkg/gateway"
	"vocalcommit/pkg/gitops"
	"vocalcommit/pkg/limiter"
	"vocalcommit/pkg/logx"
	"vocalcommit/pkg/planner"
	"vocalcommit/pkg/webui"
	"vocalcommit/pkg/workflow"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var configPath string
	var syncOnStart bool
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&syncOnStart, "sync", true, "Clone or pull the working tree before serving")
	flag.Parse()

	if err := run(configPath, syncOnStart); err != nil {
		fmt.Fprintf(os.Stderr, "vocalcommit: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, syncOnStart bool) error {
	logger := logx.NewLogger("main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return logx.Wrap(err, "failed to load config")
	}

	workDir, err := cfg.ResolveWorkDir()
	if err != nil {
		return err
	}

	gw, err := gateway.New(&cfg)
	switch {
	case errors.Is(err, gateway.ErrNotConfigured):
		logger.Warn("No model credential configured, running with fallback planning only")
		gw = nil
	case err != nil:
		return logx.Wrap(err, "failed to create model gateway")
	default:
		logger.Info("Model gateway ready: %s backend, model %s", cfg.Model.Backend, gw.ModelName())
	}

	window := limiter.NewWindow(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window.Std())

	repo := gitops.NewRemoteRepo(workDir, cfg.Git)
	if syncOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Git.RemoteTimeout.Std())
		action, err := repo.SyncRemote(ctx)
		cancel()
		if err != nil {
			logger.Warn("Working tree sync failed, continuing with local state: %v", err)
		} else {
			logger.Info("Working tree %s: %s", action, workDir)
		}
	}

	ed, err := editor.New(gw, window, workDir, cfg.Edit)
	if err != nil {
		return logx.Wrap(err, "failed to create editor")
	}

	logDir := cfg.LogDir
	if logDir == "" {
		logDir = "logs"
	}
	audit, err := eventlog.NewWriter(logDir)
	if err != nil {
		return logx.Wrap(err, "failed to create event log")
	}
	defer audit.Close()

	orch := workflow.New(workflow.Options{
		Planner:       planner.NewGenerator(gw, window),
		Editor:        ed,
		Repo:          repo,
		Window:        window,
		Audit:         audit,
		SuspensionTTL: cfg.Workflow.SuspensionTTL.Std(),
	})

	mux := http.NewServeMux()
	webui.NewServer(orch, repo, repo).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return logx.Wrap(err, "server failed")
	case sig := <-sigCh:
		logger.Info("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("Server shutdown: %v", err)
	}

	// Let in-flight task runs finish so no edit is left half committed.
	done := make(chan struct{})
	go func() {
		orch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Timed out waiting for active tasks")
	}

	logger.Info("Shutdown complete")
	return nil
}
