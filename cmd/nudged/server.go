package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/okranz/nudged/internal/api"
	"github.com/okranz/nudged/internal/bandit"
	"github.com/okranz/nudged/internal/config"
	"github.com/okranz/nudged/internal/confusion"
	"github.com/okranz/nudged/internal/feedback"
	"github.com/okranz/nudged/internal/gate"
	"github.com/okranz/nudged/internal/interrupt"
	"github.com/okranz/nudged/internal/signals"
	"github.com/okranz/nudged/internal/storage"
)

const sweepBatchSize = 50

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the nudged server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running nudged server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "nudged.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "nudged version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.EnsureToken(cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to double-start: probe the health endpoint before claiming
	// the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("nudged is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("nudged is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Signal trackers shared by the gate, the detector, and the bandit's
	// feature extraction.
	clock := signals.Clock(time.Now)
	keys := signals.NewKeystrokeTracker(clock)
	pointer := signals.NewPointerTracker(clock)
	apps := signals.NewAppTracker(clock)

	gateCfg := gate.DefaultConfig()
	gateCfg.MaxCharsPerMinute = cfg.Gate.MaxCharsPerMinute
	gateCfg.VelocityWindow = config.Duration(cfg.Gate.VelocityWindow, gateCfg.VelocityWindow)
	gt := gate.New(gateCfg, keys, apps)

	detector := confusion.New(confusion.DefaultConfig(), keys, pointer, apps)

	banditCfg := bandit.DefaultConfig()
	banditCfg.ColdStartBudget = cfg.Engine.ColdStartBudget
	policy := bandit.New(banditCfg, bandit.NewFileStore(filepath.Join(cfg.Storage.DataDir, "policy.json")))

	sessions := feedback.NewSessions(store, clock)
	queue := feedback.NewQueue(store)

	mgrCfg := interrupt.DefaultConfig()
	mgrCfg.DecisionThreshold = cfg.Engine.DecisionThreshold
	mgrCfg.ProactiveThreshold = cfg.Engine.ProactiveThreshold
	mgrCfg.ConfusionOptional = cfg.Engine.ConfusionOptional
	mgrCfg.ForceProactive = cfg.Engine.ForceProactive
	mgrCfg.StatusInterval = config.Duration(cfg.Engine.StatusInterval, mgrCfg.StatusInterval)
	mgr := interrupt.New(mgrCfg, gt, detector, policy, apps, queue, clock)

	handler := api.NewHandler(api.Deps{
		Manager:  mgr,
		Sessions: sessions,
		Store:    store,
		Policy:   policy,
		Keys:     keys,
		Pointer:  pointer,
		Apps:     apps,
		Token:    apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	worker := feedback.NewWorker(store, policy, 500*time.Millisecond)

	mcpSrv := api.NewMCPServer(api.MCPDeps{Manager: mgr, Sessions: sessions})
	stdioSrv := server.NewStdioServer(mcpSrv)

	ignoreTTL := config.Duration(cfg.Engine.IgnoreTTL, time.Minute)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "nudged listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := mgr.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return runSweeper(gctx, sessions, queue, ignoreTTL)
	})

	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})
	slog.Info("MCP server started (stdio transport)")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runSweeper periodically resolves sessions the user never touched, feeding
// them back into learning as ignores.
func runSweeper(ctx context.Context, sessions *feedback.Sessions, queue *feedback.Queue, ttl time.Duration) error {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			outcomes, err := sessions.SweepIgnored(ttl, sweepBatchSize)
			if err != nil {
				slog.Warn("sweeping stale sessions failed", "error", err)
				continue
			}
			for _, o := range outcomes {
				if err := queue.Enqueue(ctx, o); err != nil {
					slog.Warn("enqueueing swept outcome failed", "suggestion_id", o.SuggestionID, "error", err)
				}
			}
			if len(outcomes) > 0 {
				slog.Info("swept stale sessions", "count", len(outcomes))
			}
		}
	}
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("nudged is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop nudged (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to nudged (PID %d)", pid)
	return nil
}
