package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/browsertap/browsertap/internal/api"
	"github.com/browsertap/browsertap/internal/bridge"
	"github.com/browsertap/browsertap/internal/capture"
	"github.com/browsertap/browsertap/internal/cdp"
	"github.com/browsertap/browsertap/internal/config"
	"github.com/browsertap/browsertap/internal/control"
	"github.com/browsertap/browsertap/internal/diagnose"
	"github.com/browsertap/browsertap/internal/session"
	"github.com/browsertap/browsertap/internal/storage"
	"github.com/browsertap/browsertap/internal/stream"
)

const version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "browsertap",
		Short: "Attach to a running browser and capture console/network telemetry",
		Long: `browsertap connects to a browser's remote-debugging port, monitors one
page's console and network activity, and writes the captured telemetry
(console log, network log, per-request detail, cookies, DOM snapshot,
screenshot) to a project-local output directory.

A keyboard command loop and a local HTTP control surface run alongside
capture. When the monitor runs inside a virtualized guest and the browser
on the host, a port-forwarding rule is provisioned automatically.`,
		Version: version,
		RunE:    runMonitor,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "diagnose",
		Short: "Probe the environment and classify why a connection fails",
		RunE:  runDiagnose,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "kill",
		Short: "Terminate browser instances launched by this tool",
		RunE:  runKill,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("logger setup: %w", err)
	}

	slog.Info("config loaded",
		"mode", cfg.Mode,
		"cdp", cfg.CDPURL(),
		"project_id", cfg.ProjectID,
		"output_dir", cfg.OutputDir,
		"output_mode", cfg.OutputMode,
		"control_addr", cfg.ControlBindAddr,
	)

	ctx := context.Background()

	addr, port, err := resolveBridge(ctx, cfg)
	if err != nil {
		return err
	}

	client := cdp.NewClient(addr, port)
	retry := cdp.RetryPolicy{Attempts: cfg.RetryAttempts, Delay: time.Duration(cfg.RetryDelayMS) * time.Millisecond}
	if err := client.Connect(ctx, retry); err != nil {
		slog.Error("connection failed, running diagnostics", "error", err)
		runDiagnosticsAndMaybeFix(ctx, cfg, addr, port)
		return err
	}

	cap, files, broker, err := buildCapture(cfg)
	if err != nil {
		client.Close(false)
		return err
	}

	sess := session.New(session.WrapClient(client), cap, session.Options{
		OutputDir:          cfg.OutputDir,
		HTMLMaxBytes:       cfg.HTMLMaxBytes,
		CloseBrowserOnExit: cfg.ExitMode == "close",
	})
	if files != nil {
		sess.OnShutdown(func() {
			if err := files.Close(); err != nil {
				slog.Warn("capture files close failed", "error", err)
			}
		})
	}

	picked, err := sess.AttachInitial(ctx, promptPageChoice)
	if err != nil {
		sess.Shutdown()
		return fmt.Errorf("attach initial page: %w", err)
	}
	slog.Info("monitoring page", "index", picked.Index, "url", picked.URL)

	srv := &http.Server{Addr: cfg.ControlBindAddr, Handler: api.NewServer(sess, broker)}
	go func() {
		slog.Info("control surface listening", "addr", cfg.ControlBindAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("control server failed", "error", err)
		}
	}()
	sess.OnShutdown(func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Warn("control server shutdown failed", "error", err)
		}
	})

	sess.StartWatchdog(time.Duration(cfg.HardTimeoutSec) * time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		control.Loop(ctx, os.Stdin, os.Stdout, sess)
		close(done)
	}()

	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", "signal", sig.String())
	case <-done:
	}
	sess.Shutdown()
	return nil
}

// resolveBridge returns the reachable control endpoint, provisioning the
// cross-host forwarding path when the browser lives on the other side of a
// guest/host boundary.
func resolveBridge(ctx context.Context, cfg *config.Config) (string, int, error) {
	if !bridge.DetectCrossHost() {
		return cfg.CDPAddress, cfg.CDPPort, nil
	}

	gateway := bridge.ResolveHostGateway()
	if gateway == "" {
		slog.Warn("cross-host environment detected but host gateway unresolved, using configured address")
		return cfg.CDPAddress, cfg.CDPPort, nil
	}
	slog.Info("cross-host environment detected", "host_gateway", gateway)

	resolver := bridge.NewResolver(bridge.NewWindowsInspector(), cfg.ProjectID)
	instances, err := resolver.DiscoverInstances(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("discover browser instances: %w", err)
	}

	var port int
	if inst, tier := bridge.MatchInstance(instances, cfg.ProjectID); tier != bridge.TierNone {
		slog.Info("matched browser instance", "pid", inst.PID, "port", inst.Port, "tier", tier.String())
		port = inst.Port
	} else {
		if cfg.Mode != "launch" {
			return "", 0, fmt.Errorf("no browser instance with a control port found; set BROWSERTAP_MODE=launch or start one manually")
		}
		port = bridge.FindFreePort(instances, cfg.StartPort)
		profileDir := resolver.ManagedProfileDir(os.TempDir())
		pid, err := resolver.LaunchBrowser(ctx, cfg.BrowserPath, port, profileDir)
		if err != nil {
			return "", 0, err
		}
		if err := storage.WritePIDFile(cfg.OutputDir, pid); err != nil {
			slog.Warn("pid file write failed", "error", err)
		}
	}

	if _, err := resolver.EnsureForwardingRule(ctx, port); err != nil {
		slog.Warn("forwarding rule install failed", "error", err)
	}
	return gateway, port, nil
}

func buildCapture(cfg *config.Config) (*capture.Capture, *storage.CaptureFiles, *stream.Broker, error) {
	broker := stream.NewBroker()
	opts := capture.Options{
		IgnorePatterns:    cfg.IgnorePatterns,
		HotReloadPatterns: cfg.HotReloadPatterns,
		Publish: func(kind, line string) {
			broker.Publish(stream.Event{Kind: kind, Line: line})
		},
	}

	var files *storage.CaptureFiles
	if cfg.OutputMode == "immediate" {
		var err error
		files, err = storage.OpenCaptureFiles(cfg.OutputDir, cfg.LogMaxSizeMB)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open capture files: %w", err)
		}
		opts.Files = files
	}
	return capture.New(opts), files, broker, nil
}

// promptPageChoice asks the operator to pick a page on stdin.
func promptPageChoice(pages []cdp.PageInfo) (int, error) {
	fmt.Println("multiple pages found:")
	for _, p := range pages {
		title := p.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("  %d: %s  %s\n", p.Index, title, p.URL)
	}
	fmt.Print("page number (enter = 1): ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return 0, io.EOF
	}
	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return 1, nil
	}
	var choice int
	if _, err := fmt.Sscanf(line, "%d", &choice); err != nil {
		return 0, err
	}
	return choice, nil
}

func runDiagnosticsAndMaybeFix(ctx context.Context, cfg *config.Config, addr string, port int) {
	doctor := diagnose.NewDoctor(bridge.NewWindowsInspector(), func(ctx context.Context, addr string, port int) error {
		_, err := cdp.ProbeEndpoint(ctx, addr, port)
		return err
	})
	rep := doctor.Run(ctx, addr, port)

	printReport(rep)
	if !rep.HasPortProxyConflict {
		return
	}

	resolver := bridge.NewResolver(bridge.NewWindowsInspector(), cfg.ProjectID)
	if err := doctor.AutoFix(ctx, rep, resolver, confirmOnStdin); err != nil {
		slog.Warn("auto-fix not applied", "error", err)
		return
	}
	fmt.Println("auto-fix applied, run again to reconnect")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}

	addr := cfg.CDPAddress
	if bridge.DetectCrossHost() {
		if gw := bridge.ResolveHostGateway(); gw != "" {
			addr = gw
		}
	}

	doctor := diagnose.NewDoctor(bridge.NewWindowsInspector(), func(ctx context.Context, addr string, port int) error {
		_, err := cdp.ProbeEndpoint(ctx, addr, port)
		return err
	})
	rep := doctor.Run(cmd.Context(), addr, cfg.CDPPort)
	printReport(rep)

	if rep.HasPortProxyConflict {
		resolver := bridge.NewResolver(bridge.NewWindowsInspector(), cfg.ProjectID)
		if err := doctor.AutoFix(cmd.Context(), rep, resolver, confirmOnStdin); err != nil {
			slog.Warn("auto-fix not applied", "error", err)
		}
	}
	return nil
}

func runKill(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}

	resolver := bridge.NewResolver(bridge.NewWindowsInspector(), cfg.ProjectID)
	killed, err := resolver.TerminateManaged(cmd.Context())
	if err != nil {
		return err
	}
	if err := storage.RemovePIDFile(cfg.OutputDir); err != nil {
		slog.Debug("pid file removal", "error", err)
	}
	fmt.Printf("terminated %d managed instance(s)\n", killed)
	return nil
}

func printReport(rep *diagnose.Report) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		slog.Error("report marshal failed", "error", err)
		return
	}
	fmt.Println(string(data))
	if rep.SuggestedFix != nil {
		fmt.Println("suggested fix:", *rep.SuggestedFix)
	}
}

func confirmOnStdin() bool {
	fmt.Print("remove the stale rule and terminate the managed browser? [y/N]: ")
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stderr, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
