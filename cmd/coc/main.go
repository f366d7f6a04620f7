// Command coc is the CLI wrapper and serve composition root: thin argv
// parsing and config loading, not part of the core (spec.md §1).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/basket/coc/internal/aiservice"
	"github.com/basket/coc/internal/config"
	"github.com/basket/coc/internal/executor"
	cocotel "github.com/basket/coc/internal/otel"
	"github.com/basket/coc/internal/processstore"
	"github.com/basket/coc/internal/queue"
	"github.com/basket/coc/internal/scheduler"
	"github.com/basket/coc/internal/telemetry"
	"github.com/basket/coc/internal/transport"
)

var errStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))

func colorEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("NO_COLOR") == ""
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `coc — local AI-task execution dashboard

Usage:
  %s serve [-port N]         run the queue/executor/transport dashboard
  %s run <prompt>            submit a task to a running dashboard and wait
  %s list                    list queued/running tasks on a running dashboard
  %s validate                validate the on-disk config and exit

`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	case "serve":
		runServe(ctx, args[1:])
	case "validate":
		os.Exit(runValidate())
	case "run":
		os.Exit(runSubmit(ctx, args[1:]))
	case "list":
		os.Exit(runList(ctx, args[1:]))
	default:
		printUsage()
		os.Exit(2)
	}
}

// fatal prints a one-line, optionally colorized error to stderr and exits 1
// (spec.md §7: "CLI prints a one-line error to stderr with colorized
// severity prefix"). Grounded on the teacher's fatalStartup structured
// fatal-reporting helper.
func fatal(logger *slog.Logger, reasonCode string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	prefix := "ERROR"
	if colorEnabled() {
		prefix = errStyle.Render("ERROR")
	}
	fmt.Fprintf(os.Stderr, "%s [%s] %s\n", prefix, reasonCode, msg)
	if logger != nil {
		logger.Error("fatal", "reason_code", reasonCode, "error", msg)
	}
	os.Exit(1)
}

// resolveAIServiceConfig picks the genkit provider and API key for the
// configured model by which provider's key is present in the environment,
// mirroring config.AvailableModels's gating logic.
func resolveAIServiceConfig(model string) aiservice.Config {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return aiservice.Config{Provider: "anthropic", Model: model, APIKey: os.Getenv("ANTHROPIC_API_KEY")}
	case strings.HasPrefix(model, "gpt-"):
		return aiservice.Config{Provider: "openai", Model: model, APIKey: os.Getenv("OPENAI_API_KEY")}
	default:
		return aiservice.Config{Provider: "google", Model: model, APIKey: os.Getenv("GEMINI_API_KEY")}
	}
}

func runValidate() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return 1
	}
	fmt.Printf("config OK: home=%s model=%s parallel=%d serve=%s:%d\n",
		cfg.HomeDir, cfg.Model, cfg.Parallel, cfg.Serve.Host, cfg.Serve.Port)
	return 0
}

func runServe(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 0, "override serve.port from config")
	host := fs.String("host", "", "override serve.host from config")
	schedulePath := fs.String("schedule", "", "path to a schedule.yaml of cron-driven task templates")
	_ = fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fatal(nil, "E_CONFIG_LOAD", err)
	}
	if *port > 0 {
		cfg.Serve.Port = *port
	}
	if *host != "" {
		cfg.Serve.Host = *host
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, "info", false)
	if err != nil {
		fatal(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	otelProvider, err := cocotel.Init(ctx, cocotel.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		fatal(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	metrics, err := cocotel.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatal(logger, "E_OTEL_METRICS_INIT", err)
	}

	// Component A: Task Queue Manager.
	q := queue.New(0, 100)

	// Component C: Process Store + Event Fan-out.
	var store processstore.Store
	if cfg.Persist {
		store, err = processstore.NewFile(cfg.Serve.DataDir, logger)
		if err != nil {
			fatal(logger, "E_STORE_OPEN", err)
		}
	} else {
		store = processstore.NewMemory(logger)
	}

	aiSvc := aiservice.New(ctx, resolveAIServiceConfig(cfg.Model))
	taskExec := aiservice.NewCLITaskExecutor(aiSvc, store, logger, metrics)

	// Component B: Queue Executor.
	exec := executor.New(executor.Config{
		MaxConcurrency: cfg.Parallel,
		Tracer:         otelProvider.Tracer,
		Metrics:        metrics,
	}, q, store, taskExec, logger)
	exec.Start(ctx)

	// Component D: Transport Layer.
	srv := transport.New(transport.Config{
		Queue:     q,
		Executor:  exec,
		Store:     store,
		Logger:    logger,
		StartedAt: time.Now(),
	})

	var sched *scheduler.Scheduler
	if *schedulePath != "" {
		schedules, err := scheduler.LoadSchedules(*schedulePath)
		if err != nil {
			fatal(logger, "E_SCHEDULE_LOAD", err)
		}
		if len(schedules) > 0 {
			sched, err = scheduler.New(scheduler.Config{Queue: q, Schedules: schedules, Logger: logger})
			if err != nil {
				fatal(logger, "E_SCHEDULE_INIT", err)
			}
			sched.Start(ctx)
		}
	}

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		fatal(logger, "E_CONFIG_WATCHER_START", err)
	}
	go func() {
		for range watcher.Events() {
			logger.Info("config changed; restart to apply")
		}
	}()

	addr := net.JoinHostPort(cfg.Serve.Host, fmt.Sprintf("%d", cfg.Serve.Port))
	httpServer := newHTTPServer(addr, srv.Handler())
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", addr, "ws", "/ws")
		if err := httpServer.ListenAndServe(); err != nil && !isServerClosed(err) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		fatal(logger, "E_SERVER", err)
	}

	// Graceful shutdown: stop executor, close WS clients, destroy keepalive
	// sockets, stop HTTP server, exit (spec.md §5/§9).
	exec.Stop(5 * time.Second)
	srv.Shutdown()
	httpServer.SetKeepAlivesEnabled(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if sched != nil {
		sched.Stop()
	}
	logger.Info("shutdown complete")
}

func runSubmit(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	priority := fs.String("priority", "normal", "high|normal|low")
	_ = fs.Parse(args)
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: coc run [-priority high|normal|low] <prompt>")
		return 2
	}
	prompt := strings.Join(rest, " ")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	client := newDashboardClient(cfg.Serve.Host, cfg.Serve.Port)
	taskID, err := client.submit(ctx, prompt, *priority)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		return 1
	}
	fmt.Println(taskID)
	return 0
}

func runList(ctx context.Context, args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load: %v\n", err)
		return 1
	}
	client := newDashboardClient(cfg.Serve.Host, cfg.Serve.Port)
	body, err := client.list(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list: %v\n", err)
		return 1
	}
	fmt.Println(body)
	return 0
}

