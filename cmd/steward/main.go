// Command steward runs privileged host administration (package updates,
// timeshift snapshots, ufw rules) behind a web console or an MCP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deixis/steward"
	"github.com/deixis/steward/internal/config"
	"github.com/deixis/steward/internal/feed"
	stewardmcp "github.com/deixis/steward/internal/mcp"
	"github.com/deixis/steward/internal/ops"
	"github.com/deixis/steward/internal/report"
	"github.com/deixis/steward/internal/runner"
	"github.com/deixis/steward/internal/server"
	"github.com/deixis/steward/internal/telemetry"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("steward: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = serveMain(args)
	case "mcp":
		err = mcpMain(args)
	case "run":
		err = runMain(args)
	case "version":
		fmt.Println(steward.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "steward: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: steward <command> [flags]

Commands:
  serve       Start the web console and live output feed
  mcp         Start the MCP server
  run         Run one operation and print its output
  version     Print the version
  help        Show this help

Use "steward <command> -h" for command-specific flags.`)
}

// --- serve ---

func serveMain(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to the YAML config file")
	addr := fs.String("addr", "", "listen address (overrides config)")
	verbose := fs.Bool("v", false, "debug logging")
	_ = fs.Parse(args)

	logger := setupLogging(*verbose)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	srv := &server.Server{
		Engine:       app.engine,
		Store:        app.store,
		Feed:         app.queue,
		PollInterval: cfg.PollInterval(),
		Logger:       logger,
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return listen(ctx, httpServer, logger)
}

// listen serves until ctx is cancelled, then drains in-flight requests.
// Operations already running keep going: their commands are detached from
// request cancellation.
func listen(ctx context.Context, httpServer *http.Server, logger *slog.Logger) error {
	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", httpServer.Addr)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		// Live feeds never finish on their own.
		_ = httpServer.Close()
	}
	return nil
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to the YAML config file")
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	verbose := fs.Bool("v", false, "debug logging")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(stewardmcp.Instructions)
		return nil
	}

	logger := setupLogging(*verbose)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	// Nobody drains the local queue here; only the Redis mirror, if any,
	// carries live output.
	app.setFeed(mirrorPublisher(app.mirror))

	mcpServer := stewardmcp.NewServer(app.engine, app.store)
	if *httpAddr == "" {
		return mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
	}

	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return mcpServer },
		nil,
	)
	return listen(ctx, &http.Server{
		Addr:              *httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, logger)
}

// --- run ---

func runMain(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to the YAML config file")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: steward run [flags] <operation> [args]

Operations:
  update
  snapshot_create [description]
  snapshot_list
  firewall_status
  firewall_toggle enable|disable
  firewall_port open|close <port> [tcp|udp]
  ip_manage allow|deny|delete <address>

Flags:`)
		fs.PrintDefaults()
	}
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	logger := setupLogging(*verbose)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	// Print the feed instead of queueing it for a web client.
	app.setFeed(feed.Multi(newConsole(os.Stdout), mirrorPublisher(app.mirror)))

	out, err := dispatch(ctx, app.engine, fs.Args())
	if errors.Is(err, ops.ErrInvalidArgument) {
		fs.Usage()
		return err
	}
	if out != nil {
		fmt.Printf("\n%s (run %s)\n", out.Status(), out.ID)
	}
	if err != nil {
		return err
	}
	if !out.Succeeded {
		app.close()
		os.Exit(1)
	}
	return nil
}

// --- shared ---

func setupLogging(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// app wires the components shared by every command.
type app struct {
	queue    *feed.Queue
	mirror   *feed.RedisMirror // nil unless redis.addr is set
	runner   *runner.Runner
	engine   *ops.Engine
	store    *report.LRUStore
	shutdown func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if cfg.RequireRoot() && os.Geteuid() != 0 {
		return nil, errors.New("steward must run as root: use sudo, or set require_root: false")
	}

	shutdown, err := telemetry.Setup(ctx, "steward", steward.Version, cfg.OTel.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &app{
		queue:    feed.NewQueue(),
		store:    report.NewLRUStore(cfg.History()),
		shutdown: shutdown,
	}

	if cfg.Redis.Addr != "" {
		mirror, err := feed.NewRedisMirror(cfg.Redis.Addr, cfg.RedisChannel(), logger)
		if err != nil {
			// The console still works without the mirror.
			logger.Warn("Redis mirror disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			a.mirror = mirror
			go mirror.Run(ctx)
		}
	}

	pub := feed.Multi(a.queue, mirrorPublisher(a.mirror))
	a.runner = &runner.Runner{
		Launcher:  runner.ExecLauncher{Env: []string{"DEBIAN_FRONTEND=noninteractive"}},
		Feed:      pub,
		Timeout:   cfg.Timeout(),
		MaxOutput: cfg.MaxOutputBytes(),
		Logger:    logger,
	}
	a.engine = &ops.Engine{
		Config: cfg,
		Runner: a.runner,
		Feed:   pub,
		Store:  a.store,
		Logger: logger,
	}
	return a, nil
}

// mirrorPublisher avoids handing feed.Multi a typed nil.
func mirrorPublisher(m *feed.RedisMirror) feed.Publisher {
	if m == nil {
		return nil
	}
	return m
}

// setFeed routes command output and status lines to pub instead of the
// local queue.
func (a *app) setFeed(pub feed.Publisher) {
	if pub == nil {
		pub = feed.Discard
	}
	a.runner.Feed = pub
	a.engine.Feed = pub
}

func (a *app) close() {
	a.queue.Close()
	if a.mirror != nil {
		_ = a.mirror.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.shutdown(ctx)
}
