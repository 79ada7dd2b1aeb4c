package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/Nanoseb/BlenderRemoteRender/internal/api"
	"github.com/Nanoseb/BlenderRemoteRender/internal/backend"
	"github.com/Nanoseb/BlenderRemoteRender/internal/command"
	"github.com/Nanoseb/BlenderRemoteRender/internal/config"
	"github.com/Nanoseb/BlenderRemoteRender/internal/dispatch"
	"github.com/Nanoseb/BlenderRemoteRender/internal/events"
	"github.com/Nanoseb/BlenderRemoteRender/internal/lock"
	"github.com/Nanoseb/BlenderRemoteRender/internal/log"
	"github.com/Nanoseb/BlenderRemoteRender/internal/registry"
	"github.com/Nanoseb/BlenderRemoteRender/internal/session"
	"github.com/Nanoseb/BlenderRemoteRender/internal/storage"
	"github.com/Nanoseb/BlenderRemoteRender/internal/transfer"
	"github.com/Nanoseb/BlenderRemoteRender/internal/transport"
)

const version = "0.3.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage(os.Stderr)
		return 1
	}

	cmd, rest := args[0], args[1:]
	if hasHelpFlag(rest) {
		printUsage(os.Stdout)
		return 0
	}

	switch cmd {
	case "start":
		return runStart(rest)
	case "status":
		return runStatus(rest)
	case "cancel":
		return runCancel(rest)
	case "outputs":
		return runOutputs(rest)
	case "registry":
		return runRegistryNoun(rest)
	case "version":
		fmt.Printf("remote-render version %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `remote-render - Blender render dispatch server

Usage:
  remote-render <command> [flags]

Server:
  start                       Listen for the Blender add-on and dispatch renders

Renders:
  status <export_path>        Refresh and show job status for a render
  cancel <export_path>        Cancel every job of a render
  outputs <export_path>       List rendered frames present on disk

Registry:
  registry export [--out F]   Write the job registry document as JSON

General:
  version                     Show version information
  help                        Show this help message

Every command accepts --config PATH. Without it the config is discovered from
$REMOTE_RENDER_CONFIG, ~/.config/remote-render, /etc/remote-render or ./config.yaml,
falling back to built-in defaults.
`)
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// parseInterspersed parses fs allowing flags on both sides of a single
// positional argument, as in 'remote-render status <export_path> --json'.
func parseInterspersed(fs *flag.FlagSet, args []string) (string, error) {
	var positional string
	for {
		if err := fs.Parse(args); err != nil {
			return "", err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		if positional != "" {
			return "", fmt.Errorf("unexpected argument %q", fs.Arg(0))
		}
		positional = fs.Arg(0)
		args = fs.Args()[1:]
	}
}

func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.Discover()
		if err != nil {
			return config.Defaults(), "", nil
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

// runtime holds the components shared by the server and the one-shot commands.
type runtime struct {
	cfg      *config.Config
	db       *sql.DB
	registry *registry.Store
	files    *transfer.Store
	backend  backend.Backend
}

func openRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	if !cfg.Storage.AllowNetworkFS {
		if err := storage.CheckLocalFilesystem(cfg.Storage.Path); err != nil {
			return nil, err
		}
	}

	db, err := storage.OpenSQLite(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open registry database: %w", err)
	}

	files, err := transfer.NewStore(cfg.Render.Root)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	reg := registry.NewStore(db)
	be, err := newBackend(cfg, reg, files)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, db: db, registry: reg, files: files, backend: be}, nil
}

func (rt *runtime) Close() error {
	return rt.db.Close()
}

func newBackend(cfg *config.Config, reg *registry.Store, files *transfer.Store) (backend.Backend, error) {
	kind, err := backend.ParseKind(cfg.Backend.Kind)
	if err != nil {
		return nil, err
	}

	switch kind {
	case backend.KindSlurm:
		return dispatch.New(reg, files, command.NewExecRunner(cfg.Scheduler.Timeout), dispatchOptions(cfg)), nil
	case backend.KindCLI:
		return backend.NewCLI(), nil
	default:
		return nil, fmt.Errorf("backend %q has no implementation", kind)
	}
}

func dispatchOptions(cfg *config.Config) dispatch.Options {
	opts := dispatch.DefaultOptions()
	opts.JobScript = cfg.Scheduler.JobScript
	opts.SubmitCommand = cfg.Scheduler.SubmitCommand
	opts.ListCommand = cfg.Scheduler.ListCommand
	opts.CancelCommand = cfg.Scheduler.CancelCommand
	opts.EnvSetup = cfg.Scheduler.EnvSetup
	opts.Blender = cfg.Render.Blender
	opts.RenderScript = cfg.Render.RenderScript
	if cfg.Render.OutputPrefix != "" {
		opts.OutputPrefix = cfg.Render.OutputPrefix
	}
	if cfg.Render.OutputExt != "" {
		opts.OutputExt = cfg.Render.OutputExt
	}
	return opts
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	listen := fs.String("listen", "", "Override server.listen (e.g. tcp://*:31416)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, usedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("remote-render starting", "version", version, "config", usedPath, "backend", cfg.Backend.Kind)

	lockPath := lock.PathFor(cfg.Storage.Path)
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", lockPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialise", "error", err)
		return 1
	}
	defer rt.Close()
	logger.Info("registry opened", "path", cfg.Storage.Path, "transfer_root", rt.files.Root())

	hub := events.NewHub(256)
	errCh := make(chan error, 2)

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
		}, rt.backend, rt.registry, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	sock, err := transport.Listen(ctx, cfg.Server.Listen)
	if err != nil {
		logger.Error("failed to bind socket", "endpoint", cfg.Server.Listen, "error", err)
		return 1
	}
	logger.Info("listening for clients", "endpoint", cfg.Server.Listen, "addr", sock.Addr())

	sess := session.New(sock, rt.backend, rt.files, hub)
	go func() {
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("session: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		return 1
	}

	logger.Info("remote-render stopped")
	return 0
}

// withBackend loads config and opens the shared runtime for a one-shot command.
// No PID lock is taken: the registry tolerates concurrent processes.
func withBackend(configPath string, fn func(ctx context.Context, rt *runtime) error) int {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer rt.Close()

	if err := fn(ctx, rt); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output status as JSON")
	exportPath, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if exportPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: remote-render status <export_path> [--config PATH] [--json]")
		return 1
	}

	return withBackend(*configPath, func(ctx context.Context, rt *runtime) error {
		report, err := rt.backend.Status(ctx, exportPath)
		if err != nil {
			return err
		}
		return writeStatus(os.Stdout, report, *jsonOut)
	})
}

func writeStatus(w io.Writer, report *backend.StatusReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(api.StatusResponse{
			ExportPath: report.ExportPath,
			Status:     report.Aggregate,
			Progress:   report.Progress,
			Jobs:       report.Jobs,
		})
	}

	fmt.Fprintf(w, "%s: %s (%d frames rendered)\n", report.ExportPath, report.Aggregate, report.Progress)
	ids := make([]string, 0, len(report.Jobs))
	for id := range report.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  %-12s %s\n", id, report.Jobs[id])
	}
	return nil
}

func runCancel(args []string) int {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	exportPath, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if exportPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: remote-render cancel <export_path> [--config PATH]")
		return 1
	}

	return withBackend(*configPath, func(ctx context.Context, rt *runtime) error {
		if err := rt.backend.CancelRender(ctx, exportPath); err != nil {
			return err
		}
		fmt.Printf("cancelled %s\n", exportPath)
		return nil
	})
}

func runOutputs(args []string) int {
	fs := flag.NewFlagSet("outputs", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	absolute := fs.Bool("absolute", false, "Print absolute paths")
	exportPath, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if exportPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: remote-render outputs <export_path> [--config PATH] [--absolute]")
		return 1
	}

	return withBackend(*configPath, func(_ context.Context, rt *runtime) error {
		files, err := rt.backend.ListRenderedOutputs(exportPath)
		if err != nil {
			return err
		}
		for _, f := range files {
			if *absolute {
				f = filepath.Join(rt.files.Root(), filepath.FromSlash(f))
			}
			fmt.Println(f)
		}
		return nil
	})
}

func runRegistryNoun(args []string) int {
	if len(args) < 1 || args[0] != "export" {
		fmt.Fprintln(os.Stderr, "Usage: remote-render registry export [--config PATH] [--out FILE]")
		return 1
	}

	fs := flag.NewFlagSet("registry export", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	out := fs.String("out", "", "Write to FILE instead of stdout")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	return withBackend(*configPath, func(ctx context.Context, rt *runtime) error {
		if *out == "" {
			return rt.registry.Export(ctx, os.Stdout)
		}
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		if err := rt.registry.Export(ctx, f); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	})
}
