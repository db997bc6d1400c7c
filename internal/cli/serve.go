package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/pondoc/internal/config"
	"github.com/roach88/pondoc/internal/document"
	"github.com/roach88/pondoc/internal/engine"
	"github.com/roach88/pondoc/internal/server"
	"github.com/roach88/pondoc/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigPath string
	GenDocs    bool

	// flags holds the values of the config flags; only the ones set on
	// the command line override the config file.
	flags config.Config

	// IDGenerator overrides client ids (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.ClientIDGenerator
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	opts.flags = config.Default()

	cmd := &cobra.Command{
		Use:   "serve [document.xml]",
		Short: "Serve a document over TCP",
		Long: `Load a document and serve it to clients over the line protocol.

Settings come from --config (a .cue or .toml file) when given, then
from flags, which override the file. Once the TCP port accepts
connections the server prints

  ## READY FOR CONNECTIONS ##
  {"port": 4303}

on stdout. SIGINT and SIGTERM stop it; the document is then written to
--dump-on-exit if set.

Example:
  pondoc serve scene.xml
  pondoc serve --port 0 --http 127.0.0.1:9090 --db journal.db scene.xml
  pondoc serve --config pondoc.cue
  pondoc serve --genpondocs`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "config file (.cue or .toml)")
	f.BoolVar(&opts.GenDocs, "genpondocs", false, "print the function documentation as JSON and exit")
	f.IntVar(&opts.flags.Port, "port", opts.flags.Port, "TCP port of the line protocol (0 picks a free port)")
	f.StringVar(&opts.flags.HTTPAddr, "http", opts.flags.HTTPAddr, "address of the HTTP side port (metrics, health, docs, websocket)")
	f.Float64Var(&opts.flags.MaxFPS, "maxfps", opts.flags.MaxFPS, "maximum cycles per second (0 is unpaced)")
	f.Float64Var(&opts.flags.FixedTimestep, "fixedtimestep", opts.flags.FixedTimestep, "dtime reported every cycle instead of the measured one")
	f.IntVar(&opts.flags.MaxRequestsPerCycle, "max-requests", opts.flags.MaxRequestsPerCycle, "lines handled per client per cycle (0 is unlimited)")
	f.BoolVar(&opts.flags.Watch, "watch", opts.flags.Watch, "reload the document when its file changes")
	f.StringVar(&opts.flags.Database, "db", opts.flags.Database, "SQLite journal of requests and snapshots")
	f.Uint64Var(&opts.flags.SnapshotEvery, "snapshot-every", opts.flags.SnapshotEvery, "snapshot the document every N changed cycles")
	f.StringVar(&opts.flags.DumpOnExit, "dump-on-exit", opts.flags.DumpOnExit, "write the document here at shutdown")
	f.StringVar(&opts.flags.LogLevel, "log-level", opts.flags.LogLevel, "log level (debug|info|warn|error)")

	return cmd
}

// resolveConfig merges the config file, the flags set on the command
// line and the document argument, then validates the result.
func resolveConfig(opts *ServeOptions, args []string, flags *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}

	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("port", func() { cfg.Port = opts.flags.Port })
	set("http", func() { cfg.HTTPAddr = opts.flags.HTTPAddr })
	set("maxfps", func() { cfg.MaxFPS = opts.flags.MaxFPS })
	set("fixedtimestep", func() { cfg.FixedTimestep = opts.flags.FixedTimestep })
	set("max-requests", func() { cfg.MaxRequestsPerCycle = opts.flags.MaxRequestsPerCycle })
	set("watch", func() { cfg.Watch = opts.flags.Watch })
	set("db", func() { cfg.Database = opts.flags.Database })
	set("snapshot-every", func() { cfg.SnapshotEvery = opts.flags.SnapshotEvery })
	set("dump-on-exit", func() { cfg.DumpOnExit = opts.flags.DumpOnExit })
	set("log-level", func() { cfg.LogLevel = opts.flags.LogLevel })
	if len(args) == 1 {
		cfg.Document = args[0]
	}

	if err := cfg.Validate(); err != nil {
		return cfg, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

func runServe(opts *ServeOptions, args []string, cmd *cobra.Command) error {
	cfg, err := resolveConfig(opts, args, cmd.Flags())
	if err != nil {
		return err
	}
	level := cfg.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	setupLogging(cmd.ErrOrStderr(), level)

	registry, err := newRegistry()
	if err != nil {
		return err
	}
	if opts.GenDocs {
		data, err := registry.GenerateJSONDocs()
		if err != nil {
			return WrapExitError(ExitFailure, "failed to generate docs", err)
		}
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}

	var doc *document.Document
	if cfg.Document != "" {
		slog.Info("loading document", "path", cfg.Document)
		doc, _, err = loadDocument(registry, cfg.Document)
		if err != nil {
			return err
		}
		if _, ok := doc.Root(); !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("document has no root element: %s", cfg.Document))
		}
	} else {
		doc = document.New(registry, document.WithRoot("Root"))
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engineOpts := []engine.EngineOption{
		engine.WithMetrics(metrics),
		engine.WithMaxFPS(cfg.MaxFPS),
		engine.WithFixedTimestep(cfg.FixedTimestep),
		engine.WithMaxRequestsPerCycle(cfg.MaxRequestsPerCycle),
	}
	if opts.IDGenerator != nil {
		engineOpts = append(engineOpts, engine.WithIDGenerator(opts.IDGenerator))
	}

	if cfg.Database != "" {
		slog.Info("opening database", "path", cfg.Database)
		st, err := store.Open(cfg.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing database", "error", closeErr)
			}
		}()
		sess := store.Session{
			ID:           uuid.Must(uuid.NewV7()).String(),
			StartedAt:    time.Now(),
			DocumentPath: cfg.Document,
		}
		if err := st.WriteSession(cmd.Context(), sess); err != nil {
			return WrapExitError(ExitCommandError, "failed to start session", err)
		}
		slog.Info("journaling session", "session", sess.ID, "snapshot_every", cfg.SnapshotEvery)
		engineOpts = append(engineOpts, engine.WithJournal(st, sess.ID, cfg.SnapshotEvery))
	}

	eng, err := engine.New(doc, engineOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	srv := server.New(eng, server.Options{
		Port:     cfg.Port,
		HTTPAddr: cfg.HTTPAddr,
		Document: cfg.Document,
		Watch:    cfg.Watch,
		Ready:    cmd.OutOrStdout(),
		Gatherer: metrics,
	})

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := srv.Run(ctx)

	// The loop has returned, so the document is ours again.
	if err := eng.Snapshot(context.Background()); err != nil {
		slog.Error("final snapshot failed", "error", err)
	}
	if cfg.DumpOnExit != "" {
		if err := dumpTo(doc, cfg.DumpOnExit); err != nil {
			slog.Error("dump on exit failed", "path", cfg.DumpOnExit, "error", err)
		} else {
			slog.Info("document dumped", "path", cfg.DumpOnExit)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return WrapExitError(ExitFailure, "server error", runErr)
	}
	slog.Info("server stopped gracefully")
	return nil
}

// dumpTo writes the XML dump of doc to path.
func dumpTo(doc *document.Document, path string) error {
	text, err := doc.XML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}
