// Command vrc-l10n imports VRChat localization files, has a language model
// review the translations and exports its corrections to a spreadsheet.
//
// Usage:
//
//	vrc-l10n [-config path] sync|analyze|export
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kawashirov/vrc-localization-checker/analyze"
	"github.com/kawashirov/vrc-localization-checker/config"
	"github.com/kawashirov/vrc-localization-checker/credentials"
	"github.com/kawashirov/vrc-localization-checker/export"
	"github.com/kawashirov/vrc-localization-checker/gate"
	"github.com/kawashirov/vrc-localization-checker/l10nsync"
	"github.com/kawashirov/vrc-localization-checker/llm"
	"github.com/kawashirov/vrc-localization-checker/logging"
	"github.com/kawashirov/vrc-localization-checker/ratelimit"
	"github.com/kawashirov/vrc-localization-checker/shutdown"
	"github.com/kawashirov/vrc-localization-checker/store"
	"github.com/kawashirov/vrc-localization-checker/supervisor"
	"github.com/kawashirov/vrc-localization-checker/task"
	"github.com/kawashirov/vrc-localization-checker/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK    = 0
	exitUsage = 2
	exitSetup = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("vrc-l10n", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (.toml, .yml or .yaml); default: first of "+fmt.Sprint(config.DefaultPaths))
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: vrc-l10n [-config path] sync|analyze|export")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		return exitUsage
	}
	if *showVersion {
		fmt.Fprintln(stderr, "vrc-l10n", version)
		return exitOK
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	command := fs.Arg(0)

	cfg, err := loadConfig(*configPath, command)
	if err != nil {
		fmt.Fprintln(stderr, "vrc-l10n:", err)
		return exitSetup
	}

	log, err := logging.Setup(logging.Config{Level: cfg.LogLevel(), File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(stderr, "vrc-l10n:", err)
		return exitSetup
	}

	app, err := newApp(context.Background(), cfg, log)
	if err != nil {
		log.Error("Setup failed", logging.Fields{"command": command, "error": err.Error()})
		log.Close()
		return exitSetup
	}

	return app.sup.Run(context.Background(), command, func(ctx context.Context, t *task.Task) error {
		if err := app.openStore(ctx); err != nil {
			return err
		}
		body, err := app.pipeline(command)
		if err != nil {
			return err
		}
		return body(ctx, t)
	})
}

func loadConfig(path, command string) (*config.Config, error) {
	if path == "" {
		found, err := config.Find()
		if err != nil {
			return nil, err
		}
		path = found
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	creds, _, err := credentials.Load()
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	cfg.ResolveCredentials(creds)
	if err := cfg.ValidateFor(command); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app holds what every pipeline shares.
type app struct {
	cfg   *config.Config
	log   *logging.Logger
	sup   *supervisor.Supervisor
	store *store.Store
}

func newApp(ctx context.Context, cfg *config.Config, log *logging.Logger) (*app, error) {
	tcfg := cfg.Telemetry
	tcfg.ServiceVersion = version
	tp, err := telemetry.Setup(ctx, tcfg)
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}

	sup, err := supervisor.New(cfg.SupervisorConfig(), log, supervisor.WithTracer(tp.Tracer()))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	sup.OnExit("telemetry", shutdown.PhaseTelemetry, tp.Shutdown)
	sup.OnExit("logging", shutdown.PhaseLogging, func(context.Context) error { return log.Close() })

	return &app{cfg: cfg, log: log, sup: sup}, nil
}

// openStore opens and migrates the database. It runs inside the root task,
// so a failure here still drains and runs every exit hook.
func (a *app) openStore(ctx context.Context) error {
	dbGate, err := a.sup.Gates().Get(gate.DatabaseConnection)
	if err != nil {
		return err
	}
	st, err := store.Open(a.cfg.DBPath, dbGate, a.log.WithComponent("store"))
	if err != nil {
		return err
	}
	a.store = st
	a.sup.OnExit("store", shutdown.PhaseStorage, func(context.Context) error { return st.Close() })

	v, err := st.Version(ctx)
	if err != nil {
		return err
	}
	a.log.Info("Opened database", logging.Fields{"path": a.cfg.DBPath, "sqlite": v, "run_id": a.sup.RunID()})
	return st.Migrate(ctx)
}

// pipeline returns the root task body of command.
func (a *app) pipeline(command string) (task.Body, error) {
	switch command {
	case "sync":
		s, err := l10nsync.New(a.cfg.LocalizationFolder, a.store, a.sup.Gates())
		if err != nil {
			return nil, err
		}
		a.log.Info("Syncing localization", logging.Fields{"root": s.Root()})
		return s.Body(), nil

	case "analyze":
		provider, err := llm.NewProvider(a.cfg.LLM)
		if err != nil {
			return nil, err
		}
		if tp, ok := provider.(*llm.TracingProvider); ok {
			if c, ok := tp.Unwrap().(io.Closer); ok {
				a.sup.OnExit("llm", shutdown.PhaseStorage, func(context.Context) error { return c.Close() })
			}
		}

		limiter := ratelimit.NewMemoryLimiter()
		limiter.SetLogger(a.log.WithComponent("ratelimit"))
		if err := ratelimit.PerMinute(limiter, analyze.Resource, a.cfg.LLM.RequestsPerMinute); err != nil {
			return nil, err
		}
		a.sup.OnExit("ratelimit", shutdown.PhaseStorage, func(context.Context) error { return limiter.Close() })

		an, err := analyze.New(analyze.Config{
			SourceLang:     a.cfg.Analyze.SourceLang,
			TargetLang:     a.cfg.Analyze.TargetLang,
			ModelID:        a.cfg.LLM.Model,
			BatchSize:      a.cfg.Analyze.BatchSize,
			MinSuggestions: a.cfg.Analyze.MinSuggestions,
			MaxTokens:      a.cfg.LLM.MaxTokens,
			IncludeExtra:   a.cfg.Analyze.IncludeExtra,
		}, a.store, provider, limiter, a.sup.Gates())
		if err != nil {
			return nil, err
		}
		return an.Body(), nil

	case "export":
		ex, err := export.New(export.Config{
			SpreadsheetID: a.cfg.Export.SpreadsheetID,
			ModelID:       a.cfg.Export.ModelID,
			Worksheet:     a.cfg.Export.Worksheet,
			StartCell:     a.cfg.Export.StartCell,
		}, a.store, export.NewGoogleSheets(a.cfg.Export.Keyfile))
		if err != nil {
			return nil, err
		}
		return ex.Body(), nil
	}
	return nil, fmt.Errorf("unknown command %q", command)
}
