package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/jorge-barreto/synthflow/internal/config"
	"github.com/jorge-barreto/synthflow/internal/docs"
	"github.com/jorge-barreto/synthflow/internal/doctor"
	"github.com/jorge-barreto/synthflow/internal/event"
	"github.com/jorge-barreto/synthflow/internal/evidence"
	"github.com/jorge-barreto/synthflow/internal/generation"
	"github.com/jorge-barreto/synthflow/internal/gmf"
	"github.com/jorge-barreto/synthflow/internal/llm"
	"github.com/jorge-barreto/synthflow/internal/logging"
	"github.com/jorge-barreto/synthflow/internal/mcp"
	"github.com/jorge-barreto/synthflow/internal/metrics"
	"github.com/jorge-barreto/synthflow/internal/pipeline"
	"github.com/jorge-barreto/synthflow/internal/scaffold"
	"github.com/jorge-barreto/synthflow/internal/state"
	"github.com/jorge-barreto/synthflow/internal/tools"
	"github.com/jorge-barreto/synthflow/internal/tracing"
	"github.com/jorge-barreto/synthflow/internal/ux"
)

var version = "dev"

// errInvalid makes the process exit non-zero after output was already printed.
var errInvalid = errors.New("module is invalid")

func main() {
	app := &cli.Command{
		Name:        "synthflow",
		Usage:       "Evidence-grounded Synthea module generator",
		Version:     version,
		Description: "Run 'synthflow docs' for documentation on config, tools, the pipeline and the module grammar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "Path to config.yaml (default: nearest .synthflow/config.yaml)"},
		},
		Commands: []*cli.Command{
			initCmd(),
			runCmd(),
			chatCmd(),
			validateCmd(),
			toolsCmd(),
			toolCmd(),
			serveCmd(),
			doctorCmd(),
			docsCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		if !errors.Is(err, errInvalid) {
			ux.Error(os.Stderr, err.Error())
		}
		os.Exit(1)
	}
}

// env is what every command that talks to a model or a tool needs.
type env struct {
	root       string
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
	registry   *tools.Registry
	closers    []func() error
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.logger.Sync()
}

// loadConfig resolves the config file from --config or the nearest project
// root. Relative artifact paths are anchored at the project root.
func loadConfig(cmd *cli.Command) (root, path string, cfg *config.Config, err error) {
	path = cmd.String("config")
	if path == "" {
		if root, err = findProjectRoot(); err == nil {
			path = config.Path(root)
		} else if root, err = os.Getwd(); err != nil {
			return "", "", nil, err
		}
	} else {
		root = filepath.Dir(filepath.Dir(path))
	}
	cfg, err = config.Load(path)
	if err != nil {
		return "", "", nil, fmt.Errorf("loading config: %w", err)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		path = ""
	}
	if !filepath.IsAbs(cfg.ArtifactsDir) {
		cfg.ArtifactsDir = filepath.Join(root, cfg.ArtifactsDir)
	}
	return root, path, cfg, nil
}

func setup(ctx context.Context, cmd *cli.Command, logTo io.Writer) (*env, error) {
	root, path, cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, logTo)
	if err != nil {
		return nil, err
	}
	e := &env{root: root, configPath: path, cfg: cfg, logger: logger}

	shutdown, err := tracing.Init(ctx, cfg.Tracing, version, logging.Component(logger, "tracing"))
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
	} else {
		e.closers = append(e.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(sctx)
		})
	}

	if cfg.Metrics.Addr != "" {
		mctx, cancel := context.WithCancel(ctx)
		e.closers = append(e.closers, func() error { cancel(); return nil })
		go func() {
			if err := metrics.Serve(mctx, cfg.Metrics.Addr, logging.Component(logger, "metrics")); err != nil {
				logger.Warn("Metrics listener stopped", zap.Error(err))
			}
		}()
	}

	toolLogger := logging.Component(logger, "tools")
	cache, closeCache := tools.OpenCache(ctx, cfg.Tools.Cache, toolLogger)
	e.closers = append(e.closers, closeCache)
	e.registry, err = tools.NewDefaultRegistry(cfg, cache, toolLogger)
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// orchestrator builds a pipeline for one run with the given sink.
func (e *env) orchestrator(model llm.Model, sink event.Sink, runID string) *pipeline.Orchestrator {
	return &pipeline.Orchestrator{
		Registry: e.registry,
		Planner:  &evidence.ModelPlanner{Model: model},
		Drafter:  &generation.ModelDrafter{Model: model},
		Limits: evidence.Limits{
			MaxToolCalls:        e.cfg.Evidence.MaxToolCalls,
			MaxObservationChars: e.cfg.Evidence.MaxObservationChars,
		},
		MaxAttempts: e.cfg.Generation.MaxAttempts,
		Sink:        sink,
		Logger:      logging.Component(e.logger, "pipeline"),
		NewID:       func() string { return runID },
	}
}

type runOptions struct {
	out     string
	events  string
	save    bool
	verbose bool
}

// runOnce executes one request and prints its outcome. The returned error is
// the run's abort cause, if any.
func (e *env) runOnce(ctx context.Context, model llm.Model, request string, opts runOptions) error {
	runID := uuid.NewString()
	sinks := []event.Sink{ux.NewRenderer(os.Stdout, opts.verbose)}

	if opts.events != "" {
		f, err := os.Create(opts.events)
		if err != nil {
			return fmt.Errorf("opening events file: %w", err)
		}
		defer f.Close()
		sinks = append(sinks, event.NewJSONLines(f))
	}
	if opts.save {
		if err := os.MkdirAll(state.RunDir(e.cfg.ArtifactsDir, runID), 0755); err != nil {
			return fmt.Errorf("creating run directory: %w", err)
		}
		f, err := os.Create(state.EventsPath(e.cfg.ArtifactsDir, runID))
		if err != nil {
			return fmt.Errorf("opening events log: %w", err)
		}
		defer f.Close()
		sinks = append(sinks, event.NewJSONLines(f))
	}

	start := time.Now()
	res, runErr := e.orchestrator(model, event.Multi(sinks...), runID).Run(ctx, request)

	dir := ""
	if opts.save {
		out := state.RunOutput{
			RunID:    res.RunID,
			Request:  request,
			Status:   res.Status,
			Evidence: res.Evidence,
			Records:  res.Records,
			Timing:   res.Timing,
		}
		if runErr != nil {
			out.Error = runErr.Error()
		}
		if res.Artifact != nil {
			out.Module = res.Artifact.Module
		}
		d, err := state.WriteRun(e.cfg.ArtifactsDir, out)
		if err != nil {
			e.logger.Warn("Saving run failed", zap.Error(err))
		} else {
			dir = d
		}
	}

	if res.Artifact != nil && opts.out != "" {
		if err := writeModule(opts.out, res.Artifact.Module); err != nil {
			return err
		}
	}
	ux.RenderResult(os.Stdout, res, time.Since(start), dir)

	if runErr != nil {
		if dir == "" {
			ux.Hint(os.Stdout, "Hint", "rerun with --save to keep the audit trail for 'synthflow doctor'")
		} else {
			ux.Hint(os.Stdout, "Hint", "run 'synthflow doctor --diagnose' to explain this failure")
		}
		return runErr
	}
	if opts.out == "" && !opts.verbose {
		fmt.Println(string(res.Artifact.Module))
	}
	return nil
}

func writeModule(path string, module json.RawMessage) error {
	var v any
	if err := json.Unmarshal(module, &v); err != nil {
		return fmt.Errorf("writing module: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("writing module: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "pdf-dir", Usage: "Local folder of PDFs or text files the evidence stage may read"},
		&cli.StringFlag{Name: "events", Usage: "Write the event stream to FILE as JSON lines"},
		&cli.BoolFlag{Name: "save", Usage: "Save the run under the artifacts directory"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Print reasoning and outputs in full"},
	}
}

func optionsFrom(cmd *cli.Command) runOptions {
	return runOptions{
		out:     cmd.String("out"),
		events:  cmd.String("events"),
		save:    cmd.Bool("save"),
		verbose: cmd.Bool("verbose"),
	}
}

// withFolder tells the evidence stage about a local document folder.
func withFolder(request, dir string) string {
	if dir == "" {
		return request
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return fmt.Sprintf("%s\n\nLocal documents are available in the folder %s", request, dir)
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Gather evidence and generate a module for one request",
		ArgsUsage: "<request...>",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write the accepted module to FILE"},
		}, runFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			request := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
			if request == "" {
				return fmt.Errorf("request argument is required")
			}
			e, err := setup(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			model, err := llm.New(e.cfg, logging.Component(e.logger, "llm"))
			if err != nil {
				return err
			}
			return e.runOnce(ctx, model, withFolder(request, cmd.String("pdf-dir")), optionsFrom(cmd))
		},
	}
}

func chatCmd() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive session; each line is an independent run",
		Flags: runFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()
			model, err := llm.New(e.cfg, logging.Component(e.logger, "llm"))
			if err != nil {
				return err
			}

			opts := optionsFrom(cmd)
			fmt.Println("Describe a disease to model. Type 'exit' to leave.")
			in := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("you> ")
				if !in.Scan() {
					fmt.Println()
					return in.Err()
				}
				line := strings.TrimSpace(in.Text())
				switch strings.ToLower(line) {
				case "":
					continue
				case "exit", "quit":
					return nil
				}
				if err := e.runOnce(ctx, model, withFolder(line, cmd.String("pdf-dir")), opts); err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					ux.Error(os.Stderr, err.Error())
				}
			}
		},
	}
}

func validateCmd() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a module file against the syntax and policy layers",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("file argument is required")
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			d := gmf.Validate(string(data))
			if d.Valid {
				fmt.Printf("✓ %s is valid\n", path)
				return nil
			}
			ux.Error(os.Stdout, fmt.Sprintf("%s failed the %s check", path, d.Layer))
			for _, p := range d.Problems {
				fmt.Printf("  - %s\n", p)
			}
			return errInvalid
		},
	}
}

func toolsCmd() *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "List the retrieval tools and their arguments",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()
			for _, s := range e.registry.Specs() {
				fmt.Printf("\n  %s\n    %s\n", s.Name, s.Description)
				for _, p := range s.Params {
					req := "optional"
					if p.Required {
						req = "required"
					}
					fmt.Printf("      %-16s %s, %s\n", p.Name, p.Type, req)
				}
			}
			fmt.Println()
			return nil
		},
	}
}

func toolCmd() *cli.Command {
	return &cli.Command{
		Name:      "tool",
		Usage:     "Invoke one retrieval tool and print its record",
		ArgsUsage: "<name> [key=value...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				return fmt.Errorf("tool name is required")
			}
			args, err := parseKeyValues(cmd.Args().Tail())
			if err != nil {
				return err
			}
			e, err := setup(ctx, cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := checkToolArgs(e.registry, name, args); err != nil {
				return err
			}
			rec := e.registry.Invoke(ctx, name, args)
			data, err := json.MarshalIndent(rec, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			if !rec.OK() {
				return errInvalid
			}
			return nil
		},
	}
}

// checkToolArgs rejects a call the registry would refuse, naming the tool's
// parameters so the user can correct the command line.
func checkToolArgs(reg *tools.Registry, name string, args map[string]any) error {
	if _, err := reg.Validate(name, args); err != nil {
		t, ok := reg.Lookup(name)
		if !ok {
			return fmt.Errorf("%w (run 'synthflow tools' to list them)", err)
		}
		var params []string
		for _, p := range t.Spec().Params {
			params = append(params, p.Name+"="+string(p.Type))
		}
		return fmt.Errorf("%w (usage: synthflow tool %s %s)", err, name, strings.Join(params, " "))
	}
	return nil
}

// parseKeyValues turns key=value pairs into tool arguments. Values stay
// strings; the registry converts integers.
func parseKeyValues(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("argument %q: expected key=value", kv)
		}
		out[k] = v
	}
	return out, nil
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the tools and validator over MCP (stdio)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			// stdout carries the protocol.
			e, err := setup(ctx, cmd, os.Stderr)
			if err != nil {
				return err
			}
			defer e.Close()
			return mcp.NewServer(e.registry, version, logging.Component(e.logger, "mcp")).Run(ctx)
		},
	}
}

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Check the environment, or diagnose a failed run using AI",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "diagnose", Usage: "Explain the most recent failed saved run"},
			&cli.StringFlag{Name: "run", Usage: "Run ID to diagnose (implies --diagnose)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, path, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if !cmd.Bool("diagnose") && cmd.String("run") == "" {
				checks := doctor.Checks(ctx, cfg, path)
				sort.SliceStable(checks, func(i, j int) bool { return !checks[i].Optional && checks[j].Optional })
				for _, c := range checks {
					mark := "✓"
					switch {
					case c.OK:
					case c.Optional:
						mark = "!"
					default:
						mark = "✗"
					}
					fmt.Printf("  %s %-14s %s\n", mark, c.Name, c.Detail)
				}
				if doctor.Failed(checks) {
					return errInvalid
				}
				return nil
			}

			runDir := doctor.LastFailedRun(cfg.ArtifactsDir)
			if id := cmd.String("run"); id != "" {
				runDir = state.RunDir(cfg.ArtifactsDir, id)
			}
			if runDir == "" {
				fmt.Println("No failed run to diagnose.")
				return nil
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, nil)
			if err != nil {
				return err
			}
			defer logger.Sync()
			model, err := llm.New(cfg, logging.Component(logger, "llm"))
			if err != nil {
				return err
			}
			return doctor.Diagnose(ctx, model, runDir, os.Stdout)
		},
	}
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize a new .synthflow/ directory with a starter config",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Value: "openai", Usage: "Model backend: openai or claude"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir, err := os.Getwd()
			if err != nil {
				return err
			}
			return scaffold.Init(dir, cmd.String("backend"), os.Stdout)
		},
	}
}

func docsCmd() *cli.Command {
	return &cli.Command{
		Name:      "docs",
		Usage:     "Show documentation",
		ArgsUsage: "[topic]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				fmt.Print("\nAvailable topics:\n\n")
				for _, t := range docs.All() {
					fmt.Printf("  %-14s %s\n", t.Name, t.Summary)
				}
				fmt.Println("\nRun 'synthflow docs <topic>' to read a topic.")
				return nil
			}
			t, err := docs.Get(name)
			if err != nil {
				return err
			}
			fmt.Println(t.Content)
			return nil
		},
	}
}

// findProjectRoot walks up from cwd looking for .synthflow/config.yaml.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(config.Path(dir)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s/config.yaml found (searched from cwd to root)", config.Dir)
		}
		dir = parent
	}
}
