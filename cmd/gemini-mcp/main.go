package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/roelfdiedericks/gemini-mcp/internal/config"
	"github.com/roelfdiedericks/gemini-mcp/internal/files"
	"github.com/roelfdiedericks/gemini-mcp/internal/gemini"
	. "github.com/roelfdiedericks/gemini-mcp/internal/logging"
	"github.com/roelfdiedericks/gemini-mcp/internal/mcpserver"
	"github.com/roelfdiedericks/gemini-mcp/internal/paths"
	"github.com/roelfdiedericks/gemini-mcp/internal/tokens"
)

const version = "0.1.0"

// CLI is the root command.
type CLI struct {
	ConfigPath string `name:"config" short:"c" type:"path" help:"Config file (default: ./gemini-mcp.toml, then ~/.gemini-mcp/)"`
	Debug      bool   `help:"Enable debug logging"`
	Trace      bool   `help:"Enable trace logging"`

	Serve   ServeCmd   `cmd:"" default:"1" help:"Serve MCP tools over stdio"`
	Query   QueryCmd   `cmd:"" help:"Run one query and print the answer"`
	Config  ConfigCmd  `cmd:"" help:"Show the effective configuration or write a starter file"`
	Version VersionCmd `cmd:"" help:"Print version"`
}

// Globals is passed to every command's Run.
type Globals struct {
	cli *CLI
}

// load reads the config and applies the log level unless a flag pinned it.
func (g *Globals) load() (*config.Config, string, error) {
	cfg, path, err := config.Load(g.cli.ConfigPath)
	if err != nil {
		return nil, path, err
	}
	if !g.levelFromFlags() {
		SetLevel(ParseLevel(cfg.Log.Level))
	}
	return cfg, path, nil
}

func (g *Globals) levelFromFlags() bool {
	return g.cli.Debug || g.cli.Trace
}

func engineSettings(cfg *config.Config) gemini.Settings {
	return gemini.Settings{
		Binary:     cfg.Gemini.Binary,
		Models:     cfg.Gemini.Models,
		Timeout:    cfg.Gemini.Timeout(),
		MaxRetries: cfg.Gemini.MaxRetries,
		RetryDelay: cfg.Gemini.RetryDelay(),
	}
}

// ServeCmd runs the MCP server.
type ServeCmd struct {
	NoWatch bool `help:"Do not reload the config file when it changes"`
}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, path, err := g.load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := gemini.NewEngine(engineSettings(cfg))
	srv := mcpserver.New("gemini-mcp", version, engine, cfg.Files, mcpserver.WithEstimator(tokens.Estimate))

	if path != "" && !c.NoWatch {
		w, err := config.NewWatcher(path, 0, func(nc *config.Config) {
			engine.SetSettings(engineSettings(nc))
			srv.SetFiles(nc.Files)
			if !g.levelFromFlags() {
				SetLevel(ParseLevel(nc.Log.Level))
			}
			L_info("config: applied", "models", nc.Gemini.Models, "timeout", nc.Gemini.Timeout())
		})
		if err != nil {
			L_warn("config: watcher unavailable, reload disabled", "error", err)
		} else {
			w.Start()
			defer w.Stop()
		}
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		L_warn("stdin is a terminal; serve speaks MCP over stdio and expects a client on the other end (try 'gemini-mcp query')")
	}

	L_info("gemini-mcp starting", "version", version, "config", path, "binary", cfg.Gemini.Binary)
	return srv.ServeStdio()
}

// QueryCmd runs the engine once from the command line.
type QueryCmd struct {
	Prompt  string   `arg:"" help:"Question or instruction"`
	Files   []string `name:"file" short:"f" type:"path" help:"File to include as context (repeatable)"`
	Globs   []string `name:"glob" short:"g" help:"Glob pattern to include, ** allowed (repeatable)"`
	Model   string   `short:"m" help:"Use exactly this model, no fallback"`
	Models  []string `sep:"," help:"Models to try in order"`
	Timeout int      `short:"t" help:"Per-attempt timeout in seconds"`
	Session string   `short:"r" help:"Resume a previous session"`
	DryRun  bool     `help:"Build the file context and report its size without calling the CLI"`
}

func (c *QueryCmd) Run(g *Globals) error {
	if c.Timeout < 0 {
		return fmt.Errorf("--timeout must not be negative, got %d", c.Timeout)
	}
	cfg, _, err := g.load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	resolved := files.Resolve(c.Files, c.Globs, cfg.Files.MaxFiles)
	built := files.BuildContext(resolved.Paths, files.Options{
		MaxBytes:   cfg.Files.MaxBytes,
		SkipBinary: cfg.Files.SkipBinary,
		Estimate:   tokens.Estimate,
	})

	if c.DryRun {
		fmt.Printf("files:     %d\n", built.Included)
		fmt.Printf("skipped:   %d\n", built.Skipped+resolved.Junk)
		fmt.Printf("size:      %s\n", humanize.Bytes(uint64(len(built.Text))))
		fmt.Printf("estTokens: %d\n", built.EstimatedTokens)
		fmt.Printf("truncated: %t\n", built.Truncated)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := gemini.NewEngine(engineSettings(cfg))
	fmt.Println(engine.Run(ctx, gemini.Request{
		Prompt:       c.Prompt,
		Context:      built.Text,
		Model:        c.Model,
		Models:       c.Models,
		Timeout:      time.Duration(c.Timeout) * time.Second,
		SessionID:    c.Session,
		SkippedFiles: built.Skipped + resolved.Junk,
	}))
	return nil
}

// ConfigCmd prints the effective config, or writes it out with --init.
type ConfigCmd struct {
	Init   bool   `help:"Write the effective config to a file"`
	Path   string `type:"path" help:"Target for --init (default ~/.gemini-mcp/gemini-mcp.toml)"`
	Force  bool   `help:"Overwrite an existing file"`
	Format string `enum:"toml,json" default:"toml" help:"Output format when printing"`
}

func (c *ConfigCmd) Run(g *Globals) error {
	cfg, path, err := g.load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if c.Init {
		target := c.Path
		if target == "" {
			target, err = paths.DataPath(paths.ConfigBaseName + ".toml")
			if err != nil {
				return err
			}
		}
		if err := config.Write(target, cfg, c.Force); err != nil {
			return err
		}
		fmt.Println(target)
		return nil
	}

	if path == "" {
		path = "none, using defaults"
	}
	fmt.Fprintf(os.Stderr, "# config: %s\n", path)
	return config.Encode(os.Stdout, cfg, c.Format)
}

// VersionCmd prints the version.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("gemini-mcp %s\n", version)
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("gemini-mcp"),
		kong.Description("MCP server that answers queries through the gemini CLI, with retries and model fallback."),
		kong.UsageOnError(),
	)

	level := LevelInfo
	switch {
	case cli.Trace:
		level = LevelTrace
	case cli.Debug:
		level = LevelDebug
	}
	Init(&Config{
		Level:      level,
		TimeFormat: "15:04:05",
	})

	err := kctx.Run(&Globals{cli: &cli})
	kctx.FatalIfErrorf(err)
}
