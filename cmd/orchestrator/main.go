package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	kongyaml "github.com/alecthomas/kong-yaml"
	kongcompletion "github.com/jotaen/kong-completion"
	"github.com/posener/complete"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dyad/orchestrator/config"
)

// Context carries process-wide dependencies into each subcommand's Run
// method, the way cmd/sand's Context threads its sandboxer through.
type Context struct {
	Config config.Config
}

// CLI mirrors cmd/sand's CLI struct: a flat set of global flags plus one
// field per subcommand.
type CLI struct {
	LogFile  string `default:"" placeholder:"<log-file-path>" help:"location of log file (leave empty for stderr)"`
	LogLevel string `default:"info" placeholder:"<debug|info|warn|error>" help:"the logging level (debug, info, warn, error)"`

	Serve     ServeCmd     `cmd:"" help:"run the stream/preview HTTP server"`
	Container ContainerCmd `cmd:"" help:"inspect or manage a workspace container"`
	Doc       DocCmd       `cmd:"" help:"print complete command help formatted as markdown"`
	Version   VersionCmd   `cmd:"" help:"print version information about this command"`
}

func (c *CLI) initSlog() {
	var level slog.Level
	switch c.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w = os.Stderr
	var out interface {
		Write([]byte) (int, error)
	} = w
	if c.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(c.LogFile), 0o755); err != nil {
			panic(err)
		}
		out = &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
		}
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	slog.Info("slog initialized", "logFile", c.LogFile, "level", c.LogLevel)
}

const description = `Multi-tenant application sandbox orchestrator.

Runs per-tenant workspaces inside Docker or Podman containers, streams
AI model output through the stream processor, and exposes a reverse
proxy for each workspace's dev server.`

func main() {
	var cli CLI

	parser := kong.Must(&cli,
		kong.Configuration(kongyaml.Loader, ".orchestrator.yaml", "~/.orchestrator.yaml"),
		kong.Description(description),
		kong.UsageOnError(),
	)
	kongcompletion.Register(parser, kongcompletion.WithPredictor("path", complete.PredictFiles("*")))

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)
	cli.initSlog()

	cfg := config.Load()
	err = kctx.Run(&Context{Config: cfg})
	kctx.FatalIfErrorf(err)
}
