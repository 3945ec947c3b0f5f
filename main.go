package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	guardcli "github.com/doraemonkeys/sloc-guard/internal/cli"
	"github.com/doraemonkeys/sloc-guard/internal/render"
)

// Version information (set during build)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// parseLogLevel reads the LOG_LEVEL environment variable, defaulting to warn.
func parseLogLevel() logrus.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.WarnLevel
	}
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(parseLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	return logger
}

func main() {
	// A local .env can hold SLOC_GUARD_* overrides; absence is fine.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	app := &guardcli.App{Logger: logger}

	checkFlags := []cli.Flag{
		&cli.IntFlag{Name: "max-lines", Usage: "override the global line limit"},
		&cli.IntFlag{Name: "max-files", Usage: "override the per-directory file limit"},
		&cli.IntFlag{Name: "max-subdirs", Usage: "override the per-directory subdirectory limit"},
		&cli.StringSliceFlag{Name: "include", Usage: "only check paths matching `GLOB`"},
		&cli.StringSliceFlag{Name: "exclude", Usage: "additionally exclude paths matching `GLOB`"},
		&cli.StringSliceFlag{Name: "ext", Usage: "only check files with `EXT`"},
		&cli.BoolFlag{Name: "count-comments", Usage: "count comment lines against the limit"},
		&cli.BoolFlag{Name: "count-blank", Usage: "count blank lines against the limit"},
		&cli.Float64Flag{Name: "warn-threshold", Usage: "warn at `FRACTION` of the limit"},
		&cli.StringFlag{Name: "format", Value: "text", Usage: "output format: " + strings.Join(render.Formats, ", ")},
		&cli.StringFlag{Name: "output", Usage: "write the report to `PATH` instead of stdout"},
		&cli.BoolFlag{Name: "warn-only", Usage: "never exit non-zero for findings"},
		&cli.BoolFlag{Name: "strict", Usage: "treat warnings as failures"},
		&cli.StringFlag{Name: "diff", Usage: "only check files changed since `REF` (or REF..REF)"},
		&cli.StringFlag{Name: "baseline", Usage: "baseline file `PATH`"},
		&cli.StringFlag{Name: "update-baseline", Usage: "record current failures: all, content, structure or new"},
		&cli.BoolFlag{Name: "no-cache", Usage: "disable the result cache"},
		&cli.BoolFlag{Name: "no-gitignore", Usage: "ignore .gitignore files while scanning"},
		&cli.BoolFlag{Name: "suggest", Usage: "attach advice to warnings and failures"},
		&cli.StringFlag{Name: "report-json", Usage: "also write a JSON report to `PATH`"},
	}

	cliApp := &cli.App{
		Name:    "sloc-guard",
		Usage:   "enforce line and directory budgets over a source tree",
		Version: Version + " (" + Commit + ", " + BuildDate + ")",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "config file `PATH`"},
			&cli.BoolFlag{Name: "no-config", Usage: "ignore config files, use built-in defaults"},
			&cli.BoolFlag{Name: "no-extends", Usage: "ignore the extends chain"},
			&cli.StringFlag{Name: "extends-policy", Value: "normal", Usage: "remote config policy: normal, offline or refresh"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "errors only"},
			&cli.StringFlag{Name: "color", Value: "auto", Usage: "colour output: auto, always or never"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				logger.SetLevel(logrus.DebugLevel)
			}
			if c.Bool("quiet") {
				logger.SetLevel(logrus.ErrorLevel)
			}
			return guardcli.SetupColor(c.String("color"))
		},
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "check a tree against its budgets",
				ArgsUsage: "[path]",
				Flags:     checkFlags,
				Action:    app.Check,
			},
			{
				Name:      "stats",
				Usage:     "report line counts and breakdowns",
				ArgsUsage: "[path]",
				Flags:     checkFlags,
				Action:    app.Stats,
			},
			{
				Name:      "explain",
				Usage:     "show which rule applies to a path and why",
				ArgsUsage: "path",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Value: "text", Usage: "output format: text or json"},
				},
				Action: app.Explain,
			},
			{
				Name:      "snapshot",
				Usage:     "record a trend snapshot of the current counts",
				ArgsUsage: "[path]",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "label", Usage: "label for the snapshot"},
				}, checkFlags...),
				Action: app.Snapshot,
			},
			{
				Name:   "init",
				Usage:  "write a starter .sloc-guard.toml",
				Action: app.Init,
			},
			{
				Name:      "watch",
				Usage:     "re-run check whenever files change",
				ArgsUsage: "[path]",
				Flags:     checkFlags,
				Action:    app.Watch,
			},
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		// cli.Exit errors already carried their message and code.
		if _, ok := err.(cli.ExitCoder); !ok {
			logger.Error(err)
			os.Exit(2)
		}
	}
}
