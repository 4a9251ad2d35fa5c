// Package main implements the toolquery CLI, which filters and searches a
// tool catalog file.
//
// Usage:
//
//	toolquery --catalog tools.yaml filter --tags comm
//	toolquery --catalog tools.json search --query "send message" --limit 5
//	toolquery --catalog tools.yaml namespaces
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version information (set via ldflags during build)
var version = "dev"

// globalFlags are the flags accepted before the command name.
type globalFlags struct {
	catalog  string
	config   string
	logLevel string
	json     bool
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("toolquery", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)

	var g globalFlags
	showVersion := fs.Bool("version", false, "Show version and exit")
	fs.StringVarP(&g.catalog, "catalog", "c", "", "Catalog file (JSON or YAML list of tools)")
	fs.StringVar(&g.config, "config", "", "Engine configuration file (YAML)")
	fs.StringVar(&g.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	fs.BoolVar(&g.json, "json", false, "Write results as JSON")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage:
  toolquery [global options] <command> [options]

Commands:
  filter       List the records matching structured criteria
  search       Rank and paginate the matching records
  namespaces   List the namespaces of the catalog

Global options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "toolquery %s\n", version)
		return 0
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	logger, err := newLogger(g.logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "toolquery: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	var runCmd func(context.Context, *env, []string) error
	switch cmd {
	case "filter":
		runCmd = runFilter
	case "search":
		runCmd = runSearch
	case "namespaces":
		runCmd = runNamespaces
	default:
		fmt.Fprintf(stderr, "toolquery: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}

	e, err := setup(g, logger, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "toolquery: %v\n", err)
		return 1
	}
	defer e.engine.Close()

	if err := runCmd(ctx, e, cmdArgs); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		logger.Debug("command failed", zap.String("command", cmd), zap.Error(err))
		fmt.Fprintf(stderr, "toolquery: %v\n", err)
		return 1
	}
	return 0
}

var encoderConfig = zapcore.EncoderConfig{
	TimeKey:        "ts",
	LevelKey:       "lvl",
	NameKey:        "name",
	MessageKey:     "message",
	StacktraceKey:  "stacktrace",
	LineEnding:     zapcore.DefaultLineEnding,
	EncodeLevel:    zapcore.CapitalLevelEncoder,
	EncodeTime:     zapcore.RFC3339TimeEncoder,
	EncodeDuration: zapcore.StringDurationEncoder,
}

// newLogger writes console-encoded logs at level and above to w.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		lvl,
	)), nil
}
