package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/core-tools/hsu-pilot/pkg/history"
	"github.com/core-tools/hsu-pilot/pkg/logging"
	"github.com/core-tools/hsu-pilot/pkg/pilot"
	"github.com/core-tools/hsu-pilot/pkg/sessionlock"
	"github.com/core-tools/hsu-pilot/pkg/telemetry"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config      string `short:"c" long:"config" description:"path to the configuration file" default:"config.yaml"`
	LogLevel    string `long:"log-level" description:"log level, overrides settings.log_level" choice:"debug" choice:"info" choice:"warn" choice:"error"`
	LogFormat   string `long:"log-format" description:"log format" choice:"console" choice:"json" default:"console"`
	Validate    bool   `long:"validate" description:"validate the configuration and exit"`
	List        bool   `long:"list" description:"list the machines of the cluster and exit"`
	Node        string `long:"node" description:"restrict --list to one node"`
	Stop        bool   `long:"stop" description:"shut the configured machines down in reverse dependency order"`
	MetricsFile string `long:"metrics-file" description:"write run metrics to this Prometheus textfile"`
	HistoryDB   string `long:"history-db" description:"directory of the run history database"`
	ShowHistory int    `long:"show-history" description:"print the last N runs from the history database and exit"`
	Trace       bool   `long:"trace" description:"print OpenTelemetry spans to stderr"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		if flags.WroteHelp(err) {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(opts))
}

func run(opts flagOptions) int {
	if opts.ShowHistory > 0 {
		return showHistory(opts)
	}

	config, err := pilot.LoadConfigFromFile(opts.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	applyFlagOverrides(&opts, config)

	if err := pilot.ValidateConfig(config); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		return 1
	}
	if opts.Validate {
		printSummary(os.Stdout, pilot.GetConfigSummary(config))
		return 0
	}

	zapLogger, flush, err := logging.NewZapLogger(logging.ZapConfig{
		Level:  config.Settings.LogLevel,
		Format: opts.LogFormat,
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer flush()
	logger := logging.NewLoggerFromZap(zapLogger, logPrefix("hsu-pilot"))

	shutdownTracing, err := telemetry.Setup(telemetry.Config{Enabled: opts.Trace, Output: os.Stderr, Pretty: true})
	if err != nil {
		logger.Errorf("Failed to set up tracing: %v", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warnf("Failed to flush traces: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !opts.List {
		lock, err := sessionlock.Acquire(sessionlock.Config{
			Path:           config.Settings.LockFile,
			ServiceContext: sessionlock.UserService,
		}, logger)
		if err != nil {
			logger.Errorf("Failed to acquire session lock: %v", err)
			return 1
		}
		defer lock.Release()
	}

	runnerOptions := pilot.RunnerOptions{}
	if path := config.Settings.HistoryPath; path != "" && !opts.List && !opts.Stop {
		store, err := history.Open(history.Options{Path: path})
		if err != nil {
			logger.Errorf("Failed to open run history: %v", err)
			return 1
		}
		defer store.Close()
		runnerOptions.History = store
	}

	runner, err := pilot.NewRunner(config, runnerOptions, logger)
	if err != nil {
		logger.Errorf("Failed to create runner: %v", err)
		return 1
	}

	switch {
	case opts.List:
		infos, err := runner.List(ctx, opts.Node)
		if err != nil {
			logger.Errorf("Failed to list machines: %v", err)
			return 1
		}
		printMachines(os.Stdout, infos)

	case opts.Stop:
		result, err := runner.Stop(ctx)
		if result != nil {
			printShutdown(os.Stdout, result)
		}
		if err != nil {
			logger.Errorf("Shutdown failed: %v", err)
			return 1
		}

	default:
		logger.Infof("Using CONFIGURATION FILE: %s", opts.Config)
		if _, err := runner.Run(ctx); err != nil {
			logger.Errorf("Startup failed: %v", err)
			return 1
		}
	}

	return 0
}

func applyFlagOverrides(opts *flagOptions, config *pilot.Config) {
	if opts.LogLevel != "" {
		config.Settings.LogLevel = opts.LogLevel
	}
	if opts.MetricsFile != "" {
		config.Settings.MetricsFile = opts.MetricsFile
	}
	if opts.HistoryDB != "" {
		config.Settings.HistoryPath = opts.HistoryDB
	}
}

func showHistory(opts flagOptions) int {
	path := opts.HistoryDB
	if path == "" {
		config, err := pilot.LoadConfigFromFile(opts.Config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			return 1
		}
		path = config.Settings.HistoryPath
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "History database is not configured, use --history-db")
		return 1
	}

	store, err := history.Open(history.Options{Path: path})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run history: %v\n", err)
		return 1
	}
	defer store.Close()

	runs, err := store.Latest(context.Background(), opts.ShowHistory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read run history: %v\n", err)
		return 1
	}
	printHistory(os.Stdout, runs)
	return 0
}
