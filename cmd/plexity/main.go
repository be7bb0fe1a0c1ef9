package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teilomillet/plexity/config"
	"github.com/teilomillet/plexity/errors"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	inputFile  = flag.String("input", "", "Path to the input JSON file, overrides actor.input_path")
	validate   = flag.Bool("validate", false, "Validate configuration and exit")
	version    = flag.Bool("version", false, "Print version and exit")
	watch      = flag.Bool("watch", false, "Run again whenever the input file changes")
)

const Version = "v0.1.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("plexity %s\n", Version)
		os.Exit(0)
	}

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *inputFile != "" {
		cfg.Actor.InputPath = *inputFile
	}

	if *validate {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	errors.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, cfg, *watch, logger)
	stop()

	if syncErr := logger.Sync(); syncErr != nil && code == 0 {
		logger.Debug("failed to sync logger", zap.Error(syncErr))
	}
	os.Exit(code)
}
