// Package main is the entry point for the streaming gateway.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vyrodovalexey/streamgw/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// exitFunc terminates the process; tests replace it.
var exitFunc = os.Exit

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		exitFunc(2)
		return
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	cfg, err := loadAndValidateConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		exitFunc(1)
		return
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		exitFunc(1)
		return
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting streamgw",
		observability.String("version", version),
		observability.String("config", flags.configPath),
		observability.String("summary", cfg.String()),
	)

	app := initApplication(cfg, logger)
	if app == nil {
		return
	}

	runGateway(app, flags.configPath, logger)
}

// parseFlags parses command line flags. Flags left empty defer to the
// configuration file and environment.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("streamgw", flag.ContinueOnError)

	var flags cliFlags
	fs.StringVar(&flags.configPath, "config", getEnvOrDefault("GATEWAY_CONFIG_PATH", ""),
		"Path to configuration file (defaults and environment only when empty)")
	fs.StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	fs.StringVar(&flags.logFormat, "log-format", "", "Log format override (json, console)")
	fs.BoolVar(&flags.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return flags, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "streamgw version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// fatalWithSync logs at error level, flushes the logger and exits.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	logger.Error(msg, fields...)
	_ = logger.Sync()
	exitFunc(1)
}
