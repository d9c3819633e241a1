// Package cli implements the rdb2redis command-line entrypoint.
package cli

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"df2redis/internal/check"
	"df2redis/internal/config"
	"df2redis/internal/engine"
	"df2redis/internal/logger"
	"df2redis/internal/state"
)

// Execute dispatches CLI subcommands and returns a process exit code.
func Execute(args []string) int {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[rdb2redis] ")

	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "migrate":
		return runMigrate(args[1:])
	case "replicate":
		return runReplicate(args[1:])
	case "check":
		return runCheck(args[1:])
	case "status":
		return runStatus(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version", "-v":
		fmt.Println("rdb2redis 0.1.0-dev")
		return 0
	default:
		log.Printf("unknown subcommand: %s", args[0])
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println(`rdb2redis - RDB and replication-stream migration engine

Usage:
  rdb2redis migrate   -config <file> [--dry-run]
  rdb2redis replicate -config <file>
  rdb2redis check     -config <file> [-mode outline|full]
  rdb2redis status    -config <file>
  rdb2redis version`)
}

func loadConfig(args []string, fsName string) (*config.Config, *flag.FlagSet, error) {
	fs := flag.NewFlagSet(fsName, flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath string
	fs.StringVar(&configPath, "config", "", "configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "configuration file path (YAML)")
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	if configPath == "" {
		fs.Usage()
		return nil, fs, fmt.Errorf("the -config flag is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fs, err
	}
	return cfg, fs, nil
}

func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath string
	var dryRun bool
	fs.StringVar(&configPath, "config", "", "configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "configuration file path (YAML)")
	fs.BoolVar(&dryRun, "dry-run", false, "connect, decode and route every event, but send no writes to the target")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}
	if configPath == "" {
		log.Println("the -config flag is required")
		fs.Usage()
		return 2
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 2
	}
	if dryRun {
		cfg.Migrate.DryRun = true
	}
	log.Printf("config loaded:\n%s", cfg.Summary())

	if err := os.MkdirAll(cfg.LogDir(), 0o755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return 1
	}
	lg, err := logger.New(cfg.LogDir(), parseLogLevel(cfg.Log.Level), cfg.Log.Prefix)
	if err != nil {
		log.Printf("failed to initialize logging: %v", err)
		return 1
	}
	defer lg.Close()

	if err := os.MkdirAll(cfg.StateDir(), 0o755); err != nil {
		lg.Errorf("failed to create state directory: %v", err)
		return 1
	}
	store := state.NewStore(cfg.StatusFilePath())
	_ = store.SetPipelineStatus("starting", "preparing migration")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, lg, store)
	lg.Console("migration starting: %s -> %s", cfg.Source.Path, cfg.Target.Addr)
	if err := eng.Run(ctx); err != nil {
		lg.Errorf("migration failed: %v", err)
		_ = store.SetPipelineStatus("failed", err.Error())
		return 1
	}
	lg.Console("migration completed successfully")
	_ = store.SetPipelineStatus("completed", "")
	return 0
}

func runReplicate(args []string) int {
	cfg, _, err := loadConfig(args, "replicate")
	if err != nil {
		return errorToExitCode(err)
	}
	if cfg.Source.Type != "replica" {
		log.Println("replicate requires source.type: replica in the config file")
		return 2
	}
	log.Println("live replication-stream following is not implemented by this build; use migrate against an RDB snapshot instead")
	return 1
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	var configPath, mode string
	fs.StringVar(&configPath, "config", "", "configuration file path (YAML)")
	fs.StringVar(&configPath, "c", "", "configuration file path (YAML)")
	fs.StringVar(&mode, "mode", "", "outline|full (defaults to config value)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}
	if configPath == "" {
		fs.Usage()
		return 2
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 2
	}

	checkerCfg := check.Config{
		SourceAddr:     sourceAddrForCheck(cfg),
		TargetAddr:     cfg.Target.Addr,
		TargetPassword: cfg.Target.AuthPassword,
	}
	if checkerCfg.SourceAddr == "" {
		log.Println("check requires source.addr: there is no live source server to compare against")
		return 2
	}
	switch mode {
	case "full":
		checkerCfg.Mode = check.ModeFull
	case "outline", "":
		checkerCfg.Mode = check.ModeOutline
	default:
		log.Printf("unknown -mode %q, expected outline or full", mode)
		return 2
	}

	c, err := check.New(checkerCfg)
	if err != nil {
		log.Printf("failed to initialize checker: %v", err)
		return 1
	}
	defer c.Close()

	res, err := c.Run(context.Background())
	if err != nil {
		log.Printf("check failed: %v", err)
		return 1
	}

	fmt.Printf("keys compared: %d, source-only: %d, inconsistent: %d, duration: %s\n",
		res.KeysCompared, res.SourceOnlyKeys, res.InconsistentKeys, res.Duration)
	for _, s := range res.Samples {
		fmt.Printf("  %s: %s\n", s.Key, s.Reason)
	}

	store := state.NewStore(cfg.StatusFilePath())
	status := "ok"
	if res.InconsistentKeys > 0 {
		status = "inconsistent"
	}
	_ = store.SaveCheckResult(state.CheckResult{
		Status:           status,
		Mode:             string(checkerCfg.Mode),
		InconsistentKeys: int(res.InconsistentKeys),
		DurationSeconds:  res.Duration.Seconds(),
	})

	if res.InconsistentKeys > 0 {
		return 1
	}
	return 0
}

// sourceAddrForCheck resolves the address to compare against when the
// source was an RDB file rather than a live server: there is none, so
// check against source.addr when present and otherwise refuse.
func sourceAddrForCheck(cfg *config.Config) string {
	if cfg.Source.Addr != "" {
		return cfg.Source.Addr
	}
	return ""
}

func runStatus(args []string) int {
	cfg, _, err := loadConfig(args, "status")
	if err != nil {
		return errorToExitCode(err)
	}
	store := state.NewStore(cfg.StatusFilePath())
	snap, err := store.Load()
	if err != nil {
		log.Printf("failed to read status: %v", err)
		return 1
	}
	fmt.Printf("pipeline status: %s\n", snap.PipelineStatus)
	for name, stage := range snap.Stages {
		fmt.Printf("  stage %-10s %-10s %s\n", name, stage.Status, stage.Message)
	}
	for k, v := range snap.Metrics {
		fmt.Printf("  metric %s = %v\n", k, v)
	}
	if snap.Check != nil {
		fmt.Printf("  last check: %s (%d inconsistent keys)\n", snap.Check.Status, snap.Check.InconsistentKeys)
	}
	return 0
}

func errorToExitCode(err error) int {
	if err == nil {
		return 0
	}
	log.Printf("%v", err)
	return 2
}

func parseLogLevel(s string) logger.Level {
	switch s {
	case "debug":
		return logger.DEBUG
	case "warn":
		return logger.WARN
	case "error":
		return logger.ERROR
	default:
		return logger.INFO
	}
}
