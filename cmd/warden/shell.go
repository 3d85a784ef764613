package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/config"
	"github.com/jkaninda/warden/internal/gateway"
)

var shellNoColor bool

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Run the interactive REPL only, without network gateways",
	Long: `Start an interactive session against a local dispatcher.

Lines are either JSON requests or "kind key=value ..." shorthand:
  warden> read_file path=~/notes.txt
  warden> delete_file path="/tmp/old report.txt"
  warden> {"kind":"run_command","parameters":{"command":"uptime"}}

Dangerous actions prompt for the PIN. Leave the prompt blank to cancel.`,
	RunE: runShell,
}

func init() {
	shellCmd.Flags().BoolVar(&shellNoColor, "no-color", false, "disable styled output")
}

func runShell(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	rt, err := buildRuntime(ctx, sc)
	if err != nil {
		return err
	}
	defer rt.Close()

	if shellNoColor {
		if cfg.Gateways.CLI == nil {
			cfg.Gateways.CLI = &config.CLIGatewayConfig{}
		}
		cfg.Gateways.CLI.NoColor = true
	}
	return runGateways(ctx, []gateway.Gateway{newCLIGateway(cfg, rt, sc)}, logger)
}
