// Warden is a PIN-gated action dispatcher for a voice-driven desktop assistant.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden: PIN-gated action dispatcher for desktop assistants.",
	Long: `Warden receives structured action requests from a voice or text front end,
classifies each one as safe or dangerous, and executes it. Dangerous actions
are held until the user confirms them with a PIN. Every decision is written to
an append-only audit trail.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath(), "path to config file (or WARDEN_CONFIG env)")
	rootCmd.AddCommand(serveCmd, shellCmd, submitCmd, pinCmd, auditCmd, tokenCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
