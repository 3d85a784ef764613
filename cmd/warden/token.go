package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/gateway/auth"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a signed JWT for the HTTP and WebSocket gateways",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

func runToken(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	hc := cfg.Gateways.HTTP
	if hc == nil || hc.JWTSecret == "" {
		return fmt.Errorf("gateways.http.jwt_secret is not configured")
	}
	token, err := auth.New(nil, hc.JWTSecret, hc.JWTIssuer).Issue(args[0], tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
