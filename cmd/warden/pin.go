package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/action"
	"github.com/jkaninda/warden/internal/audit"
	"github.com/jkaninda/warden/internal/credential"
	"github.com/jkaninda/warden/internal/gateway/cli"
)

var errPINMismatch = errors.New("PINs do not match")

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "Manage the confirmation PIN",
}

var pinSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set or replace the PIN (prompts twice; reads stdin when not a terminal)",
	RunE:  runPINSet,
}

var pinStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a PIN is configured",
	RunE:  runPINStatus,
}

var pinClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored PIN; dangerous actions are refused until a new one is set",
	RunE:  runPINClear,
}

func init() {
	pinCmd.AddCommand(pinSetCmd, pinStatusCmd, pinClearCmd)
}

// withShared loads config, opens storage and runs fn.
func withShared(fn func(ctx context.Context, sc *SharedComponents) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	sc, err := initShared(cfg, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}
	defer sc.Cleanup()
	return fn(context.Background(), sc)
}

func runPINSet(_ *cobra.Command, _ []string) error {
	var (
		pin string
		err error
	)
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		pin, err = promptNewPIN()
	} else {
		pin, err = readNewPIN(os.Stdin)
	}
	if err != nil {
		return err
	}
	return withShared(func(ctx context.Context, sc *SharedComponents) error {
		if err := changePIN(ctx, sc.Vault, sc.Audit, pin); err != nil {
			return err
		}
		fmt.Println("PIN updated.")
		return nil
	})
}

func runPINStatus(_ *cobra.Command, _ []string) error {
	return withShared(func(ctx context.Context, sc *SharedComponents) error {
		ok, err := sc.Vault.Configured(ctx)
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("PIN configured (backend: %s)\n", sc.Config.Security.Backend())
		} else {
			fmt.Println("No PIN configured. Dangerous actions will be refused.")
		}
		return nil
	})
}

func runPINClear(_ *cobra.Command, _ []string) error {
	return withShared(func(ctx context.Context, sc *SharedComponents) error {
		if err := clearPIN(ctx, sc.Vault, sc.Audit); err != nil {
			return err
		}
		fmt.Println("PIN cleared.")
		return nil
	})
}

// changePIN stores pin and records a pin_changed event.
func changePIN(ctx context.Context, v *credential.Vault, sink audit.Sink, pin string) error {
	if err := v.Set(ctx, pin); err != nil {
		return err
	}
	recordPINChange(ctx, sink, "set")
	return nil
}

func clearPIN(ctx context.Context, v *credential.Vault, sink audit.Sink) error {
	if err := v.Clear(ctx); err != nil {
		return err
	}
	recordPINChange(ctx, sink, "cleared")
	return nil
}

func recordPINChange(ctx context.Context, sink audit.Sink, detail string) {
	ev := audit.New(audit.KindPINChanged, action.Request{})
	ev.Detail = detail
	ev.Client = cli.Client
	if err := sink.Record(ctx, ev); err != nil {
		fmt.Fprintf(os.Stderr, "warning: audit write failed: %v\n", err)
	}
}

func promptNewPIN() (string, error) {
	var first, second string
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("New PIN").
			EchoMode(huh.EchoModePassword).
			Value(&first),
		huh.NewInput().
			Title("Confirm PIN").
			EchoMode(huh.EchoModePassword).
			Value(&second),
	)).Run()
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errPINMismatch
	}
	return first, nil
}

// readNewPIN reads the PIN from the first line of r. A second non-empty line
// must repeat it.
func readNewPIN(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", errors.New("no PIN on stdin")
	}
	first := strings.TrimSpace(scanner.Text())
	if scanner.Scan() {
		if second := strings.TrimSpace(scanner.Text()); second != "" && second != first {
			return "", errPINMismatch
		}
	}
	return first, nil
}
