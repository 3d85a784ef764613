package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/jkaninda/warden/internal/audit"
	"github.com/jkaninda/warden/internal/gateway/httpapi"
)

var (
	auditKinds  string
	auditAction string
	auditSince  string
	auditLimit  string
	auditJSON   bool
	auditFile   bool
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent audit events",
	Long: `Query the audit trail, newest first.

Examples:
  warden audit --kind pin_failed,lockout --since 24h
  warden audit --action delete_file --limit 20 --json
  warden audit --file   # read the JSONL log instead of the database`,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditKinds, "kind", "", "comma-separated event kinds")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "action kind")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "duration (24h) or RFC3339 time")
	auditCmd.Flags().StringVar(&auditLimit, "limit", "", "maximum events (default 100)")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print events as JSON lines")
	auditCmd.Flags().BoolVar(&auditFile, "file", false, "read the JSONL audit log")
}

func runAudit(_ *cobra.Command, _ []string) error {
	f, err := httpapi.ParseFilter(auditKinds, auditAction, auditSince, auditLimit, time.Now())
	if err != nil {
		return err
	}
	return withShared(func(ctx context.Context, sc *SharedComponents) error {
		events, err := queryAudit(ctx, sc, f)
		if err != nil {
			return err
		}
		if auditJSON {
			return writeEventsJSON(os.Stdout, events)
		}
		if len(events) == 0 {
			fmt.Println("No audit events.")
			return nil
		}
		fmt.Println(renderEvents(lipgloss.NewRenderer(os.Stdout), events))
		return nil
	})
}

func queryAudit(ctx context.Context, sc *SharedComponents, f audit.Filter) ([]audit.Event, error) {
	if auditFile {
		return audit.ReadFile(sc.Config.AuditLogPath(), f)
	}
	return sc.Store.Audit().Query(ctx, f)
}

func writeEventsJSON(w io.Writer, events []audit.Event) error {
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// renderEvents lays events out as a bordered table.
func renderEvents(r *lipgloss.Renderer, events []audit.Event) string {
	header := r.NewStyle().Bold(true).Foreground(lipgloss.Color("#fabd2f")).Padding(0, 1)
	cell := r.NewStyle().Padding(0, 1)
	alert := cell.Foreground(lipgloss.Color("#fb4934"))

	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			string(e.Kind),
			string(e.ActionKind),
			e.Client,
			eventDetail(e),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.NewStyle().Foreground(lipgloss.Color("#928374"))).
		Headers("TIME", "EVENT", "ACTION", "CLIENT", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case row >= 0 && row < len(events) && isAlert(events[row].Kind):
				return alert
			default:
				return cell
			}
		})
	return t.String()
}

func isAlert(k audit.Kind) bool {
	return k == audit.KindPINFailed || k == audit.KindLockout
}

func eventDetail(e audit.Event) string {
	var parts []string
	if e.Rule != "" {
		parts = append(parts, "rule="+e.Rule)
	}
	if e.Success != nil {
		parts = append(parts, fmt.Sprintf("success=%t", *e.Success))
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	if e.OriginText != "" {
		parts = append(parts, fmt.Sprintf("%q", e.OriginText))
	}
	return strings.Join(parts, " ")
}
