package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"market-sentinel/internal/storage"
)

// Show prints the alert state store and, when a database is configured, the
// most recent emitted alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	state := storage.OpenStateStore(a.Config.State.Path, a.Logger)
	printState(os.Stdout, state.Entries())
	if opts.StateOnly {
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Fprintln(os.Stdout, "\ndatabase not configured; alert history unavailable")
		return nil
	}
	defer closeStore()

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout)
	printHistory(os.Stdout, alerts)
	return nil
}

func printState(w io.Writer, entries []storage.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no signal state recorded")
		return
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Key\tRegime\tLast Level\tLast Emitted (UTC)\tBaseline (UTC)")
	for _, e := range entries {
		level := string(e.Record.LastLevel)
		if level == "" {
			level = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			e.Key, e.Record.LastRegime, level,
			formatTime(e.Record.LastEmittedAt), formatTime(e.Record.BaselineAt))
	}
	writer.Flush()
}

func printHistory(w io.Writer, alerts []storage.AlertHistory) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "no alerts found")
		return
	}
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKey\tLevel\tPrice\tValue\tChannels\tMessage")
	for _, al := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			formatTime(al.DetectedAt), al.Key(), al.Level, al.Price, al.Value,
			strings.Join(al.Channels, ","), sanitizeInline(al.Message))
	}
	writer.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
