package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nerrad567/stolenwatch/internal/audit"
)

// historyLister is the read side of the audit repository.
type historyLister interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.AuditLog, error)
}

// printHistory writes the n most recent audit entries, newest first.
func printHistory(ctx context.Context, w io.Writer, repo historyLister, n int) error {
	logs, err := repo.List(ctx, audit.Filter{Limit: n})
	if err != nil {
		return fmt.Errorf("listing audit history: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tDEVICE\tDETAILS")
	for _, l := range logs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			l.CreatedAt.UTC().Format(time.RFC3339),
			l.Action,
			l.DeviceID,
			formatDetails(l.Details),
		)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("writing audit history: %w", err)
	}
	return nil
}

// formatDetails renders details as sorted key=value pairs.
func formatDetails(details map[string]any) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, " ")
}
