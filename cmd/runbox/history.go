package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/michaelbrown/runbox/internal/storage"
	"github.com/michaelbrown/runbox/internal/storage/sqlite"
)

var (
	outcomeFilter  string
	limitFlag      int
	olderThanFlag  time.Duration
	exportFormat   string
	exportOutput   string
	exportLimit    int
	pruneForceFlag bool
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"h"},
	Short:   "Inspect recorded execution metadata",
	Long: `Inspect the execution history database.

Only metadata is recorded (language, outcome, exit code, duration, sizes);
program text and output are never stored. Recording happens when the server
runs with history.enabled = true.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent executions",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show one execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete executions older than a given age",
	RunE:  runHistoryPrune,
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export executions as markdown or JSON",
	RunE:  runHistoryExport,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyPruneCmd, historyExportCmd)

	historyListCmd.Flags().StringVar(&outcomeFilter, "outcome", "", "Filter by outcome (completed, failed, timeout, error)")
	historyListCmd.Flags().IntVar(&limitFlag, "limit", 20, "Max executions to show")

	historyPruneCmd.Flags().DurationVar(&olderThanFlag, "older-than", 30*24*time.Hour, "Delete executions older than this")
	historyPruneCmd.Flags().BoolVar(&pruneForceFlag, "force", false, "Skip confirmation")

	historyExportCmd.Flags().StringVar(&exportFormat, "format", "md", "Export format: md or json")
	historyExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
	historyExportCmd.Flags().IntVar(&exportLimit, "limit", 1000, "Max executions to export")
}

func openStore() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.History.DBPath)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	execs, err := store.ListExecutions(context.Background(), storage.ListOptions{
		Outcome: storage.Outcome(outcomeFilter),
		Limit:   limitFlag,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(execs) == 0 {
		fmt.Fprintln(out, "No executions found.")
		return nil
	}

	// Header
	fmt.Fprintf(out, "%-10s %-10s %-14s %-6s %-10s %s\n", "ID", "OUTCOME", "LANGUAGE", "EXIT", "DURATION", "CREATED")
	fmt.Fprintln(out, strings.Repeat("─", 70))

	for _, e := range execs {
		fmt.Fprintf(out, "%-10s %-10s %-14s %-6d %-10s %s\n",
			shortID(e.ID), e.Outcome, truncate(e.Language, 14), e.ExitCode,
			fmt.Sprintf("%dms", e.DurationMS), timeAgo(e.CreatedAt))
	}

	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := store.GetExecution(context.Background(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Execution: %s\n", e.ID)
	fmt.Fprintf(out, "Language:  %s\n", e.Language)
	fmt.Fprintf(out, "Outcome:   %s\n", e.Outcome)
	fmt.Fprintf(out, "Exit code: %d\n", e.ExitCode)
	fmt.Fprintf(out, "Duration:  %dms\n", e.DurationMS)
	fmt.Fprintf(out, "Code size: %d bytes\n", e.CodeBytes)
	fmt.Fprintf(out, "Network:   %t (not enforced)\n", e.EnableNetwork)
	fmt.Fprintf(out, "Created:   %s\n", e.CreatedAt.Format(time.RFC3339))
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	cutoff := time.Now().Add(-olderThanFlag)
	if !pruneForceFlag {
		fmt.Fprintf(out, "Delete executions recorded before %s? [y/N] ", cutoff.Format(time.RFC3339))
		var confirm string
		fmt.Fscanln(cmd.InOrStdin(), &confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	n, err := store.PruneBefore(context.Background(), cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %d executions\n", n)
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	execs, err := store.ListExecutions(context.Background(), storage.ListOptions{Limit: exportLimit})
	if err != nil {
		return err
	}

	var output string
	switch exportFormat {
	case "json":
		data, err := storage.ExportJSON(execs)
		if err != nil {
			return err
		}
		output = string(data) + "\n"
	case "md":
		output = storage.ExportMarkdown(execs)
	default:
		return fmt.Errorf("unknown export format %q (want md or json)", exportFormat)
	}

	if exportOutput != "" {
		return os.WriteFile(exportOutput, []byte(output), 0o644)
	}

	fmt.Fprint(cmd.OutOrStdout(), output)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens s to at most maxLen characters for a table column.
func truncate(s string, maxLen int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) > maxLen {
		return string(r[:maxLen-2]) + ".."
	}
	return string(r)
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
