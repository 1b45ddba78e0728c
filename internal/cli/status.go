package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/ethbridge/internal/control"
	"github.com/vietddude/ethbridge/internal/core/config"
	"github.com/vietddude/ethbridge/internal/core/domain"
	"github.com/vietddude/ethbridge/internal/infra/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active ranges, open voting sessions and reported offences",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	store, _, err := control.OpenStore(cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if store.Close != nil {
			_ = store.Close()
		}
	}()

	if err := writeStatus(cmd.Context(), os.Stdout, cfg, store); err != nil {
		slog.Error("Failed to read status", "error", err)
		os.Exit(1)
	}
}

var sessionKinds = []domain.ActionKind{
	domain.ActionEventsPartition,
	domain.ActionLatestBlock,
	domain.ActionValidatorChange,
	domain.ActionSummaryRoot,
}

func writeStatus(ctx context.Context, out io.Writer, cfg *config.AppConfig, store *storage.Store) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "INSTANCE\tCHAIN\tACTIVE RANGE\tPARTITION")
	for _, ic := range cfg.Instances {
		inst := ic.Instance()
		ar, err := store.Ranges.GetActive(ctx, inst.ID)
		if err != nil {
			return err
		}
		if ar == nil {
			_, _ = fmt.Fprintf(w, "%s\t%d\t-\t-\n", inst.ID, inst.ChainID)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\n", inst.ID, inst.ChainID, ar.Range, ar.Partition)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SESSION\tKIND\tAYES\tNAYS\tQUORUM\tDEADLINE")
	for _, kind := range sessionKinds {
		open, err := store.Sessions.ListOpen(ctx, kind)
		if err != nil {
			return err
		}
		for _, rec := range open {
			s := rec.Session
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n", s.ActionID, kind, len(s.Ayes), len(s.Nays), s.Quorum, s.Deadline)
		}
	}
	_ = w.Flush()

	offences, err := store.Offences.List(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "OFFENCE\tACTION\tOFFENDERS\tREPORTED")
	for _, o := range offences {
		for _, a := range o.Offenders {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", o.Kind, o.ActionID, a.Hex(), o.ReportedAt)
		}
	}
	return w.Flush()
}
