package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vietddude/ethbridge/internal/control"
	"github.com/vietddude/ethbridge/internal/core/domain"
)

var resetRangeCmd = &cobra.Command{
	Use:   "reset-range [instance_id]",
	Short: "Clear the active range of an instance so validators agree a new initial range",
	Args:  cobra.ExactArgs(1),
	Run:   runResetRange,
}

func init() {
	rootCmd.AddCommand(resetRangeCmd)
}

func runResetRange(cmd *cobra.Command, args []string) {
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Printf("Invalid instance id: %v\n", err)
		os.Exit(1)
	}

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

	instance := domain.InstanceID(id)
	if err := store.Ranges.Clear(cmd.Context(), instance); err != nil {
		slog.Error("Failed to reset range", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Successfully cleared active range for %s\n", instance)
}
