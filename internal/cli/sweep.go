package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Prune checkpoints older than the configured retention",
	Long: `Run one retention pass immediately. Each thread's latest checkpoint is
always kept so no thread loses its resume point. Interactive sessions run
this automatically on the configured schedule.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := a.sweeper.SweepNow(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d checkpoints.\n", removed)
	return nil
}
