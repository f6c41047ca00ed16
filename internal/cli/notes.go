package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	notesThread string
	notesClear  bool
)

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Show or clear the notes remembered for a thread",
	RunE:  runNotes,
}

func init() {
	notesCmd.Flags().StringVar(&notesThread, "thread", "default", "conversation thread ID")
	notesCmd.Flags().BoolVar(&notesClear, "clear", false, "remove all notes for the thread")
	rootCmd.AddCommand(notesCmd)
}

func runNotes(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cache == nil {
		return fmt.Errorf("recall is disabled (set recall.enabled in the config)")
	}

	ctx := context.Background()

	if notesClear {
		if err := a.cache.Invalidate(ctx, notesThread); err != nil {
			return err
		}
		fmt.Printf("Notes cleared for thread %q.\n", notesThread)
		return nil
	}

	notes, err := a.cache.List(ctx, notesThread)
	if err != nil {
		return err
	}
	if len(notes) == 0 {
		fmt.Printf("No notes for thread %q.\n", notesThread)
		return nil
	}

	for _, n := range notes {
		fmt.Printf("%s  %s\n", time.Unix(0, n.CreatedAt).Format(time.RFC3339), n.Content)
	}
	return nil
}
