package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/workseek/workseek/pkg/state"
)

var (
	historyThread string
	historyFull   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a thread's checkpoints and conversation",
	Long: `List every checkpoint recorded for a thread, oldest first, then print
the conversation from the latest one. Corrupt checkpoints are skipped.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyThread, "thread", "default", "conversation thread ID")
	historyCmd.Flags().BoolVar(&historyFull, "full", false, "include tool calls and results in the transcript")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	checkpoints, err := a.store.ListHistory(ctx, historyThread)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	if len(checkpoints) == 0 {
		fmt.Printf("No history for thread %q.\n", historyThread)
		return nil
	}

	codec := state.NewCodec()

	fmt.Printf("Thread %q: %d checkpoints\n\n", historyThread, len(checkpoints))
	for i, cp := range checkpoints {
		st, err := codec.Decode(cp.State)
		if err != nil {
			continue
		}
		fmt.Printf("%4d  %s  messages=%d steps=%d\n",
			i+1,
			cp.Time().Format(time.RFC3339),
			len(st.ChatHistory),
			len(st.StepLog),
		)
	}

	latest, err := codec.Decode(checkpoints[len(checkpoints)-1].State)
	if err != nil {
		return fmt.Errorf("failed to decode latest checkpoint: %w", err)
	}

	fmt.Println("\nConversation:")
	for _, msg := range latest.ChatHistory {
		switch {
		case msg.Role == "tool" && !historyFull:
			continue
		case len(msg.ToolCalls) > 0:
			if !historyFull {
				continue
			}
			for _, call := range msg.ToolCalls {
				fmt.Printf("  [assistant -> %s] %v\n", call.Name, call.Arguments)
			}
		default:
			fmt.Printf("  [%s] %s\n", msg.Role, msg.Content)
		}
	}

	return nil
}
