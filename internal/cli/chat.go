package cli

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/workseek/workseek/internal/observability"
	"github.com/workseek/workseek/pkg/runqueue"
)

var (
	chatThread  string
	metricsAddr string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the assistant on a conversation thread",
	Long: `Send one message to the assistant, or start an interactive session when
no message is given. Every turn is checkpointed under the thread, so the
conversation picks up where it left off.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatThread, "thread", "default", "conversation thread ID")
	chatCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	if len(args) == 1 {
		return a.runTurn(ctx, chatThread, args[0])
	}

	// Interactive session. The retention sweeper only makes sense for a
	// long-lived process, so it runs here and not in one-shot mode.
	a.sweeper.Start()
	defer a.sweeper.Stop()

	fmt.Printf("WorkSeek %s on thread %q. Type 'exit' to quit.\n", version, chatThread)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		if err := a.runTurn(ctx, chatThread, input); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

// runTurn executes one turn on the thread's lane and prints the answer.
func (a *app) runTurn(ctx context.Context, threadID, input string) error {
	answer, err := a.queue.Enqueue(ctx, runqueue.ThreadLane(threadID), func(ctx context.Context) (interface{}, error) {
		return a.runtime.Run(ctx, threadID, input)
	})
	if err != nil {
		if text, ok := answer.(string); ok && text != "" {
			fmt.Println(text)
		}
		return err
	}

	fmt.Println(answer)
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
	}
}
