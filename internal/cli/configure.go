package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/workseek/workseek/internal/config"
)

var (
	configureProvider string
	configureModel    string
	configureAPIKey   string
	configureRecall   bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write assistant settings to the config file",
	RunE:  runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureProvider, "provider", "", "model provider (anthropic or openai)")
	configureCmd.Flags().StringVar(&configureModel, "model", "", "model name")
	configureCmd.Flags().StringVar(&configureAPIKey, "api-key", "", "model API key")
	configureCmd.Flags().BoolVar(&configureRecall, "recall", false, "enable the recall cache")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if configureProvider != "" {
		cfg.Model.Provider = configureProvider
	}
	if configureModel != "" {
		cfg.Model.Name = configureModel
	}
	if configureAPIKey != "" {
		cfg.Model.APIKey = configureAPIKey
	}
	if cmd.Flags().Changed("recall") {
		cfg.Recall.Enabled = configureRecall
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := loader.Save(cfg); err != nil {
		return err
	}

	fmt.Println("Configuration saved.")
	return nil
}
