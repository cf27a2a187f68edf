package commands

import (
	"github.com/koscakluka/ema-realtime/internal/config"
	"github.com/spf13/cobra"
)

const appName = "ema-realtime"

// version is set at build time.
var version = "dev"

type rootOptions struct {
	configFile string
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "Realtime voice sessions from the terminal",
		Long: `ema-realtime connects the local microphone and speaker to a realtime
speech provider (OpenAI Realtime or Gemini Live) and prints the conversation
as it happens. Typed lines are sent to the session as user text.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "", "", "session config file (defaults apply when empty)")

	rootCmd.AddCommand(newRunCommand(opts))
	rootCmd.AddCommand(newSchemaCommand())
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configFile == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(o.configFile)
}
