package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/killallgit/relay/pkg/config"
	"github.com/killallgit/relay/pkg/logger"
)

var (
	cfgFile   string
	sessionID string
	plainOut  bool
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Streaming conversation client for coding assistants",
	Long: `relay drives a coding assistant over a streaming provider: it renders
tool calls as they happen, asks before tools run, queues messages typed while
the assistant is busy and keeps every conversation as a resumable session.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp()
	},
	RunE: runChat,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./.relay/settings.yaml)")

	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level")
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("provider", "", "provider to use: ollama, openai or bridge")
	viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))

	rootCmd.PersistentFlags().StringP("model", "m", "", "model override for the selected provider")
	viper.BindPFlag("model", rootCmd.PersistentFlags().Lookup("model"))

	rootCmd.PersistentFlags().String("permission-mode", "", "permission mode: default, acceptEdits, plan or bypassPermissions")
	viper.BindPFlag("permission_mode", rootCmd.PersistentFlags().Lookup("permission-mode"))

	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "resume the session with this id")
	rootCmd.PersistentFlags().BoolVar(&plainOut, "plain", false, "disable colors and code highlighting")

	rootCmd.AddCommand(chatCmd, promptCmd, replayCmd, sessionsCmd)
}

// initApp loads the config and starts the file logger
func initApp() error {
	if _, err := config.Load(cfgFile); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(); err != nil {
		return err
	}
	logger.WithComponent("cmd").Debug("Using config file: %s", viper.ConfigFileUsed())
	return nil
}
