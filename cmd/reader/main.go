package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustingibbsfight/hume-document-reader/internal/config"
	"github.com/rustingibbsfight/hume-document-reader/internal/observability"
	"github.com/rustingibbsfight/hume-document-reader/internal/playback"
)

var (
	cfg *config.ClientConfig

	serverURL string
	logLevel  string

	rootCmd = &cobra.Command{
		Use:           "reader",
		Short:         "Read documents aloud through the Hume document reader server",
		SilenceErrors: false,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}
)

func loadConfig(cmd *cobra.Command) error {
	c, err := config.LoadClient()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("server") {
		c.ServerURL = serverURL
	}
	if cmd.Flags().Changed("log-level") {
		c.LogLevel = logLevel
	}

	observability.InitLoggerTo(os.Stderr, c.LogLevel)
	cfg = c

	return nil
}

func newClient() *playback.Client {
	return playback.NewClient(cfg.ServerURL, cfg.HeaderTimeoutDuration())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "reader server URL (default $READER_SERVER_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(speakCmd, voicesCmd, parseCmd)
}

func printErr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
