package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/spf13/cobra"
)

// Exit codes reported to the service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

type flags struct {
	port     string
	history  int
	logLevel string
}

func main() {
	os.Exit(execute())
}

func execute() int {
	code := exitOK
	var f flags

	rootCmd := &cobra.Command{
		Use:           "chatrelay",
		Short:         "Real-time group chat relay over WebSocket.",
		Long:          `Starts the chat relay: WebSocket endpoint on /ws, history and message API under /api.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			code, err = run(cmd, f)
			return err
		},
	}
	rootCmd.Flags().StringVar(&f.port, "port", "", "listen address, overrides SERVER_PORT (e.g. :8080)")
	rootCmd.Flags().IntVar(&f.history, "history", 0, "history capacity, overrides HISTORY_CAPACITY")
	rootCmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error, overrides LOG_LEVEL")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Chat relay terminated with error: %v\n", err)
		if code == exitOK {
			code = exitRuntime
		}
	}
	return code
}

// run loads the configuration, then serves until SIGINT or SIGTERM.
func run(cmd *cobra.Command, f flags) (int, error) {
	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		return exitConfig, err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("history") {
		cfg.HistoryCapacity = f.history
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return exitConfig, err
	}

	logger := server.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting GoChat relay", "port", cfg.Port, "history", cfg.HistoryCapacity)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		return exitConfig, err
	}

	if err := app.Run(ctx); err != nil {
		return exitRuntime, err
	}
	logger.Info("Server shutdown completed")
	return exitOK, nil
}
