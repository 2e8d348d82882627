package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"ballast/service"
)

var (
	// Global flags
	dataDir  string
	logLevel string
	jsonOut  bool
)

var rootCmd = &cobra.Command{
	Use:   "ballastd",
	Short: "Run and inspect a fixed-capacity memory runtime",
	Long: `ballastd hosts a ballast runtime: pools are reserved at start-up,
recycled in steady state and released at shutdown. Allocator events are kept
in a local outbox and forwarded to Kafka; a gRPC diagnostics service reports
the current phase and pool occupancy.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./ballast_data", "Directory for the outbox and watermark stores")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger from --log-level.
func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// runtimeConfig maps the global flags onto a service.Config.
func runtimeConfig(log *slog.Logger) service.Config {
	return service.Config{
		DataDir: dataDir,
		Logger:  log,
	}
}

// printJSON outputs data as indented JSON
func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
