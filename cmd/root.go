package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"tessctl/internal/config"
	"tessctl/internal/logger"
)

var version = "1.0.0"

// appConfig is set by Execute before any command runs.
var appConfig = config.Default()

var rootCmd = &cobra.Command{
	Use:   "tessctl",
	Short: "tessctl - convert images to text with the tesseract executable",
	Long: `tessctl converts images to text by running the tesseract command-line
executable. Images are either passed to tesseract by path or decoded and
streamed to it as BMP over standard input.

Environment variables (also read from a .env file):
  TESSERACT_DIR       - Directory containing the tesseract binary (default: PATH lookup)
  TESSERACT_BINARY    - Executable name (default: tesseract)
  TESSERACT_STDERR    - Where tesseract diagnostics go: log, stderr, discard or a file path
  TESSERACT_TIMEOUT   - Per-image deadline, e.g. 30s (default: none)
  TESSERACT_PSM_FLAG  - -psm (tesseract 3.x) or --psm (tesseract 4+)
  TESSERACT_LANG      - Default language (default: eng)
  TESSERACT_PSM       - Default page segmentation mode (default: 3)
  BATCH_WORKERS       - Parallel tesseract processes for batch (default: CPU count)
  LOG_LEVEL, LOG_FORMAT, LOG_TIME_FORMAT, LOG_OUTPUT - Logging`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with cfg.
func Execute(cfg *config.Config) {
	log := logger.WithComponent("cmd")
	if cfg != nil {
		appConfig = cfg
	}

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

// createContextWithTimeout creates a context with timeout and signal handling.
// A non-positive timeout means no deadline.
func createContextWithTimeout(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	// Handle interrupt signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, stopping tesseract")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// writeOutput writes data to outputPath, or to stdout when outputPath is empty.
func writeOutput(data []byte, outputPath string, log zerolog.Logger) error {
	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}

		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(data)).
			Msg("Results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(data); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
