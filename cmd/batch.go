package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"tessctl/internal/logger"
	"tessctl/internal/tesseract"
)

var batchCmd = &cobra.Command{
	Use:   "batch [image-file]...",
	Short: "Extract text from many images in parallel",
	Long: `Run tesseract on every given image, one process per image, with a bounded
number of processes at a time. Results are printed in argument order.

A failing image does not stop the others. The command exits non-zero if any
image failed.

Optional environment variables:
  BATCH_WORKERS - Number of parallel tesseract processes (default: CPU count)`,
	Example: `  # Recognize all scans, four at a time
  tessctl batch scans/*.png --workers 4

  # JSON report with a per-image deadline
  tessctl batch *.tif --json --timeout 120 -o report.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

// BatchResult represents the result of processing a single image
type BatchResult struct {
	Index    int
	File     string
	Result   *tesseract.Result
	Error    error
	Duration time.Duration
}

func init() {
	rootCmd.AddCommand(batchCmd)

	addRecognitionFlags(batchCmd)
	batchCmd.Flags().Int("workers", 0, "Parallel tesseract processes (default: BATCH_WORKERS)")
	batchCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	batchCmd.Flags().Bool("json", false, "Output as JSON")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	workers, _ := cmd.Flags().GetInt("workers")
	if workers <= 0 {
		workers = appConfig.BatchWorkers
	}
	opts, err := readRecognitionFlags(cmd)
	if err != nil {
		return err
	}

	log.Info().
		Int("files", len(args)).
		Int("workers", workers).
		Str("engine", opts.engine).
		Msg("Starting batch recognition")

	ctx, cancel := createContextWithTimeout(0, log)
	defer cancel()

	engine, closeEngine, err := newEngine(opts, log)
	if err != nil {
		return handleRecognizeError(err, log)
	}
	defer closeEngine()

	start := time.Now()
	results := processBatch(ctx, engine, opts, args, workers, log)

	failed := 0
	for _, r := range results {
		if r.Error != nil {
			failed++
		}
	}

	log.Info().
		Int("files", len(results)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch recognition completed")

	if err := outputBatch(engine.Name(), results, outputPath, jsonOutput, log); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d images failed", failed, len(results))
	}
	return nil
}

// processBatch recognizes every file with at most workers concurrent
// processes. The returned slice is in the order of files.
func processBatch(ctx context.Context, engine tesseract.Engine, opts recognitionOptions, files []string, workers int, log zerolog.Logger) []BatchResult {
	results := make([]BatchResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			start := time.Now()
			r := BatchResult{Index: i, File: file}

			src, err := loadSource(file, opts.stream, log)
			if err == nil {
				r.Result, err = engine.Recognize(ctx, opts.request(src))
			}
			r.Duration = time.Since(start)

			if err != nil {
				r.Error = handleRecognizeError(err, log.With().Str("file", file).Logger())
			} else {
				log.Debug().
					Str("file", file).
					Dur("duration", r.Duration).
					Int("text_length", len(r.Result.Text)).
					Msg("Image recognized")
			}
			results[i] = r
			// Per-image failures are reported, not propagated, so the
			// remaining images still run.
			return nil
		})
	}
	g.Wait()

	return results
}

// outputBatch formats and outputs batch results
func outputBatch(engine string, results []BatchResult, outputPath string, jsonOutput bool, log zerolog.Logger) error {
	var outputData []byte

	if jsonOutput {
		out := make([]RecognizeOutput, 0, len(results))
		for _, r := range results {
			o := RecognizeOutput{
				File:               r.File,
				Engine:             engine,
				ProcessingDuration: r.Duration.String(),
			}
			if r.Error != nil {
				o.Error = r.Error.Error()
			} else {
				o.Text = r.Result.Text
				o.Diagnostics = strings.TrimSpace(r.Result.Diagnostics)
			}
			out = append(out, o)
		}

		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		outputData = append(data, '\n')
	} else {
		var output strings.Builder
		for i, r := range results {
			if i > 0 {
				output.WriteString("\n")
			}
			output.WriteString(fmt.Sprintf("==> %s <==\n", r.File))
			if r.Error != nil {
				output.WriteString(fmt.Sprintf("ERROR: %v\n", r.Error))
				continue
			}
			output.WriteString(r.Result.Text)
			output.WriteString("\n")
		}
		outputData = []byte(output.String())
	}

	return writeOutput(outputData, outputPath, log)
}
