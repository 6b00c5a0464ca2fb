package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"tessctl/internal/logger"
	"tessctl/internal/score"
)

var checkCmd = &cobra.Command{
	Use:   "check [image-file]",
	Short: "Recognize an image and compare the text with what it should say",
	Long: `Run tesseract on an image and score the recognized text against the
expected text. The similarity ratio is (t - d) / t, where t is the combined
length of both texts and d their edit distance; the word error rate is
reported alongside.

The command fails when the ratio is below --threshold. Use it to verify a
tesseract installation, language data or engine variables against known
fixtures.`,
	Example: `  # Verify a fixture
  tessctl check quickfox.png --expect "The quick brown fox jumps over the lazy dog"

  # Expected text from a file, stricter threshold, JSON report
  tessctl check invoice.png --expect-file invoice.txt --threshold 0.95 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)

	addRecognitionFlags(checkCmd)
	checkCmd.Flags().String("expect", "", "Text the image is known to contain")
	checkCmd.Flags().String("expect-file", "", "File containing the expected text")
	checkCmd.Flags().Float64("threshold", score.DefaultThreshold, "Minimum similarity ratio to pass")
	checkCmd.Flags().Bool("json", false, "Output as JSON")
	checkCmd.MarkFlagsMutuallyExclusive("expect", "expect-file")
	checkCmd.MarkFlagsOneRequired("expect", "expect-file")
}

func runCheck(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("check")

	expect, _ := cmd.Flags().GetString("expect")
	expectFile, _ := cmd.Flags().GetString("expect-file")
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	opts, err := readRecognitionFlags(cmd)
	if err != nil {
		return err
	}

	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("--threshold must be in (0, 1], got %v", threshold)
	}
	if expectFile != "" {
		data, err := os.ReadFile(expectFile)
		if err != nil {
			return fmt.Errorf("failed to read expected text: %w", err)
		}
		expect = strings.TrimRight(string(data), "\r\n ")
	}

	imagePath := args[0]
	ctx, cancel := createContextWithTimeout(0, log)
	defer cancel()

	engine, closeEngine, err := newEngine(opts, log)
	if err != nil {
		return handleRecognizeError(err, log)
	}
	defer closeEngine()

	src, err := loadSource(imagePath, opts.stream, log)
	if err != nil {
		return err
	}
	result, err := engine.Recognize(ctx, opts.request(src))
	if err != nil {
		return handleRecognizeError(err, log)
	}

	report := score.Check(result.Text, expect, threshold)

	log.Info().
		Str("file", imagePath).
		Float64("ratio", report.Ratio).
		Float64("wer", report.WordErrorRate).
		Bool("passed", report.MeetsThreshold).
		Msg("Check completed")

	var outputData []byte
	if jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		outputData = append(data, '\n')
	} else {
		var output strings.Builder
		output.WriteString(fmt.Sprintf("Recognized: %q\n", report.Got))
		output.WriteString(fmt.Sprintf("Expected:   %q\n", report.Want))
		output.WriteString(fmt.Sprintf("Similarity: %.3f (threshold %.3f)\n", report.Ratio, report.Threshold))
		output.WriteString(fmt.Sprintf("WER:        %.3f (%d word edits)\n", report.WordErrorRate, report.WordErrors))
		outputData = []byte(output.String())
	}
	if err := writeOutput(outputData, "", log); err != nil {
		return err
	}

	if !report.MeetsThreshold {
		return fmt.Errorf("similarity %.3f is below threshold %.3f", report.Ratio, report.Threshold)
	}
	return nil
}
