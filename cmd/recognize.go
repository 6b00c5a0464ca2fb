package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"tessctl/internal/logger"
	"tessctl/internal/tesseract"
)

var recognizeCmd = &cobra.Command{
	Use:     "recognize [image-file]",
	Aliases: []string{"ocr"},
	Short:   "Extract text from an image using tesseract",
	Long: `Run tesseract on a single image and print the recognized text.

By default the image path is handed to tesseract. With --stream the image is
decoded by tessctl (PNG, JPEG, GIF, BMP, TIFF, WebP; EXIF orientation is
applied) and streamed to tesseract's standard input as BMP.

Trailing newlines and spaces are removed from the output. Anything tesseract
prints on standard error is forwarded according to TESSERACT_STDERR and never
fails the command on its own; a non-zero exit status does.`,
	Example: `  # Extract text from scan.png to stdout
  tessctl recognize scan.png

  # Single character with tesseract 4+
  TESSERACT_PSM_FLAG=--psm tessctl recognize letter.png --psm 10

  # Only digits, using the bundled profile
  tessctl recognize receipt.png --config-name digits

  # Restrict characters with an engine variable and save as JSON
  tessctl recognize code.png -c tessedit_char_whitelist=ABC123 --json -o result.json

  # Decode and stream a rotated phone photo
  tessctl recognize photo.jpg --stream --timeout 60`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

// RecognizeOutput represents the JSON output structure when --json flag is used
type RecognizeOutput struct {
	File               string `json:"file"`
	Engine             string `json:"engine"`
	Text               string `json:"text"`
	Diagnostics        string `json:"diagnostics,omitempty"`
	Error              string `json:"error,omitempty"`
	ProcessingDuration string `json:"processing_duration,omitempty"`
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	addRecognitionFlags(recognizeCmd)
	recognizeCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("recognize")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	opts, err := readRecognitionFlags(cmd)
	if err != nil {
		return err
	}

	imagePath := args[0]

	log.Info().
		Str("file", imagePath).
		Str("engine", opts.engine).
		Int("psm", opts.template.PSM).
		Str("lang", opts.template.Lang).
		Bool("stream", opts.stream).
		Msg("Starting recognition")

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

	log.Info().
		Dur("duration", result.Duration).
		Int("text_length", len(result.Text)).
		Msg("Recognition completed successfully")

	return outputRecognition(imagePath, engine.Name(), result, outputPath, jsonOutput, log)
}

// outputRecognition formats and outputs a single recognition result
func outputRecognition(file, engine string, result *tesseract.Result, outputPath string, jsonOutput bool, log zerolog.Logger) error {
	var outputData []byte

	if jsonOutput {
		data, err := json.MarshalIndent(RecognizeOutput{
			File:               file,
			Engine:             engine,
			Text:               result.Text,
			Diagnostics:        strings.TrimSpace(result.Diagnostics),
			ProcessingDuration: result.Duration.String(),
		}, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
		outputData = append(data, '\n')
	} else {
		outputData = []byte(result.Text + "\n")
	}

	return writeOutput(outputData, outputPath, log)
}
