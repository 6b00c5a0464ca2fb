package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"tessctl/internal/tesseract"

	// Extra decoders for --stream.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// recognitionOptions are the flags shared by every command that runs tesseract.
type recognitionOptions struct {
	template tesseract.Request
	engine   string
	stream   bool
	timeout  time.Duration
}

func addRecognitionFlags(cmd *cobra.Command) {
	cmd.Flags().Int("psm", tesseract.DefaultPSM, "Page segmentation mode (0-13, 10 = single character) (default: TESSERACT_PSM)")
	cmd.Flags().StringP("lang", "l", tesseract.DefaultLang, "Language code, e.g. eng or eng+deu (default: TESSERACT_LANG)")
	cmd.Flags().String("tessdata-dir", "", "Path to the tessdata directory")
	cmd.Flags().String("user-words", "", "Path to a user words file")
	cmd.Flags().String("user-patterns", "", "Path to a user patterns file")
	cmd.Flags().String("config-name", "", "Named configuration profile, e.g. digits")
	cmd.Flags().StringArrayP("config-var", "c", nil, "Engine variable as key=value (repeatable, order kept)")
	cmd.Flags().Bool("stream", false, "Decode the image and stream it to tesseract as BMP instead of passing the path")
	cmd.Flags().String("engine", "cli", "Recognition engine ("+strings.Join(tesseract.EngineNames(), ", ")+")")
	cmd.Flags().Int("timeout", 0, "Per-image timeout in seconds (default: TESSERACT_TIMEOUT)")
}

func readRecognitionFlags(cmd *cobra.Command) (recognitionOptions, error) {
	psm, _ := cmd.Flags().GetInt("psm")
	lang, _ := cmd.Flags().GetString("lang")
	tessdataDir, _ := cmd.Flags().GetString("tessdata-dir")
	userWords, _ := cmd.Flags().GetString("user-words")
	userPatterns, _ := cmd.Flags().GetString("user-patterns")
	configName, _ := cmd.Flags().GetString("config-name")
	vars, _ := cmd.Flags().GetStringArray("config-var")
	stream, _ := cmd.Flags().GetBool("stream")
	engine, _ := cmd.Flags().GetString("engine")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	// Flag defaults are fixed at init; environment defaults arrive later.
	if !cmd.Flags().Changed("psm") {
		psm = appConfig.DefaultPSM
	}
	if !cmd.Flags().Changed("lang") {
		lang = appConfig.DefaultLang
	}

	if timeoutSecs < 0 {
		return recognitionOptions{}, fmt.Errorf("--timeout must not be negative")
	}

	opts := recognitionOptions{
		template: tesseract.Request{
			PSM:          psm,
			Lang:         lang,
			TessdataDir:  tessdataDir,
			UserWords:    userWords,
			UserPatterns: userPatterns,
			ConfigName:   configName,
		},
		engine:  engine,
		stream:  stream,
		timeout: time.Duration(timeoutSecs) * time.Second,
	}

	for _, kv := range vars {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return recognitionOptions{}, fmt.Errorf("invalid --config-var %q, expected key=value", kv)
		}
		opts.template.Vars.Set(name, value)
	}

	return opts, nil
}

// request returns a copy of the template for src.
func (o recognitionOptions) request(src tesseract.Source) tesseract.Request {
	req := o.template
	req.Source = src
	req.Vars = tesseract.Vars{}
	for _, v := range o.template.Vars.All() {
		req.Vars.Set(v.Name, v.Value)
	}
	return req
}

// newEngine builds the configured engine. The returned closer flushes the
// diagnostic sink.
func newEngine(opts recognitionOptions, log zerolog.Logger) (tesseract.Engine, func(), error) {
	cfg, closeSink, err := appConfig.InvokerConfig(log)
	if err != nil {
		return nil, nil, err
	}
	if opts.timeout > 0 {
		cfg.Timeout = opts.timeout
	}

	engine, err := tesseract.NewEngine(opts.engine, cfg)
	if err != nil {
		closeSink()
		return nil, nil, err
	}

	log.Debug().
		Str("engine", engine.Name()).
		Str("install_dir", cfg.InstallDir).
		Dur("timeout", cfg.Timeout).
		Msg("Engine created")

	closer := func() {
		if err := closeSink(); err != nil {
			log.Warn().Err(err).Msg("Failed to close diagnostic sink")
		}
	}
	return engine, closer, nil
}

// loadSource returns the image source for path. With stream set the image is
// decoded here, EXIF orientation applied, and sent over stdin.
func loadSource(path string, stream bool, log zerolog.Logger) (tesseract.Source, error) {
	if !stream {
		return tesseract.FromPath(path), nil
	}

	if _, err := os.Stat(path); err != nil {
		// Let the engine report a missing file as invalid input.
		return tesseract.FromPath(path), nil
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		log.Error().
			Err(err).
			Str("file", path).
			Msg("Failed to decode image")
		return tesseract.Source{}, fmt.Errorf("failed to decode image %s: %w", path, err)
	}

	b := img.Bounds()
	log.Debug().
		Str("file", path).
		Int("width", b.Dx()).
		Int("height", b.Dy()).
		Msg("Decoded image for streaming")

	return tesseract.FromImage(img), nil
}

// handleRecognizeError provides user-friendly error messages for recognition failures
func handleRecognizeError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Recognition failed")

	var tessErr *tesseract.Error
	errors.As(err, &tessErr)

	switch {
	case errors.Is(err, tesseract.ErrImageNotFound):
		return fmt.Errorf("image file not found: %w", err)
	case errors.Is(err, tesseract.ErrUnsupportedEngine):
		return fmt.Errorf("engine not available, this build supports: %s", strings.Join(tesseract.EngineNames(), ", "))
	case errors.Is(err, tesseract.ErrInvalidInput):
		return fmt.Errorf("invalid input: %w", err)
	case errors.Is(err, tesseract.ErrToolNotFound):
		return fmt.Errorf("tesseract executable not found. Install tesseract or set TESSERACT_DIR to its directory: %w", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("tesseract timed out. Try increasing --timeout or TESSERACT_TIMEOUT")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("recognition was canceled")
	case errors.Is(err, tesseract.ErrToolFailed) && tessErr != nil:
		msg := strings.TrimSpace(tessErr.Stderr)
		if msg == "" {
			msg = "no diagnostics"
		}
		return fmt.Errorf("tesseract exited with status %d: %s", tessErr.ExitCode, msg)
	default:
		return fmt.Errorf("recognition failed: %w", err)
	}
}
