package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/bmp"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBinary is the executable name looked up on PATH.
	DefaultBinary = "tesseract"

	// PSMFlagLegacy is the page segmentation flag understood by tesseract 3.x.
	PSMFlagLegacy = "-psm"

	// PSMFlagModern is the page segmentation flag understood by tesseract 4+.
	PSMFlagModern = "--psm"

	stdinToken  = "stdin"
	stdoutToken = "stdout"

	// waitDelay bounds how long Wait blocks on pipes after the child is killed.
	waitDelay = 5 * time.Second
)

// Config holds the settings shared by every call made through an Invoker.
// It is read-only once passed to New.
type Config struct {
	// InstallDir is the directory holding the tesseract executable. Empty
	// means the executable is looked up on PATH. When set, the child runs
	// with InstallDir as its working directory and at the front of its PATH.
	InstallDir string

	// Binary is the executable name, DefaultBinary when empty.
	Binary string

	// Stderr receives the child's error stream. Nil discards it.
	Stderr io.Writer

	// Timeout bounds each call when positive. On expiry the child is killed.
	Timeout time.Duration

	// PSMFlag is the spelling of the page segmentation flag, PSMFlagLegacy
	// when empty.
	PSMFlag string

	// Logger receives debug records for every invocation. Nil disables them.
	Logger *zerolog.Logger
}

func (c Config) binary() string {
	if c.Binary == "" {
		return DefaultBinary
	}
	return c.Binary
}

func (c Config) psmFlag() string {
	if c.PSMFlag == "" {
		return PSMFlagLegacy
	}
	return c.PSMFlag
}

// Invoker runs the tesseract executable, one child process per call.
type Invoker struct {
	cfg Config
	log zerolog.Logger
}

// New creates an Invoker.
func New(cfg Config) *Invoker {
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "tesseract").Logger()
	}
	// The child runs inside InstallDir, so a relative directory would be
	// resolved twice.
	if cfg.InstallDir != "" {
		if abs, err := filepath.Abs(cfg.InstallDir); err == nil {
			cfg.InstallDir = abs
		}
	}
	return &Invoker{cfg: cfg, log: log}
}

// Name implements Engine.
func (inv *Invoker) Name() string { return "cli" }

// Args returns the argument vector passed to tesseract for req, without the
// executable itself.
func (inv *Invoker) Args(req Request) []string {
	input := stdinToken
	if !req.Source.Streamed() {
		input = req.Source.Path()
	}

	args := []string{input, stdoutToken, inv.cfg.psmFlag(), strconv.Itoa(req.PSM), "-l", req.lang()}
	if req.TessdataDir != "" {
		args = append(args, "--tessdata-dir", req.TessdataDir)
	}
	if req.UserWords != "" {
		args = append(args, "--user-words", req.UserWords)
	}
	if req.UserPatterns != "" {
		args = append(args, "--user-patterns", req.UserPatterns)
	}
	for _, v := range req.Vars.list {
		args = append(args, "-c", v.Name+"="+v.Value)
	}
	if req.ConfigName != "" {
		args = append(args, req.ConfigName)
	}
	return args
}

// Text is Recognize returning only the text.
func (inv *Invoker) Text(ctx context.Context, req Request) (string, error) {
	res, err := inv.Recognize(ctx, req)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Recognize runs tesseract on the request's image and returns the text it
// printed.
//
// A streamed image is encoded as BMP, written to the child's standard input
// and the input is closed; tesseract waits for end of input before
// recognizing. Standard output and standard error are drained concurrently
// with the write. Non-empty standard error is forwarded to Config.Stderr and
// returned in Result.Diagnostics; if writing to the sink fails, that error is
// returned.
//
// Errors match ErrInvalidInput when the request is rejected before spawning,
// and ErrExternalTool when the executable cannot be found or started, exits
// with a non-zero status, or is killed by ctx or Config.Timeout.
func (inv *Invoker) Recognize(ctx context.Context, req Request) (*Result, error) {
	const op = "Recognize"
	start := time.Now()

	if err := req.Source.validate(); err != nil {
		return nil, err
	}

	bin, err := inv.executable()
	if err != nil {
		return nil, err
	}

	if inv.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.cfg.Timeout)
		defer cancel()
	}

	args := inv.Args(req)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = waitDelay
	if dir := inv.cfg.InstallDir; dir != "" {
		cmd.Dir = dir
		cmd.Env = prependPath(os.Environ(), dir)
	}

	var out, diag bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &diag

	var stdin io.WriteCloser
	if req.Source.Streamed() {
		if stdin, err = cmd.StdinPipe(); err != nil {
			return nil, externalTool(op, err, "failed to open stdin pipe")
		}
	}

	inv.log.Debug().
		Str("binary", bin).
		Str("source", req.Source.String()).
		Strs("args", args).
		Msg("Starting tesseract")

	if err := cmd.Start(); err != nil {
		return nil, externalTool(op, err, "failed to start "+bin)
	}

	// Output is collected by exec while the image is written, so neither
	// side can block on a full pipe.
	var g errgroup.Group
	if stdin != nil {
		g.Go(func() error {
			return writeImage(stdin, req.Source.img)
		})
	}
	waitErr := cmd.Wait()
	// A child that exits early closes its end of the pipe; the resulting
	// write error is only reported if the exit was clean.
	writeErr := g.Wait()

	diagnostics := diag.String()
	if diagnostics != "" && inv.cfg.Stderr != nil {
		if _, err := io.WriteString(inv.cfg.Stderr, diagnostics); err != nil {
			return nil, fmt.Errorf("tesseract: forwarding diagnostics: %w", err)
		}
	}

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			e := externalTool(op, ctxErr, "tesseract was terminated")
			e.Stderr = diagnostics
			return nil, e
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			e := externalTool(op, ErrToolFailed, firstLine(diagnostics))
			e.ExitCode = exitErr.ExitCode()
			e.Stderr = diagnostics
			return nil, e
		}
		e := externalTool(op, waitErr, "waiting for tesseract")
		e.Stderr = diagnostics
		return nil, e
	}
	if writeErr != nil {
		return nil, externalTool(op, writeErr, "failed to stream image")
	}

	res := &Result{
		Text:        decodeText(out.Bytes()),
		Diagnostics: diagnostics,
		Duration:    time.Since(start),
	}

	inv.log.Debug().
		Dur("duration", res.Duration).
		Int("text_length", len(res.Text)).
		Int("diagnostics_length", len(diagnostics)).
		Msg("Tesseract finished")

	return res, nil
}

// Version returns the first line of "tesseract --version".
func (inv *Invoker) Version(ctx context.Context) (string, error) {
	out, err := inv.run(ctx, "Version", "--version")
	if err != nil {
		return "", err
	}
	return firstLine(out), nil
}

// Languages returns the language codes tesseract reports as installed. An
// empty tessdataDir uses tesseract's default data directory.
func (inv *Invoker) Languages(ctx context.Context, tessdataDir string) ([]string, error) {
	args := []string{"--list-langs"}
	if tessdataDir != "" {
		args = append(args, "--tessdata-dir", tessdataDir)
	}
	out, err := inv.run(ctx, "Languages", args...)
	if err != nil {
		return nil, err
	}

	var langs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") {
			continue
		}
		langs = append(langs, line)
	}
	return langs, nil
}

// run executes tesseract with args and returns combined output. Older
// releases print version and language lists to stderr.
func (inv *Invoker) run(ctx context.Context, op string, args ...string) (string, error) {
	bin, err := inv.executable()
	if err != nil {
		return "", err
	}
	if inv.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = waitDelay
	if dir := inv.cfg.InstallDir; dir != "" {
		cmd.Dir = dir
		cmd.Env = prependPath(os.Environ(), dir)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		e := externalTool(op, err, strings.Join(args, " "))
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			e.Err = ErrToolFailed
			e.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.Err = ctxErr
		}
		e.Stderr = string(out)
		return "", e
	}
	return decodeText(out), nil
}

func (inv *Invoker) executable() (string, error) {
	const op = "Resolve"

	name := inv.cfg.binary()
	if inv.cfg.InstallDir != "" {
		name = filepath.Join(inv.cfg.InstallDir, name)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", externalTool(op, fmt.Errorf("%w: %w", ErrToolNotFound, err), name)
	}
	return path, nil
}

func writeImage(w io.WriteCloser, img image.Image) error {
	err := bmp.Encode(w, img)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}

// decodeText drops invalid UTF-8 and trailing line terminators and spaces.
func decodeText(b []byte) string {
	return strings.TrimRight(strings.ToValidUTF8(string(b), ""), "\r\n ")
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\r\n ")
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func prependPath(env []string, dir string) []string {
	out := make([]string, 0, len(env)+1)
	found := false
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.EqualFold(k, "PATH") {
			found = true
			if v != "" {
				kv = k + "=" + dir + string(os.PathListSeparator) + v
			} else {
				kv = k + "=" + dir
			}
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, "PATH="+dir)
	}
	return out
}
