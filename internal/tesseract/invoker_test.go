package tesseract

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"golang.org/x/image/bmp"
)

// fakeTesseract writes a shell script named tesseract into a fresh directory
// and returns that directory. The script records its argv, working directory
// and streamed stdin next to itself, then runs body.
func fakeTesseract(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tesseract is a POSIX shell script")
	}

	dir := t.TempDir()
	script := `#!/bin/sh
dir=$(dirname "$0")
: > "$dir/spawned"
for a in "$@"; do printf '%s\n' "$a"; done > "$dir/args"
pwd > "$dir/cwd"
if [ "$1" = stdin ]; then cat > "$dir/stdin.bmp"; fi
` + body + "\n"
	if err := os.WriteFile(filepath.Join(dir, "tesseract"), []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write fake tesseract: %v", err)
	}
	return dir
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func blankImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img
}

func tempImageFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.bmp")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create image file: %v", err)
	}
	defer f.Close()
	if err := bmp.Encode(f, blankImage(8, 8)); err != nil {
		t.Fatalf("failed to encode image file: %v", err)
	}
	return path
}

func TestArgs(t *testing.T) {
	withVars := NewRequest(FromImage(blankImage(1, 1)))
	withVars.Vars.Set("tessedit_char_whitelist", "0123456789")
	withVars.Vars.Set("load_system_dawg", "F")
	withVars.ConfigName = "digits"

	tests := []struct {
		name     string
		cfg      Config
		req      Request
		expected []string
	}{
		{
			name:     "Streamed image with defaults",
			req:      NewRequest(FromImage(blankImage(1, 1))),
			expected: []string{"stdin", "stdout", "-psm", "3", "-l", "eng"},
		},
		{
			name:     "Path source",
			req:      Request{Source: FromPath("/tmp/page.png"), PSM: 7, Lang: "deu"},
			expected: []string{"/tmp/page.png", "stdout", "-psm", "7", "-l", "deu"},
		},
		{
			name:     "Empty language falls back to eng",
			req:      Request{Source: FromPath("a.png"), PSM: 6},
			expected: []string{"a.png", "stdout", "-psm", "6", "-l", "eng"},
		},
		{
			name: "Optional paths",
			req: Request{
				Source:       FromPath("a.png"),
				PSM:          3,
				Lang:         "eng+fra",
				TessdataDir:  "/data",
				UserWords:    "/words.txt",
				UserPatterns: "/patterns.txt",
			},
			expected: []string{
				"a.png", "stdout", "-psm", "3", "-l", "eng+fra",
				"--tessdata-dir", "/data",
				"--user-words", "/words.txt",
				"--user-patterns", "/patterns.txt",
			},
		},
		{
			name: "Variables in insertion order then config name",
			req:  withVars,
			expected: []string{
				"stdin", "stdout", "-psm", "3", "-l", "eng",
				"-c", "tessedit_char_whitelist=0123456789",
				"-c", "load_system_dawg=F",
				"digits",
			},
		},
		{
			name:     "Modern PSM flag",
			cfg:      Config{PSMFlag: PSMFlagModern},
			req:      Request{Source: FromPath("a.png"), PSM: 10},
			expected: []string{"a.png", "stdout", "--psm", "10", "-l", "eng"},
		},
		{
			name:     "Out of range PSM is passed through",
			req:      Request{Source: FromPath("a.png"), PSM: 99},
			expected: []string{"a.png", "stdout", "-psm", "99", "-l", "eng"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.cfg).Args(tt.req)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Args() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestVarsSet(t *testing.T) {
	var vars Vars
	vars.Set("b", "1")
	vars.Set("a", "2")
	vars.Set("b", "3")

	expected := []Var{{Name: "b", Value: "3"}, {Name: "a", Value: "2"}}
	if got := vars.All(); !reflect.DeepEqual(got, expected) {
		t.Errorf("All() = %v, expected %v", got, expected)
	}
	if v, ok := vars.Get("a"); !ok || v != "2" {
		t.Errorf("Get(a) = %q, %v", v, ok)
	}
	if _, ok := vars.Get("missing"); ok {
		t.Error("Get(missing) reported present")
	}
	if vars.Len() != 2 {
		t.Errorf("Len() = %d, expected 2", vars.Len())
	}
}

func TestRecognizeStreamsBMP(t *testing.T) {
	dir := fakeTesseract(t, `printf 'Hello world\r\n \n'`)
	inv := New(Config{InstallDir: dir})

	res, err := inv.Recognize(context.Background(), NewRequest(FromImage(blankImage(37, 19))))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Text != "Hello world" {
		t.Errorf("Text = %q, expected %q", res.Text, "Hello world")
	}

	args := readLines(t, filepath.Join(dir, "args"))
	if args[0] != "stdin" || args[1] != "stdout" {
		t.Errorf("args = %q, expected stdin stdout prefix", args)
	}

	f, err := os.Open(filepath.Join(dir, "stdin.bmp"))
	if err != nil {
		t.Fatalf("streamed image not captured: %v", err)
	}
	defer f.Close()
	cfg, err := bmp.DecodeConfig(f)
	if err != nil {
		t.Fatalf("streamed image is not a BMP: %v", err)
	}
	if cfg.Width != 37 || cfg.Height != 19 {
		t.Errorf("streamed image is %dx%d, expected 37x19", cfg.Width, cfg.Height)
	}
}

func TestRecognizePathSource(t *testing.T) {
	dir := fakeTesseract(t, `echo "from file"`)
	path := tempImageFile(t)

	text, err := New(Config{InstallDir: dir}).Text(context.Background(), NewRequest(FromPath(path)))
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if text != "from file" {
		t.Errorf("Text() = %q, expected %q", text, "from file")
	}
	if args := readLines(t, filepath.Join(dir, "args")); args[0] != path {
		t.Errorf("first argument = %q, expected %q", args[0], path)
	}
	if _, err := os.Stat(filepath.Join(dir, "stdin.bmp")); !os.IsNotExist(err) {
		t.Error("path source should not stream stdin")
	}
}

func TestRecognizeInvalidInput(t *testing.T) {
	dir := fakeTesseract(t, `echo unreachable`)
	inv := New(Config{InstallDir: dir})

	tests := []struct {
		name  string
		src   Source
		cause error
	}{
		{name: "Missing file", src: FromPath(filepath.Join(dir, "missing.png")), cause: ErrImageNotFound},
		{name: "Zero source", src: Source{}, cause: ErrUnsupportedSource},
		{name: "Nil image", src: FromImage(nil), cause: ErrUnsupportedSource},
		{name: "Typed nil image", src: FromImage((*image.RGBA)(nil)), cause: ErrUnsupportedSource},
		{name: "Empty image", src: FromImage(image.NewGray(image.Rect(0, 0, 0, 0))), cause: ErrUnsupportedSource},
		{name: "Directory", src: FromPath(dir), cause: ErrUnsupportedSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inv.Recognize(context.Background(), NewRequest(tt.src))
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("error = %v, expected ErrInvalidInput", err)
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("error = %v, expected cause %v", err, tt.cause)
			}
			if errors.Is(err, ErrExternalTool) {
				t.Error("invalid input must not match ErrExternalTool")
			}
			if _, statErr := os.Stat(filepath.Join(dir, "spawned")); !os.IsNotExist(statErr) {
				t.Error("tesseract was spawned for invalid input")
			}
		})
	}
}

func TestRecognizeToolNotFound(t *testing.T) {
	inv := New(Config{InstallDir: t.TempDir()})

	_, err := inv.Recognize(context.Background(), NewRequest(FromImage(blankImage(4, 4))))
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("error = %v, expected ErrExternalTool", err)
	}
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("error = %v, expected ErrToolNotFound", err)
	}
}

func TestRecognizeDiagnostics(t *testing.T) {
	dir := fakeTesseract(t, `echo "Warning: Invalid resolution 0 dpi." >&2
echo text`)

	t.Run("Forwarded to sink", func(t *testing.T) {
		var sink bytes.Buffer
		res, err := New(Config{InstallDir: dir, Stderr: &sink}).
			Recognize(context.Background(), NewRequest(FromImage(blankImage(4, 4))))
		if err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
		if res.Text != "text" {
			t.Errorf("Text = %q, expected %q", res.Text, "text")
		}
		if !strings.Contains(sink.String(), "Invalid resolution") {
			t.Errorf("sink = %q, expected the warning", sink.String())
		}
		if res.Diagnostics != sink.String() {
			t.Errorf("Diagnostics = %q, expected %q", res.Diagnostics, sink.String())
		}
	})

	t.Run("Discarded without sink", func(t *testing.T) {
		res, err := New(Config{InstallDir: dir}).
			Recognize(context.Background(), NewRequest(FromImage(blankImage(4, 4))))
		if err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
		if res.Text != "text" {
			t.Errorf("Text = %q, expected %q", res.Text, "text")
		}
	})

	t.Run("Sink failure is returned", func(t *testing.T) {
		_, err := New(Config{InstallDir: dir, Stderr: failingWriter{}}).
			Recognize(context.Background(), NewRequest(FromImage(blankImage(4, 4))))
		if !errors.Is(err, errSinkClosed) {
			t.Errorf("error = %v, expected sink error", err)
		}
	})
}

var errSinkClosed = errors.New("sink closed")

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errSinkClosed }

func TestRecognizeNonZeroExit(t *testing.T) {
	dir := fakeTesseract(t, `echo "Error: invalid page segmentation mode" >&2
exit 1`)

	req := NewRequest(FromImage(blankImage(4, 4)))
	req.PSM = 99
	_, err := New(Config{InstallDir: dir}).Recognize(context.Background(), req)
	if !errors.Is(err, ErrExternalTool) || !errors.Is(err, ErrToolFailed) {
		t.Fatalf("error = %v, expected ErrToolFailed", err)
	}

	var tessErr *Error
	if !errors.As(err, &tessErr) {
		t.Fatalf("error %T is not *Error", err)
	}
	if tessErr.ExitCode != 1 {
		t.Errorf("ExitCode = %d, expected 1", tessErr.ExitCode)
	}
	if !strings.Contains(tessErr.Stderr, "invalid page segmentation mode") {
		t.Errorf("Stderr = %q", tessErr.Stderr)
	}
}

func TestRecognizeDropsInvalidUTF8(t *testing.T) {
	dir := fakeTesseract(t, `printf 'caf\303\251 \377ok\n\n'`)

	text, err := New(Config{InstallDir: dir}).Text(context.Background(), NewRequest(FromImage(blankImage(4, 4))))
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if text != "café ok" {
		t.Errorf("Text() = %q, expected %q", text, "café ok")
	}
}

func TestRecognizeEmptyOutput(t *testing.T) {
	dir := fakeTesseract(t, `printf '\n \n'`)

	text, err := New(Config{InstallDir: dir}).Text(context.Background(), NewRequest(FromImage(blankImage(4, 4))))
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if text != "" {
		t.Errorf("Text() = %q, expected empty", text)
	}
}

func TestRecognizeTimeout(t *testing.T) {
	dir := fakeTesseract(t, `exec sleep 10`)
	inv := New(Config{InstallDir: dir, Timeout: 200 * time.Millisecond})

	start := time.Now()
	_, err := inv.Recognize(context.Background(), NewRequest(FromPath(tempImageFile(t))))
	if !errors.Is(err, ErrExternalTool) {
		t.Fatalf("error = %v, expected ErrExternalTool", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, expected context.DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Recognize took %v after the deadline", elapsed)
	}
}

func TestRecognizeCanceledContext(t *testing.T) {
	dir := fakeTesseract(t, `exec sleep 10`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := New(Config{InstallDir: dir}).Recognize(ctx, NewRequest(FromPath(tempImageFile(t))))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, expected context.Canceled", err)
	}
}

func TestRecognizeWorkingDirectory(t *testing.T) {
	dir := fakeTesseract(t, `echo "$PATH"`)

	text, err := New(Config{InstallDir: dir}).Text(context.Background(), NewRequest(FromImage(blankImage(4, 4))))
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}

	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(readLines(t, filepath.Join(dir, "cwd"))[0])
	if got != want {
		t.Errorf("working directory = %q, expected %q", got, want)
	}
	if !strings.HasPrefix(text, dir+string(os.PathListSeparator)) && text != dir {
		t.Errorf("PATH = %q, expected it to start with %q", text, dir)
	}
}

func TestRecognizeRelativeInstallDir(t *testing.T) {
	dir := fakeTesseract(t, `echo "relative ok"`)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(filepath.Dir(dir)); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	inv := New(Config{InstallDir: filepath.Base(dir)})
	text, err := inv.Text(context.Background(), NewRequest(FromImage(blankImage(4, 4))))
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if text != "relative ok" {
		t.Errorf("Text() = %q, expected %q", text, "relative ok")
	}

	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(readLines(t, filepath.Join(dir, "cwd"))[0])
	if got != want {
		t.Errorf("working directory = %q, expected %q", got, want)
	}
}

func TestRecognizeConcurrent(t *testing.T) {
	dir := fakeTesseract(t, `echo "$3$4"`)
	inv := New(Config{InstallDir: dir})

	errs := make(chan error, 8)
	for i := 0; i < cap(errs); i++ {
		go func() {
			text, err := inv.Text(context.Background(), NewRequest(FromImage(blankImage(16, 16))))
			if err == nil && text != "-psm3" {
				err = errors.New("unexpected text " + text)
			}
			errs <- err
		}()
	}
	for i := 0; i < cap(errs); i++ {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}
}

func TestVersion(t *testing.T) {
	dir := fakeTesseract(t, `echo "tesseract 5.3.0"
echo " leptonica-1.82.0"`)

	v, err := New(Config{InstallDir: dir}).Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v != "tesseract 5.3.0" {
		t.Errorf("Version() = %q", v)
	}
}

func TestLanguages(t *testing.T) {
	dir := fakeTesseract(t, `echo 'List of available languages in "/usr/share/tessdata/" (3):'
echo eng
echo osd
echo deu`)

	langs, err := New(Config{InstallDir: dir}).Languages(context.Background(), "/data")
	if err != nil {
		t.Fatalf("Languages() error = %v", err)
	}
	if expected := []string{"eng", "osd", "deu"}; !reflect.DeepEqual(langs, expected) {
		t.Errorf("Languages() = %q, expected %q", langs, expected)
	}
	args := readLines(t, filepath.Join(dir, "args"))
	if expected := []string{"--list-langs", "--tessdata-dir", "/data"}; !reflect.DeepEqual(args, expected) {
		t.Errorf("args = %q, expected %q", args, expected)
	}
}

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{name: "Trailing CRLF and spaces", input: []byte("abc \r\n \n"), expected: "abc"},
		{name: "Leading whitespace kept", input: []byte("  abc\n"), expected: "  abc"},
		{name: "Trailing tab kept", input: []byte("abc\t\n"), expected: "abc\t"},
		{name: "Invalid bytes dropped", input: []byte{'a', 0xff, 0xfe, 'b'}, expected: "ab"},
		{name: "Form feed kept", input: []byte("page\f"), expected: "page\f"},
		{name: "Empty", input: nil, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeText(tt.input); got != tt.expected {
				t.Errorf("decodeText() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestPrependPath(t *testing.T) {
	sep := string(os.PathListSeparator)

	got := prependPath([]string{"HOME=/root", "PATH=/usr/bin"}, "/opt/tess")
	expected := []string{"HOME=/root", "PATH=/opt/tess" + sep + "/usr/bin"}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("prependPath() = %q, expected %q", got, expected)
	}

	got = prependPath([]string{"HOME=/root"}, "/opt/tess")
	expected = []string{"HOME=/root", "PATH=/opt/tess"}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("prependPath() = %q, expected %q", got, expected)
	}
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine("cli", Config{})
	if err != nil {
		t.Fatalf("NewEngine(cli) error = %v", err)
	}
	if e.Name() != "cli" {
		t.Errorf("Name() = %q", e.Name())
	}

	_, err = NewEngine("nope", Config{})
	if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, ErrUnsupportedEngine) {
		t.Errorf("NewEngine(nope) error = %v", err)
	}
}
