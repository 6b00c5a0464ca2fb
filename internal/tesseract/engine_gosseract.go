//go:build gosseract

package tesseract

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/image/bmp"
)

func init() {
	engines["gosseract"] = func(Config) Engine { return &libEngine{} }
}

// libEngine recognizes through libtesseract in-process. It honours the same
// Request fields as the executable. Config does not apply: there is no
// executable to locate, and libtesseract writes its diagnostics straight to
// the process's stderr, so Result.Diagnostics is always empty.
type libEngine struct{}

func (e *libEngine) Name() string { return "gosseract" }

func (e *libEngine) Recognize(ctx context.Context, req Request) (*Result, error) {
	const op = "Recognize"
	start := time.Now()

	if err := req.Source.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, externalTool(op, err, "")
	}

	client := gosseract.NewClient()
	defer client.Close()

	if req.TessdataDir != "" {
		if err := client.SetTessdataPrefix(req.TessdataDir); err != nil {
			return nil, externalTool(op, err, "failed to set tessdata dir")
		}
	}
	if err := client.SetLanguage(strings.Split(req.lang(), "+")...); err != nil {
		return nil, externalTool(op, err, "failed to set language")
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(req.PSM)); err != nil {
		return nil, externalTool(op, err, "failed to set page segmentation mode")
	}
	if req.UserWords != "" {
		if err := client.SetVariable("user_words_file", req.UserWords); err != nil {
			return nil, externalTool(op, err, "failed to set user words")
		}
	}
	if req.UserPatterns != "" {
		if err := client.SetVariable("user_patterns_file", req.UserPatterns); err != nil {
			return nil, externalTool(op, err, "failed to set user patterns")
		}
	}
	for _, v := range req.Vars.list {
		if err := client.SetVariable(gosseract.SettableVariable(v.Name), v.Value); err != nil {
			return nil, externalTool(op, err, "failed to set "+v.Name)
		}
	}
	if req.ConfigName != "" {
		if err := client.SetConfigFile(configPath(req)); err != nil {
			return nil, externalTool(op, err, "failed to load config "+req.ConfigName)
		}
	}

	if req.Source.Streamed() {
		var buf bytes.Buffer
		if err := bmp.Encode(&buf, req.Source.img); err != nil {
			return nil, invalidInput(op, err, "failed to encode image")
		}
		if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
			return nil, externalTool(op, err, "failed to set image")
		}
	} else if err := client.SetImage(req.Source.Path()); err != nil {
		return nil, externalTool(op, err, "failed to set image")
	}

	text, err := client.Text()
	if err != nil {
		return nil, externalTool(op, err, "recognition failed")
	}

	return &Result{
		Text:     decodeText([]byte(text)),
		Duration: time.Since(start),
	}, nil
}

// configPath resolves a named profile the way the executable does: a path is
// used as is, a bare name is looked up under <tessdata>/configs.
func configPath(req Request) string {
	if strings.ContainsRune(req.ConfigName, os.PathSeparator) {
		return req.ConfigName
	}
	if _, err := os.Stat(req.ConfigName); err == nil {
		return req.ConfigName
	}
	dir := req.TessdataDir
	if dir == "" {
		dir = os.Getenv("TESSDATA_PREFIX")
	}
	return filepath.Join(dir, "configs", req.ConfigName)
}
