// Package tesseract converts images to text by running the tesseract
// command-line executable as a child process.
//
// An image is supplied either as a decoded image.Image, which is encoded as
// BMP and streamed to the child's standard input, or as a path to an image
// file, which is passed to the child as its input argument. Recognized text is
// read from the child's standard output, decoded as UTF-8 (invalid sequences
// are dropped) and stripped of trailing carriage returns, line feeds and
// spaces.
//
// Anything the child writes to standard error is treated as diagnostics: it is
// forwarded to Config.Stderr and never causes a failure on its own. A non-zero
// exit status does.
//
// Each call spawns exactly one process and owns it for the duration of the
// call, so an Invoker is safe for concurrent use.
//
// Required executable:
//   - tesseract 3.03 or newer (reading images from stdin)
//   - tesseract 4+ expects Config.PSMFlag = "--psm"
package tesseract

import (
	"context"
	"sort"
	"time"
)

// Engine defines the interface for text recognition backends.
type Engine interface {
	// Name identifies the backend (e.g., "cli").
	Name() string

	// Recognize extracts text from the request's image.
	Recognize(ctx context.Context, req Request) (*Result, error)
}

// Result contains recognized text and what the engine reported alongside it.
type Result struct {
	// Text is the recognized text with trailing "\r", "\n" and " " removed.
	Text string `json:"text"`

	// Diagnostics is the text the engine wrote to its error stream, if any.
	Diagnostics string `json:"diagnostics,omitempty"`

	// Duration is how long the recognition took.
	Duration time.Duration `json:"duration"`
}

var engines = map[string]func(Config) Engine{
	"cli": func(cfg Config) Engine { return New(cfg) },
}

// NewEngine returns the backend registered under name.
func NewEngine(name string, cfg Config) (Engine, error) {
	factory, ok := engines[name]
	if !ok {
		return nil, invalidInput("NewEngine", ErrUnsupportedEngine, "engine "+name+" is not available in this build")
	}
	return factory(cfg), nil
}

// EngineNames lists the backends compiled into this build.
func EngineNames() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
