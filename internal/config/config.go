package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"tessctl/internal/logger"
	"tessctl/internal/tesseract"
)

// Diagnostic sink names accepted by TESSERACT_STDERR. Any other value is a file path.
const (
	SinkLog     = "log"
	SinkStderr  = "stderr"
	SinkDiscard = "discard"
)

type Config struct {
	// Tesseract Configuration
	TesseractDir     string
	TesseractBinary  string
	TesseractStderr  string
	TesseractPSMFlag string
	TesseractTimeout time.Duration

	// Recognition defaults
	DefaultLang string
	DefaultPSM  int

	// Batch Configuration
	BatchWorkers int

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		TesseractDir:     getEnv("TESSERACT_DIR", ""),
		TesseractBinary:  getEnv("TESSERACT_BINARY", tesseract.DefaultBinary),
		TesseractStderr:  getEnv("TESSERACT_STDERR", SinkLog),
		TesseractPSMFlag: getEnv("TESSERACT_PSM_FLAG", tesseract.PSMFlagLegacy),
		DefaultLang:      getEnv("TESSERACT_LANG", tesseract.DefaultLang),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:    getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:        getEnv("LOG_OUTPUT", "stderr"),
	}

	var err error
	if config.TesseractTimeout, err = getDuration("TESSERACT_TIMEOUT", 0); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if config.DefaultPSM, err = getInt("TESSERACT_PSM", tesseract.DefaultPSM); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if config.BatchWorkers, err = getInt("BATCH_WORKERS", runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Default returns the configuration used when the environment is unusable.
func Default() *Config {
	return &Config{
		TesseractBinary:  tesseract.DefaultBinary,
		TesseractStderr:  SinkLog,
		TesseractPSMFlag: tesseract.PSMFlagLegacy,
		DefaultLang:      tesseract.DefaultLang,
		DefaultPSM:       tesseract.DefaultPSM,
		BatchWorkers:     runtime.NumCPU(),
		LogLevel:         "info",
		LogFormat:        "console",
		LogTimeFormat:    "2006-01-02T15:04:05Z07:00",
		LogOutput:        "stderr",
	}
}

func (c *Config) validate() error {
	if c.TesseractTimeout < 0 {
		return fmt.Errorf("TESSERACT_TIMEOUT must not be negative (got %s)", c.TesseractTimeout)
	}
	if c.TesseractPSMFlag != tesseract.PSMFlagLegacy && c.TesseractPSMFlag != tesseract.PSMFlagModern {
		return fmt.Errorf("TESSERACT_PSM_FLAG must be %q or %q (got %q)",
			tesseract.PSMFlagLegacy, tesseract.PSMFlagModern, c.TesseractPSMFlag)
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be > 0 (got %d)", c.BatchWorkers)
	}
	if c.TesseractDir != "" {
		info, err := os.Stat(c.TesseractDir)
		if err != nil {
			return fmt.Errorf("TESSERACT_DIR is not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("TESSERACT_DIR is not a directory: %s", c.TesseractDir)
		}
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// InvokerConfig returns the tesseract invoker configuration. The returned
// closer releases the diagnostic sink and must be called when done.
func (c *Config) InvokerConfig(log zerolog.Logger) (tesseract.Config, func() error, error) {
	sink, closer, err := c.openSink(log)
	if err != nil {
		return tesseract.Config{}, nil, err
	}
	return tesseract.Config{
		InstallDir: c.TesseractDir,
		Binary:     c.TesseractBinary,
		Stderr:     sink,
		Timeout:    c.TesseractTimeout,
		PSMFlag:    c.TesseractPSMFlag,
		Logger:     &log,
	}, closer, nil
}

func (c *Config) openSink(log zerolog.Logger) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(c.TesseractStderr) {
	case SinkDiscard, "":
		return nil, noop, nil
	case SinkStderr:
		return os.Stderr, noop, nil
	case SinkLog:
		w := logger.NewLineWriter(log, zerolog.WarnLevel, "stderr")
		return w, func() error { w.Flush(); return nil }, nil
	default:
		f, err := os.OpenFile(c.TesseractStderr, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open TESSERACT_STDERR file: %w", err)
		}
		return f, f.Close, nil
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got %q)", key, value)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s (got %q)", key, value)
	}
	return d, nil
}
