package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"tessctl/cmd"
	"tessctl/internal/config"
	"tessctl/internal/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Warning: Could not load configuration: %v", err)
		if err := logger.Setup(logger.DefaultConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	} else {
		if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
	}

	log := logger.WithComponent("main")
	log.Debug().Msg("Starting tessctl")

	// A nil config keeps the built-in defaults.
	cmd.Execute(cfg)

	log.Debug().Msg("tessctl shutdown")
	os.Exit(0)
}
