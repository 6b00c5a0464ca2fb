package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"tessctl/internal/logger"
	"tessctl/internal/tesseract"
)

var langsCmd = &cobra.Command{
	Use:   "langs",
	Short: "List the languages tesseract has data for",
	Args:  cobra.NoArgs,
	RunE:  runLangs,
}

func init() {
	rootCmd.AddCommand(langsCmd)

	langsCmd.Flags().String("tessdata-dir", "", "Path to the tessdata directory")
}

func runLangs(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("langs")
	tessdataDir, _ := cmd.Flags().GetString("tessdata-dir")

	ctx, cancel := createContextWithTimeout(appConfig.TesseractTimeout, log)
	defer cancel()

	cfg, closeSink, err := appConfig.InvokerConfig(log)
	if err != nil {
		return err
	}
	defer closeSink()

	langs, err := tesseract.New(cfg).Languages(ctx, tessdataDir)
	if err != nil {
		return handleRecognizeError(err, log)
	}

	log.Debug().Int("count", len(langs)).Msg("Languages listed")
	for _, l := range langs {
		fmt.Fprintln(cmd.OutOrStdout(), l)
	}
	return nil
}
