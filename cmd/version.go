package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"tessctl/internal/logger"
	"tessctl/internal/tesseract"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print tessctl and tesseract versions",
	Long: `Print the tessctl version and the first line of "tesseract --version".
Fails if the tesseract executable cannot be found or run.`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("version")

	fmt.Fprintf(cmd.OutOrStdout(), "tessctl %s\n", version)

	ctx, cancel := createContextWithTimeout(appConfig.TesseractTimeout, log)
	defer cancel()

	cfg, closeSink, err := appConfig.InvokerConfig(log)
	if err != nil {
		return err
	}
	defer closeSink()

	v, err := tesseract.New(cfg).Version(ctx)
	if err != nil {
		return handleRecognizeError(err, log)
	}
	fmt.Fprintln(cmd.OutOrStdout(), v)
	return nil
}
