package cmd

import (
	"github.com/spf13/cobra"

	"github.com/funcpack/funcpack/internal/sink"
)

var zipOutput string

var zipCmd = &cobra.Command{
	Use:   "zip [entry]",
	Short: "Package an entry file into a local zip archive",
	Long: `Package an entry file and its dependency closure into a zip archive.

Examples:
  funcpack zip ./src/handler.js --output handler.zip
  funcpack zip ./src/handler.ts --tsconfig tsconfig.json --output handler.zip`,
	Args: cobra.ExactArgs(1),
	RunE: runZip,
}

func init() {
	zipCmd.Flags().StringVar(&zipOutput, "output", "", "Output archive path (required)")
	_ = zipCmd.MarkFlagRequired("output")
}

func runZip(cmd *cobra.Command, args []string) error {
	s, cleanup, err := newSession()
	if err != nil {
		return err
	}
	defer cleanup()

	archive, err := s.packageEntry(cmd.Context(), args[0], "")
	if err != nil {
		return err
	}

	outPath, err := sink.Local(archive, zipOutput)
	if err != nil {
		return err
	}

	formatter.PrintSuccess("Wrote " + outPath)
	return nil
}
