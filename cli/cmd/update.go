package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/funcpack/funcpack/internal/sink"
)

var updateCmd = &cobra.Command{
	Use:   "update [function-name] [entry]",
	Short: "Package an entry file and update a deployed Lambda function",
	Long: `Package an entry file and replace the code of a deployed Lambda
function with the resulting archive.

Examples:
  funcpack update my-function ./src/handler.js
  funcpack update my-function ./src/handler.js --region eu-west-1`,
	Args: cobra.ExactArgs(2),
	RunE: runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) error {
	functionName, entry := args[0], args[1]

	s, cleanup, err := newSession()
	if err != nil {
		return err
	}
	defer cleanup()

	archive, err := s.packageEntry(cmd.Context(), entry, "")
	if err != nil {
		return err
	}

	client, err := sink.NewLambdaClient(cmd.Context(), regionSetting(), endpointSetting())
	if err != nil {
		return err
	}

	result, err := sink.UpdateFunction(cmd.Context(), client, functionName, archive)
	if err != nil {
		return err
	}

	formatter.PrintKeyValues([][2]string{
		{"Function", result.FunctionName},
		{"Version", result.Version},
		{"Code Size", strconv.FormatInt(result.CodeSize, 10)},
		{"Last Modified", result.LastModified},
	})
	return nil
}
