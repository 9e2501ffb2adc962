package cmd

import (
	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [entry]",
	Short: "Package an entry file and upload the archive to S3",
	Long: `Package an entry file and upload the archive to S3 under a
content-addressed key. Identical content is uploaded at most once.

Examples:
  funcpack upload ./src/handler.js
  funcpack upload ./src/handler.js --bucket my-artifacts --prefix team-a
  funcpack upload ./src/handler.js --endpoint http://localhost:4566`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func runUpload(cmd *cobra.Command, args []string) error {
	s, cleanup, err := newSession()
	if err != nil {
		return err
	}
	defer cleanup()

	archive, err := s.packageEntry(cmd.Context(), args[0], "")
	if err != nil {
		return err
	}

	s3, err := newS3Sink()
	if err != nil {
		return err
	}

	loc, err := s3.Put(cmd.Context(), archive)
	if err != nil {
		return err
	}

	formatter.PrintKeyValues([][2]string{
		{"Bucket", loc.Bucket},
		{"Key", loc.Key},
	})
	return nil
}
