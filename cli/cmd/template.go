package cmd

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/funcpack/funcpack/internal/sink"
	"github.com/funcpack/funcpack/internal/template"
)

var templateOutput string

var templateCmd = &cobra.Command{
	Use:   "template [template-file]",
	Short: "Rewrite a CloudFormation/SAM template to point at uploaded code",
	Long: `Package and upload the code of every function resource in a
CloudFormation or SAM template, and rewrite the template's code locations to
the uploaded archives. Resources that already reference remote code are left
untouched. The transformed template is written as JSON.

Examples:
  funcpack template template.yaml --output packaged.json
  funcpack template template.json --output -`,
	Args: cobra.ExactArgs(1),
	RunE: runTemplate,
}

func init() {
	templateCmd.Flags().StringVar(&templateOutput, "output", "-",
		"Output path for the transformed template (- for stdout)")
}

// pipelineUploader wires the packaging pipeline to the S3 sink. One instance
// serves a whole template run, so its cache and duplicate checks are shared
// across all resources.
type pipelineUploader struct {
	session *session
	s3      *sink.S3Sink
	baseDir string
}

func (u *pipelineUploader) PackageAndUpload(ctx context.Context, entryPath string) (sink.Location, error) {
	archive, err := u.session.packageEntry(ctx, entryPath, u.baseDir)
	if err != nil {
		return sink.Location{}, err
	}
	return u.s3.Put(ctx, archive)
}

func runTemplate(cmd *cobra.Command, args []string) error {
	s, cleanup, err := newSession()
	if err != nil {
		return err
	}
	defer cleanup()

	s3, err := newS3Sink()
	if err != nil {
		return err
	}

	uploader := &pipelineUploader{session: s, s3: s3, baseDir: filepath.Dir(args[0])}
	transformed, err := template.Transform(cmd.Context(), args[0], uploader)
	if err != nil {
		return err
	}

	return template.WriteTransformed(transformed, templateOutput)
}
