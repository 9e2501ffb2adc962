// Package template rewrites CloudFormation and SAM templates so that
// resources pointing at local function code point at uploaded archives
// instead.
package template

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/funcpack/funcpack/internal/sink"
)

// Resource types whose code-location property is rewritten.
const (
	lambdaFunctionType     = "AWS::Lambda::Function"
	serverlessFunctionType = "AWS::Serverless::Function"
)

// remoteSchemes are URI prefixes marking a code location as already remote.
var remoteSchemes = []string{"s3://", "http://", "https://"}

// TemplateParseError reports a template that is neither valid JSON nor
// valid YAML.
type TemplateParseError struct {
	Path    string
	JSONErr error
	YAMLErr error
}

func (e *TemplateParseError) Error() string {
	return fmt.Sprintf("template %s is neither valid JSON (%v) nor valid YAML (%v)", e.Path, e.JSONErr, e.YAMLErr)
}

// Uploader packages an entry file and returns the remote location of its
// uploaded archive. One Uploader instance is shared across a whole template
// run so that repeated references to the same entry reuse one build and the
// remote duplicate check sees every upload.
type Uploader interface {
	PackageAndUpload(ctx context.Context, entryPath string) (sink.Location, error)
}

// Transform reads the template at templatePath, packages and uploads the
// code of every recognized function resource whose code location is a local
// path, and returns the rewritten template object. Resources whose location
// is already remote, or whose referenced file does not exist, are logged and
// left untouched; they never fail the overall transform.
func Transform(ctx context.Context, templatePath string, up Uploader) (map[string]interface{}, error) {
	tpl, err := parse(templatePath)
	if err != nil {
		return nil, err
	}

	resources, ok := tpl["Resources"].(map[string]interface{})
	if !ok {
		log.Warn().Str("template", templatePath).Msg("Template has no Resources section")
		return tpl, nil
	}

	baseDir := filepath.Dir(templatePath)

	// Sorted for deterministic processing and log order.
	names := make([]string, 0, len(resources))
	for name := range resources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		resource, ok := resources[name].(map[string]interface{})
		if !ok {
			continue
		}
		if err := transformResource(ctx, name, resource, baseDir, up); err != nil {
			return nil, err
		}
	}

	return tpl, nil
}

func transformResource(ctx context.Context, name string, resource map[string]interface{}, baseDir string, up Uploader) error {
	resourceType, _ := resource["Type"].(string)

	var property string
	switch resourceType {
	case lambdaFunctionType:
		property = "Code"
	case serverlessFunctionType:
		property = "CodeUri"
	default:
		return nil
	}

	properties, ok := resource["Properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	codePath, ok := properties[property].(string)
	if !ok {
		// Already a structured value (or absent); nothing to rewrite.
		return nil
	}

	if isRemote(codePath) {
		log.Info().
			Str("resource", name).
			Str("location", codePath).
			Msg("Code location already remote, skipping")
		return nil
	}

	localPath := codePath
	if !filepath.IsAbs(localPath) {
		localPath = filepath.Join(baseDir, localPath)
	}

	if _, err := os.Stat(localPath); err != nil {
		log.Warn().
			Str("resource", name).
			Str("path", codePath).
			Msg("Referenced code file does not exist, skipping")
		return nil
	}

	loc, err := up.PackageAndUpload(ctx, localPath)
	if err != nil {
		return fmt.Errorf("resource %s: %w", name, err)
	}

	switch resourceType {
	case lambdaFunctionType:
		properties[property] = map[string]interface{}{
			"S3Bucket": loc.Bucket,
			"S3Key":    loc.Key,
		}
	case serverlessFunctionType:
		properties[property] = loc.URI()
	}

	log.Info().
		Str("resource", name).
		Str("bucket", loc.Bucket).
		Str("key", loc.Key).
		Msg("Code location rewritten")

	return nil
}

// parse reads a template as JSON first, falling back to YAML.
func parse(templatePath string) (map[string]interface{}, error) {
	data, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}

	var tpl map[string]interface{}
	jsonErr := json.Unmarshal(data, &tpl)
	if jsonErr == nil {
		return tpl, nil
	}

	tpl = nil
	yamlErr := yaml.Unmarshal(data, &tpl)
	if yamlErr == nil {
		return tpl, nil
	}

	return nil, &TemplateParseError{Path: templatePath, JSONErr: jsonErr, YAMLErr: yamlErr}
}

// WriteTransformed writes the transformed template as indented JSON to
// outPath, or to stdout when outPath is "-".
func WriteTransformed(tpl map[string]interface{}, outPath string) error {
	data, err := json.MarshalIndent(tpl, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}
	data = append(data, '\n')

	if outPath == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}

	if err := os.WriteFile(outPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	return nil
}

func isRemote(location string) bool {
	for _, scheme := range remoteSchemes {
		if strings.HasPrefix(location, scheme) {
			return true
		}
	}
	return false
}
