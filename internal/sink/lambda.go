package sink

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/rs/zerolog/log"
)

// FunctionUpdater is the Lambda surface the update sink needs.
// *lambda.Client satisfies it.
type FunctionUpdater interface {
	UpdateFunctionCode(ctx context.Context, in *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
}

// UpdateResult summarizes a function-code replacement.
type UpdateResult struct {
	FunctionName string `json:"function_name"`
	Version      string `json:"version"`
	CodeSize     int64  `json:"code_size"`
	CodeSha256   string `json:"code_sha256"`
	LastModified string `json:"last_modified"`
}

// NewLambdaClient builds a Lambda client from the default AWS credential
// chain. endpoint overrides the service endpoint, e.g. for localstack.
func NewLambdaClient(ctx context.Context, region, endpoint string) (*lambda.Client, error) {
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(loadCtx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return lambda.NewFromConfig(cfg, func(o *lambda.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// UpdateFunction replaces the code of a deployed function with the archive
// at archivePath and returns the platform's response. Never retried: a
// failed update is fatal to the invocation.
func UpdateFunction(ctx context.Context, client FunctionUpdater, functionName, archivePath string) (*UpdateResult, error) {
	zipBytes, err := os.ReadFile(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	out, err := client.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(functionName),
		ZipFile:      zipBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update function %q: %w", functionName, err)
	}

	result := &UpdateResult{
		FunctionName: functionName,
		Version:      aws.ToString(out.Version),
		CodeSize:     out.CodeSize,
		CodeSha256:   aws.ToString(out.CodeSha256),
		LastModified: aws.ToString(out.LastModified),
	}

	log.Info().
		Str("function", functionName).
		Str("version", result.Version).
		Int64("code_size", result.CodeSize).
		Msg("Function code updated")

	return result, nil
}
