package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
)

// ssmAPI is the subset of the SSM client used by SSMBackend.
type ssmAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMBackend reads parameters from AWS Systems Manager Parameter Store.
type SSMBackend struct {
	client         ssmAPI
	withDecryption bool
}

// SSMOption configures an SSMBackend.
type SSMOption func(*SSMBackend)

// WithDecryption returns SecureString parameters in plain text.
func WithDecryption(enabled bool) SSMOption {
	return func(b *SSMBackend) {
		b.withDecryption = enabled
	}
}

// NewSSMBackend creates a backend from an AWS configuration.
func NewSSMBackend(cfg aws.Config, opts ...SSMOption) *SSMBackend {
	return newSSMBackend(ssm.NewFromConfig(cfg), opts...)
}

func newSSMBackend(client ssmAPI, opts ...SSMOption) *SSMBackend {
	b := &SSMBackend{client: client}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Fetch returns the current value of the named parameter. Names may carry a
// version or label selector (name:3, name:prod).
func (b *SSMBackend) Fetch(ctx context.Context, key string) (string, error) {
	out, err := b.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(key),
		WithDecryption: aws.Bool(b.withDecryption),
	})
	if err != nil {
		return "", classifySSMError(key, err)
	}

	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", parameter.NewBackendError(key, fmt.Errorf("ssm returned no value"))
	}
	return aws.ToString(out.Parameter.Value), nil
}

// Name implements Named.
func (b *SSMBackend) Name() string {
	return "ssm"
}

func classifySSMError(key string, err error) error {
	var notFound *types.ParameterNotFound
	var versionNotFound *types.ParameterVersionNotFound
	if errors.As(err, &notFound) || errors.As(err, &versionNotFound) {
		return parameter.NewNotFoundError(key, err)
	}

	var internal *types.InternalServerError
	if errors.As(err, &internal) {
		return parameter.NewTransientError(key, err)
	}

	return classifyAWSError(key, err)
}
