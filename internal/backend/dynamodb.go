package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
)

// dynamoAPI is the subset of the DynamoDB client used by DynamoDBBackend.
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoDBConfig describes the table parameters are read from.
type DynamoDBConfig struct {
	TableName      string
	KeyAttribute   string // partition key holding the parameter name (default: "name")
	ValueAttribute string // string attribute holding the value (default: "value")
	ConsistentRead bool
}

// DynamoDBBackend reads parameters from a DynamoDB table keyed by name.
type DynamoDBBackend struct {
	client dynamoAPI
	config DynamoDBConfig
}

// NewDynamoDBBackend creates a backend from an AWS configuration.
func NewDynamoDBBackend(awsCfg aws.Config, cfg DynamoDBConfig) (*DynamoDBBackend, error) {
	return newDynamoDBBackend(dynamodb.NewFromConfig(awsCfg), cfg)
}

func newDynamoDBBackend(client dynamoAPI, cfg DynamoDBConfig) (*DynamoDBBackend, error) {
	if cfg.TableName == "" {
		return nil, fmt.Errorf("%w: dynamodb table name is required", parameter.ErrInvalidConfig)
	}
	if cfg.KeyAttribute == "" {
		cfg.KeyAttribute = "name"
	}
	if cfg.ValueAttribute == "" {
		cfg.ValueAttribute = "value"
	}
	return &DynamoDBBackend{client: client, config: cfg}, nil
}

// Fetch reads the item whose key attribute equals key.
func (b *DynamoDBBackend) Fetch(ctx context.Context, key string) (string, error) {
	out, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.config.TableName),
		Key: map[string]types.AttributeValue{
			b.config.KeyAttribute: &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead:       aws.Bool(b.config.ConsistentRead),
		ProjectionExpression: aws.String("#v"),
		ExpressionAttributeNames: map[string]string{
			"#v": b.config.ValueAttribute,
		},
	})
	if err != nil {
		return "", classifyDynamoDBError(key, err)
	}

	if len(out.Item) == 0 {
		return "", parameter.NewNotFoundError(key, fmt.Errorf("no item in table %s", b.config.TableName))
	}

	attr, ok := out.Item[b.config.ValueAttribute]
	if !ok {
		return "", parameter.NewNotFoundError(key, fmt.Errorf("item has no %q attribute", b.config.ValueAttribute))
	}

	var value string
	if err := attributevalue.Unmarshal(attr, &value); err != nil {
		return "", parameter.NewBackendError(key, fmt.Errorf("failed to unmarshal value: %w", err))
	}
	return value, nil
}

// Name implements Named.
func (b *DynamoDBBackend) Name() string {
	return "dynamodb"
}

func classifyDynamoDBError(key string, err error) error {
	var throughput *types.ProvisionedThroughputExceededException
	var requestLimit *types.RequestLimitExceeded
	if errors.As(err, &throughput) || errors.As(err, &requestLimit) {
		return parameter.NewThrottledError(key, err)
	}

	var internal *types.InternalServerError
	if errors.As(err, &internal) {
		return parameter.NewTransientError(key, err)
	}

	return classifyAWSError(key, err)
}
