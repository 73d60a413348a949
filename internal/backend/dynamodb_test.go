package backend

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/agatticelli/ssm-parameter-cache/internal/parameter"
)

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	err   error
	last  *dynamodb.GetItemInput
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	for _, av := range in.Key {
		if s, ok := av.(*types.AttributeValueMemberS); ok {
			return &dynamodb.GetItemOutput{Item: f.items[s.Value]}, nil
		}
	}
	return &dynamodb.GetItemOutput{}, nil
}

func TestDynamoDBBackend_Fetch(t *testing.T) {
	client := &fakeDynamo{items: map[string]map[string]types.AttributeValue{
		"feature/flags": {"value": &types.AttributeValueMemberS{Value: `{"beta":true}`}},
	}}
	b, err := newDynamoDBBackend(client, DynamoDBConfig{TableName: "parameters", ConsistentRead: true})
	if err != nil {
		t.Fatalf("newDynamoDBBackend failed: %v", err)
	}

	value, err := b.Fetch(context.Background(), "feature/flags")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if value != `{"beta":true}` {
		t.Errorf("Unexpected value %q", value)
	}

	if aws.ToString(client.last.TableName) != "parameters" {
		t.Errorf("Expected table parameters, got %q", aws.ToString(client.last.TableName))
	}
	if _, ok := client.last.Key["name"]; !ok {
		t.Error("Expected default key attribute \"name\"")
	}
	if !aws.ToBool(client.last.ConsistentRead) {
		t.Error("Expected consistent read")
	}

	t.Log("✓ DynamoDB backend reads the value attribute")
}

func TestDynamoDBBackend_CustomAttributes(t *testing.T) {
	client := &fakeDynamo{items: map[string]map[string]types.AttributeValue{
		"k": {"v": &types.AttributeValueMemberS{Value: "x"}},
	}}
	b, _ := newDynamoDBBackend(client, DynamoDBConfig{TableName: "t", KeyAttribute: "id", ValueAttribute: "v"})

	value, err := b.Fetch(context.Background(), "k")
	if err != nil || value != "x" {
		t.Fatalf("Expected %q, got %q (%v)", "x", value, err)
	}
	if _, ok := client.last.Key["id"]; !ok {
		t.Error("Expected custom key attribute")
	}
}

func TestDynamoDBBackend_NotFound(t *testing.T) {
	client := &fakeDynamo{items: map[string]map[string]types.AttributeValue{
		"no-value": {"other": &types.AttributeValueMemberS{Value: "x"}},
	}}
	b, _ := newDynamoDBBackend(client, DynamoDBConfig{TableName: "t"})

	for _, key := range []string{"missing", "no-value"} {
		if _, err := b.Fetch(context.Background(), key); !errors.Is(err, parameter.ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", key, err)
		}
	}
}

func TestDynamoDBBackend_WrongType(t *testing.T) {
	client := &fakeDynamo{items: map[string]map[string]types.AttributeValue{
		"n": {"value": &types.AttributeValueMemberBOOL{Value: true}},
	}}
	b, _ := newDynamoDBBackend(client, DynamoDBConfig{TableName: "t"})

	if _, err := b.Fetch(context.Background(), "n"); !errors.Is(err, parameter.ErrBackend) {
		t.Errorf("Expected ErrBackend for non-string value, got %v", err)
	}
}

func TestDynamoDBBackend_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		throttled bool
		kind      parameter.ErrorKind
	}{
		{"throughput", &types.ProvisionedThroughputExceededException{}, true, parameter.KindTransient},
		{"request limit", &types.RequestLimitExceeded{}, true, parameter.KindTransient},
		{"internal", &types.InternalServerError{}, false, parameter.KindTransient},
		{"missing table", &types.ResourceNotFoundException{}, false, parameter.KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newDynamoDBBackend(&fakeDynamo{err: tt.err}, DynamoDBConfig{TableName: "t"})
			_, err := b.Fetch(context.Background(), "k")
			if parameter.KindOf(err) != tt.kind {
				t.Errorf("Expected kind %v, got %v", tt.kind, parameter.KindOf(err))
			}
			if errors.Is(err, parameter.ErrThrottled) != tt.throttled {
				t.Errorf("Expected throttled=%v for %v", tt.throttled, err)
			}
		})
	}
}

func TestDynamoDBBackend_RequiresTable(t *testing.T) {
	if _, err := newDynamoDBBackend(&fakeDynamo{}, DynamoDBConfig{}); !errors.Is(err, parameter.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}
