// Package dynamo provides a cache.Counter backed by a DynamoDB atomic
// counter, for deployments where several resolver processes must draw
// global IDs from one sequence without sharing a Redis server.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/globalid/cache"
)

// DDBClient is the subset of the DynamoDB API used by Counter.
type DDBClient interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

const (
	keyAttr   = "name"
	valueAttr = "value"
)

var errBadAttribute = errors.New("dynamo: counter attribute missing or not a number")

// Counter is a cache.Counter that increments one DynamoDB item with an
// ADD update expression.
//
// Table schema:
//   - Partition key: name (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name globalid-counters \
//	  --attribute-definitions AttributeName=name,AttributeType=S \
//	  --key-schema AttributeName=name,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type Counter struct {
	client DDBClient
	table  string
	name   string
}

var _ cache.Counter = (*Counter)(nil)

// NewCounter returns a counter stored in table under the item name. An
// empty name uses cache.CounterKey.
func NewCounter(client DDBClient, table, name string) *Counter {
	if name == "" {
		name = cache.CounterKey
	}
	return &Counter{client: client, table: table, name: name}
}

func (c *Counter) key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		keyAttr: &types.AttributeValueMemberS{Value: c.name},
	}
}

// Next implements cache.Counter. A missing item starts at 1.
func (c *Counter) Next(ctx context.Context) (uint64, error) {
	out, err := c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(c.table),
		Key:              c.key(),
		UpdateExpression: aws.String("ADD #v :one"),
		ExpressionAttributeNames: map[string]string{
			"#v": valueAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, cache.Unavailable("dynamodb update", err)
	}
	return parseValue(out.Attributes)
}

// Current returns the last allocated value, or 0 if none was allocated.
func (c *Counter) Current(ctx context.Context) (uint64, error) {
	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.table),
		Key:            c.key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, cache.Unavailable("dynamodb get", err)
	}
	if len(out.Item) == 0 {
		return 0, nil
	}
	return parseValue(out.Item)
}

func parseValue(item map[string]types.AttributeValue) (uint64, error) {
	attr, ok := item[valueAttr].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errBadAttribute
	}
	n, err := strconv.ParseUint(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errBadAttribute, err)
	}
	return n, nil
}
