package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI interface for mocking
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type DynamoDBJobStorage struct {
	client    DynamoDBAPI
	tableName string
}

func NewDynamoDBJobStorage(client DynamoDBAPI, tableName string) *DynamoDBJobStorage {
	return &DynamoDBJobStorage{
		client:    client,
		tableName: tableName,
	}
}

func (d *DynamoDBJobStorage) CreateJob(ctx context.Context, job *Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return fmt.Errorf("job %s: %w", job.ID, ErrJobExists)
		}
		return fmt.Errorf("failed to put job: %w", err)
	}

	return nil
}

func (d *DynamoDBJobStorage) GetJob(ctx context.Context, jobID string) (*Job, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if result.Item == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrJobNotFound)
	}

	var job Job
	err = attributevalue.UnmarshalMap(result.Item, &job)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (d *DynamoDBJobStorage) GetJobsByDevice(ctx context.Context, deviceID string) ([]*Job, error) {
	var jobs []*Job
	var startKey map[string]types.AttributeValue

	for {
		result, err := d.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			IndexName:              aws.String("device-index"),
			KeyConditionExpression: aws.String("device_id = :deviceID"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":deviceID": &types.AttributeValueMemberS{Value: deviceID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query jobs by device: %w", err)
		}

		for _, item := range result.Items {
			var job Job
			if err := attributevalue.UnmarshalMap(item, &job); err != nil {
				return nil, fmt.Errorf("failed to unmarshal job: %w", err)
			}
			jobs = append(jobs, &job)
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	return jobs, nil
}

type DynamoDBDeviceStorage struct {
	client    DynamoDBAPI
	tableName string
}

func NewDynamoDBDeviceStorage(client DynamoDBAPI, tableName string) *DynamoDBDeviceStorage {
	return &DynamoDBDeviceStorage{
		client:    client,
		tableName: tableName,
	}
}

func (d *DynamoDBDeviceStorage) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: deviceID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	if result.Item == nil {
		return &Device{ID: deviceID}, nil
	}

	var device Device
	if err := attributevalue.UnmarshalMap(result.Item, &device); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device: %w", err)
	}

	return &device, nil
}

func (d *DynamoDBDeviceStorage) IncrementUploads(ctx context.Context, deviceID string) (int, error) {
	result, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: deviceID},
		},
		UpdateExpression: aws.String("ADD uploads :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment uploads: %w", err)
	}

	uploads, ok := result.Attributes["uploads"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("missing uploads attribute for device %s", deviceID)
	}

	count, err := strconv.Atoi(uploads.Value)
	if err != nil {
		return 0, fmt.Errorf("invalid uploads value %q: %w", uploads.Value, err)
	}

	return count, nil
}

func (d *DynamoDBDeviceStorage) SetSubscription(ctx context.Context, deviceID string, sub Subscription) error {
	subValue, err := attributevalue.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: deviceID},
		},
		UpdateExpression: aws.String("SET pro = :pro, subscription = :subscription"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pro":          &types.AttributeValueMemberBOOL{Value: true},
			":subscription": subValue,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	return nil
}
