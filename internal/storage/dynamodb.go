package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/amillerrr/hls-publisher/pkg/models"
)

const (
	allVideosKey = "ALL_VIDEOS"
	metadataSK   = "METADATA"
)

// DynamoDBAPI defines the DynamoDB operations used by CatalogRepository.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// CatalogRepository stores a record for every published playlist in DynamoDB.
type CatalogRepository struct {
	client    DynamoDBAPI
	tableName string
}

// NewCatalogRepository creates a CatalogRepository from an existing DynamoDB client.
func NewCatalogRepository(client DynamoDBAPI, tableName string) *CatalogRepository {
	return &CatalogRepository{
		client:    client,
		tableName: tableName,
	}
}

func videoKey(jobID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("VIDEO#%s", jobID)},
		"sk": &types.AttributeValueMemberS{Value: metadataSK},
	}
}

// RecordPublished writes the catalog entry for a completed job and moves the latest pointer to it.
func (r *CatalogRepository) RecordPublished(ctx context.Context, record *models.VideoRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if record.PublishedAt == "" {
		record.PublishedAt = now
	}
	record.PK = fmt.Sprintf("VIDEO#%s", record.JobID)
	record.SK = metadataSK
	record.GSI1PK = allVideosKey
	record.GSI1SK = fmt.Sprintf("%s#%s", record.PublishedAt, record.JobID)

	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal video: %w", err)
	}

	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to record video: %w", err)
	}

	// Update LATEST pointer
	latestItem := map[string]types.AttributeValue{
		"pk":           &types.AttributeValueMemberS{Value: "LATEST"},
		"sk":           &types.AttributeValueMemberS{Value: "VIDEO"},
		"job_id":       &types.AttributeValueMemberS{Value: record.JobID},
		"playlist_url": &types.AttributeValueMemberS{Value: record.PlaylistURL},
		"published_at": &types.AttributeValueMemberS{Value: record.PublishedAt},
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      latestItem,
	}); err != nil {
		return fmt.Errorf("failed to update latest pointer: %w", err)
	}

	return nil
}

// GetVideo retrieves the catalog entry for jobID.
func (r *CatalogRepository) GetVideo(ctx context.Context, jobID string) (*models.VideoRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       videoKey(jobID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrVideoNotFound
	}

	var video models.VideoRecord
	if err := attributevalue.UnmarshalMap(result.Item, &video); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}

	return &video, nil
}

// GetLatestVideo retrieves the most recently published video.
func (r *CatalogRepository) GetLatestVideo(ctx context.Context) (*models.VideoRecord, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: "LATEST"},
			"sk": &types.AttributeValueMemberS{Value: "VIDEO"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get latest video pointer: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrVideoNotFound
	}

	jobIDAttr, ok := result.Item["job_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("invalid job_id type")
	}

	return r.GetVideo(ctx, jobIDAttr.Value)
}

// ListVideos retrieves videos in reverse publication order.
func (r *CatalogRepository) ListVideos(ctx context.Context, limit int32) ([]models.VideoRecord, error) {
	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: allVideosKey},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}

	var videos []models.VideoRecord
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &videos); err != nil {
		return nil, fmt.Errorf("failed to unmarshal videos: %w", err)
	}

	return videos, nil
}

// DeleteVideo removes the catalog entry for jobID. Removing a missing entry is not an error.
func (r *CatalogRepository) DeleteVideo(ctx context.Context, jobID string) error {
	if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       videoKey(jobID),
	}); err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	return nil
}

// Ping verifies the table is reachable.
func (r *CatalogRepository) Ping(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(r.tableName),
	})
	return err
}
