package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"krishmitra/internal/domain"
)

const (
	pkPrefixUser = "USER#"
	skPrefixRec  = "REC#"

	// TransactWriteItems caps the number of items per request.
	deleteBatchSize = 25
)

// DynamoAPI is the minimal DynamoDB interface required by dynamoStore.
// *dynamodb.Client from aws-sdk-go-v2 satisfies it; tests use a fake.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// dynamoStore implements RecordStore over a single DynamoDB table
// partitioned by owner: PK = USER#<user_id>, SK = REC#<created_at>#<id>.
// Query with ScanIndexForward=false yields the store's newest-first order.
type dynamoStore struct {
	api       DynamoAPI
	tableName string
}

// NewDynamoStore creates a RecordStore backed by a DynamoDB table.
func NewDynamoStore(api DynamoAPI, tableName string) (RecordStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &dynamoStore{api: api, tableName: tableName}, nil
}

// userPK returns the partition key for a record owner.
func userPK(userID string) string {
	return pkPrefixUser + userID
}

// recSK returns the sort key for a record. Keys sort by creation time, with
// the record ID as a uniqueness tie-breaker.
func recSK(createdAt, id string) string {
	return skPrefixRec + createdAt + "#" + id
}

// InsertRecord implements RecordStore.
func (s *dynamoStore) InsertRecord(ctx context.Context, rec domain.Record) error {
	if rec.UserID == "" {
		return errors.New("repository: InsertRecord: user ID is required")
	}
	if rec.CreatedAt == "" {
		rec.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	item, err := recordItem(rec)
	if err != nil {
		return fmt.Errorf("repository: InsertRecord marshal: %w", err)
	}

	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: InsertRecord: %w", err)
	}
	return nil
}

// ListRecordsByUser implements RecordStore. Records come back newest first,
// matching the descending created_at order of the other drivers.
func (s *dynamoStore) ListRecordsByUser(ctx context.Context, userID string) ([]domain.Record, error) {
	out, err := s.queryUserRecords(ctx, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("repository: ListRecordsByUser query: %w", err)
	}

	records := make([]domain.Record, 0, len(out))
	for _, item := range out {
		rec, err := itemToRecord(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListRecordsByUser unmarshal: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteConversation implements RecordStore. DynamoDB has no
// delete-by-filter, so matching keys are queried first and removed
// transactionally in batches.
func (s *dynamoStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	items, err := s.queryUserRecords(ctx, userID, aws.String(conversationID))
	if err != nil {
		return fmt.Errorf("repository: DeleteConversation query: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	for start := 0; start < len(items); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(items) {
			end = len(items)
		}

		deletes := make([]types.TransactWriteItem, 0, end-start)
		for _, item := range items[start:end] {
			pk, err := strAttr(item, "PK")
			if err != nil {
				return fmt.Errorf("repository: DeleteConversation: %w", err)
			}
			sk, err := strAttr(item, "SK")
			if err != nil {
				return fmt.Errorf("repository: DeleteConversation: %w", err)
			}
			deletes = append(deletes, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName: aws.String(s.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: pk},
						"SK": &types.AttributeValueMemberS{Value: sk},
					},
				},
			})
		}

		_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: deletes,
		})
		if err != nil {
			return fmt.Errorf("repository: DeleteConversation: %w", err)
		}
	}
	return nil
}

// Close implements RecordStore.
func (s *dynamoStore) Close() error {
	return nil
}

// queryUserRecords pages through all REC# items for a user, optionally
// filtered to one conversation.
func (s *dynamoStore) queryUserRecords(ctx context.Context, userID string, conversationID *string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue

	for {
		in := &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixRec},
			},
			ScanIndexForward:  aws.Bool(false),
			ExclusiveStartKey: startKey,
		}
		if conversationID != nil {
			in.FilterExpression = aws.String("conversationId = :conv")
			in.ExpressionAttributeValues[":conv"] = &types.AttributeValueMemberS{Value: *conversationID}
		}

		out, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return items, nil
}

func recordItem(rec domain.Record) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: userPK(rec.UserID)},
		"SK":             &types.AttributeValueMemberS{Value: recSK(rec.CreatedAt, rec.ID)},
		"id":             &types.AttributeValueMemberS{Value: rec.ID},
		"conversationId": &types.AttributeValueMemberS{Value: rec.ConversationID},
		"userId":         &types.AttributeValueMemberS{Value: rec.UserID},
		"question":       &types.AttributeValueMemberS{Value: rec.Question},
		"answer":         &types.AttributeValueMemberS{Value: rec.Answer},
		"createdAt":      &types.AttributeValueMemberS{Value: rec.CreatedAt},
	}
	if len(rec.Sources) > 0 {
		raw, err := json.Marshal(rec.Sources)
		if err != nil {
			return nil, err
		}
		item["sources"] = &types.AttributeValueMemberS{Value: string(raw)}
	}
	return item, nil
}

// itemToRecord converts a DynamoDB attribute map to a Record.
func itemToRecord(item map[string]types.AttributeValue) (domain.Record, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Record{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Record{}, err
	}
	question, err := strAttr(item, "question")
	if err != nil {
		return domain.Record{}, err
	}
	createdAt, err := strAttr(item, "createdAt")
	if err != nil {
		return domain.Record{}, err
	}
	answer, _ := strAttr(item, "answer")         // allow empty
	convID, _ := strAttr(item, "conversationId") // allow empty (legacy rows)

	rec := domain.Record{
		ID:             id,
		ConversationID: convID,
		UserID:         userID,
		Question:       question,
		Answer:         answer,
		CreatedAt:      createdAt,
	}
	if raw, err := strAttr(item, "sources"); err == nil && raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Sources); err != nil {
			return domain.Record{}, fmt.Errorf("repository: decode sources: %w", err)
		}
	}
	return rec, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

// Compile-time check that dynamoStore implements RecordStore.
var _ RecordStore = (*dynamoStore)(nil)
