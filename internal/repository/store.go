// Package repository persists question/answer records. The store is a flat
// table of records keyed by a generated row ID; a conversation exists only
// as the set of records sharing a conversation_id.
package repository

import (
	"context"
	"errors"

	"krishmitra/internal/domain"
)

// Common errors for record store operations.
var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
)

// RecordStore defines the record persistence operations consumed by the
// session layer.
type RecordStore interface {
	// InsertRecord persists one question/answer pair. The record's
	// CreatedAt must be set by the caller; an empty ID is assigned by
	// the store.
	InsertRecord(ctx context.Context, rec domain.Record) error

	// ListRecordsByUser returns all records owned by userID ordered by
	// created_at descending.
	ListRecordsByUser(ctx context.Context, userID string) ([]domain.Record, error)

	// DeleteConversation removes every record grouped under
	// conversationID. userID scopes the lookup for drivers that
	// partition by owner.
	DeleteConversation(ctx context.Context, userID, conversationID string) error

	// Close closes the store and releases any resources.
	Close() error
}

// StoreType represents the type of record store.
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeSupabase StoreType = "supabase"
	StoreTypeDynamoDB StoreType = "dynamodb"
)

// StoreOption is a functional option for configuring a record store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	supabaseURL    string
	supabaseAPIKey string
	dynamoAPI      DynamoAPI
	dynamoTable    string
}

// WithSupabase sets the project URL and API key for the Supabase store.
func WithSupabase(url, apiKey string) StoreOption {
	return func(c *storeConfig) {
		c.supabaseURL = url
		c.supabaseAPIKey = apiKey
	}
}

// WithDynamoDB sets the DynamoDB API client and table for the DynamoDB store.
func WithDynamoDB(api DynamoAPI, tableName string) StoreOption {
	return func(c *storeConfig) {
		c.dynamoAPI = api
		c.dynamoTable = tableName
	}
}

// NewStore creates a RecordStore for the given driver type.
// Supports "memory", "supabase" and "dynamodb".
func NewStore(storeType StoreType, opts ...StoreOption) (RecordStore, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		return NewMemoryStore(), nil

	case StoreTypeSupabase:
		if config.supabaseURL == "" || config.supabaseAPIKey == "" {
			return nil, ErrInvalidConfig
		}
		return NewSupabaseStore(config.supabaseURL, config.supabaseAPIKey)

	case StoreTypeDynamoDB:
		if config.dynamoAPI == nil || config.dynamoTable == "" {
			return nil, ErrInvalidConfig
		}
		return NewDynamoStore(config.dynamoAPI, config.dynamoTable)

	default:
		return nil, ErrInvalidStoreType
	}
}
