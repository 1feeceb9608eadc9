package domain

import "context"

// UsageStore persists usage records. The in-memory tracker writes through on
// Record; Query exists so a fresh process can reload history.
type UsageStore interface {
	Record(ctx context.Context, rec *UsageRecord) error
	Query(ctx context.Context, filter UsageFilter) ([]UsageRecord, error)
	Close() error
}

// ConversationStore persists message history per conversation id.
type ConversationStore interface {
	Get(ctx context.Context, id string) (*Conversation, error)
	Append(ctx context.Context, id string, msgs ...Message) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}
