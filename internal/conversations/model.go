package conversations

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConversationType enumerates supported conversation kinds.
type ConversationType string

const (
	// ConversationTypePrivate is a two-party conversation, deduplicated per member pair.
	ConversationTypePrivate ConversationType = "private"
	// ConversationTypeGroup is a multi-party conversation.
	ConversationTypeGroup ConversationType = "group"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidConversationID indicates that a conversation identifier is empty or exceeds storage bounds.
	ErrInvalidConversationID = errors.New("conversations: invalid conversation id")
	// ErrInvalidMessageID indicates that a message identifier is empty or exceeds storage bounds.
	ErrInvalidMessageID = errors.New("conversations: invalid message id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("conversations: invalid user id")
	// ErrInvalidConversationType indicates an unknown conversation type value.
	ErrInvalidConversationType = errors.New("conversations: invalid conversation type")
)

// ConversationID represents a validated conversation identifier.
type ConversationID string

// NewConversationID validates raw input and returns a ConversationID.
func NewConversationID(rawInput string) (ConversationID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidConversationID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidConversationID, maxIdentifierLength)
	}
	return ConversationID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ConversationID) String() string {
	return string(id)
}

// MessageID represents a validated message identifier. It is the idempotency
// key for sequence allocation and must be stable across delivery attempts.
type MessageID string

// NewMessageID validates raw input and returns a MessageID.
func NewMessageID(rawInput string) (MessageID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMessageID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidMessageID, maxIdentifierLength)
	}
	return MessageID(trimmed), nil
}

// String returns the underlying string identifier.
func (id MessageID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ParseConversationType validates a raw conversation type value.
func ParseConversationType(value string) (ConversationType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(ConversationTypePrivate):
		return ConversationTypePrivate, nil
	case string(ConversationTypeGroup):
		return ConversationTypeGroup, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidConversationType, value)
	}
}

// Conversation models a conversation row and its sequence high-water mark.
// LastSequenceNumber is mutated only by the Allocator, inside the same
// transaction that appends to the sequence log.
type Conversation struct {
	ConversationID     string           `gorm:"column:conversation_id;primaryKey;size:190;not null"`
	Type               ConversationType `gorm:"column:type;size:32;not null"`
	LastSequenceNumber int64            `gorm:"column:last_sequence_number;not null;default:0"`
	MetadataJSON       string           `gorm:"column:metadata;type:text;not null;default:''"`
	CreatedAt          time.Time        `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Conversation) TableName() string {
	return "conversations"
}

// Membership ties a user to a conversation. Rows are removed together with
// their conversation; a membership never outlives its owner.
type Membership struct {
	ConversationID string    `gorm:"column:conversation_id;primaryKey;size:190;not null;index:idx_members_conversation"`
	UserID         string    `gorm:"column:user_id;primaryKey;size:190;not null;index:idx_members_user"`
	JoinedAt       time.Time `gorm:"column:joined_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Membership) TableName() string {
	return "conversation_members"
}

// SequenceLogEntry is the durable idempotency record: one row per message id
// ever allocated, never updated or deleted. The unique message_id key is what
// makes redelivered allocations converge on the original sequence number.
type SequenceLogEntry struct {
	MessageID      string    `gorm:"column:message_id;primaryKey;size:190;not null"`
	ConversationID string    `gorm:"column:conversation_id;size:190;not null;index:idx_seq_log_conversation"`
	SequenceNumber int64     `gorm:"column:sequence_number;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;index:idx_seq_log_created"`
}

// TableName provides the explicit table binding for GORM.
func (SequenceLogEntry) TableName() string {
	return "message_sequences_log"
}

// ConversationSummary is the per-user listing row: the conversation joined
// with its current high-water mark, as consumed by sync collaborators.
type ConversationSummary struct {
	ConversationID     string           `gorm:"column:conversation_id"`
	Type               ConversationType `gorm:"column:type"`
	MetadataJSON       string           `gorm:"column:metadata"`
	LastSequenceNumber int64            `gorm:"column:last_sequence_number"`
}
