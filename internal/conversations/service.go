package conversations

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrInvalidMetadata indicates conversation metadata that is not valid JSON.
	// The content is otherwise opaque to this service.
	ErrInvalidMetadata = errors.New("conversations: metadata must be valid JSON")
	// ErrNoMembers indicates a create request without any members.
	ErrNoMembers = errors.New("conversations: at least one member is required")
)

const (
	opServiceNew   = "conversations.service.new"
	opCreate       = "conversations.create"
	opGet          = "conversations.get"
	opDelete       = "conversations.delete"
	opAddMember    = "conversations.add_member"
	opRemoveMember = "conversations.remove_member"
	opListMembers  = "conversations.list_members"
	opListForUser  = "conversations.list_for_user"
)

// IDProvider issues identifiers for newly created conversations.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the conversation store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the conversation and membership store. It owns conversation
// lifecycle; sequence mutation is the Allocator's alone.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the conversation store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateRequest describes a new conversation.
type CreateRequest struct {
	Type         ConversationType
	MetadataJSON string
	MemberIDs    []UserID
}

// CreateConversation persists a conversation together with its initial
// member set. Creating a private conversation for a member pair that already
// shares one returns the existing conversation id instead.
func (s *Service) CreateConversation(ctx context.Context, request CreateRequest) (ConversationID, error) {
	if len(request.MemberIDs) == 0 {
		return "", newServiceError(opCreate, "missing_members", ErrNoMembers)
	}
	if request.MetadataJSON != "" && !json.Valid([]byte(request.MetadataJSON)) {
		return "", newServiceError(opCreate, "invalid_metadata", ErrInvalidMetadata)
	}

	members := dedupeMembers(request.MemberIDs)

	if request.Type == ConversationTypePrivate && len(members) == 2 {
		existingID, err := s.findPrivateConversation(ctx, members[0], members[1])
		if err != nil {
			s.logError(opCreate, "private_lookup_failed", err)
			return "", newServiceError(opCreate, "private_lookup_failed", err)
		}
		if existingID != "" {
			return existingID, nil
		}
	}

	rawID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return "", newServiceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	conversation := Conversation{
		ConversationID:     rawID,
		Type:               request.Type,
		LastSequenceNumber: 0,
		MetadataJSON:       request.MetadataJSON,
		CreatedAt:          now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conversation).Error; err != nil {
			return err
		}
		for _, member := range members {
			membership := Membership{
				ConversationID: rawID,
				UserID:         member.String(),
				JoinedAt:       now,
			}
			if err := tx.Create(&membership).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreate, "insert_failed", txErr, zap.String("conversation_id", rawID))
		return "", newServiceError(opCreate, "insert_failed", txErr)
	}

	s.logger.Info("conversation created",
		zap.String("conversation_id", rawID),
		zap.String("type", string(request.Type)),
		zap.Int("members", len(members)))
	return ConversationID(rawID), nil
}

// GetConversation loads a conversation by id.
func (s *Service) GetConversation(ctx context.Context, conversationID ConversationID) (Conversation, error) {
	var conversation Conversation
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID.String()).
		Take(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, newServiceError(opGet, "not_found", ErrConversationNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("conversation_id", conversationID.String()))
		return Conversation{}, newServiceError(opGet, "query_failed", err)
	}
	return conversation, nil
}

// DeleteConversation removes a conversation and all its memberships in one
// transaction. The sequence log is retained as the allocation audit trail.
func (s *Service) DeleteConversation(ctx context.Context, conversationID ConversationID) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("conversation_id = ?", conversationID.String()).Delete(&Conversation{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConversationNotFound
		}
		return tx.Where("conversation_id = ?", conversationID.String()).Delete(&Membership{}).Error
	})
	if errors.Is(txErr, ErrConversationNotFound) {
		return newServiceError(opDelete, "not_found", ErrConversationNotFound)
	}
	if txErr != nil {
		s.logError(opDelete, "delete_failed", txErr, zap.String("conversation_id", conversationID.String()))
		return newServiceError(opDelete, "delete_failed", txErr)
	}

	s.logger.Info("conversation deleted", zap.String("conversation_id", conversationID.String()))
	return nil
}

// AddMember joins a user to a conversation. Adding a member that is already
// present is a no-op.
func (s *Service) AddMember(ctx context.Context, conversationID ConversationID, userID UserID) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conversation Conversation
		err := tx.Where("conversation_id = ?", conversationID.String()).Take(&conversation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		if err != nil {
			return err
		}

		membership := Membership{
			ConversationID: conversationID.String(),
			UserID:         userID.String(),
			JoinedAt:       s.clock().UTC(),
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&membership).Error
	})
	if errors.Is(txErr, ErrConversationNotFound) {
		return newServiceError(opAddMember, "conversation_not_found", ErrConversationNotFound)
	}
	if txErr != nil {
		s.logError(opAddMember, "insert_failed", txErr,
			zap.String("conversation_id", conversationID.String()),
			zap.String("user_id", userID.String()))
		return newServiceError(opAddMember, "insert_failed", txErr)
	}
	return nil
}

// RemoveMember detaches a user from a conversation. Removing an absent
// member, or a member of an absent conversation, is a no-op.
func (s *Service) RemoveMember(ctx context.Context, conversationID ConversationID, userID UserID) error {
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID.String(), userID.String()).
		Delete(&Membership{}).Error
	if err != nil {
		s.logError(opRemoveMember, "delete_failed", err,
			zap.String("conversation_id", conversationID.String()),
			zap.String("user_id", userID.String()))
		return newServiceError(opRemoveMember, "delete_failed", err)
	}
	return nil
}

// ListMembers returns the user ids joined to a conversation.
func (s *Service) ListMembers(ctx context.Context, conversationID ConversationID) ([]string, error) {
	var memberIDs []string
	err := s.db.WithContext(ctx).
		Model(&Membership{}).
		Where("conversation_id = ?", conversationID.String()).
		Order("user_id ASC").
		Pluck("user_id", &memberIDs).Error
	if err != nil {
		s.logError(opListMembers, "query_failed", err, zap.String("conversation_id", conversationID.String()))
		return nil, newServiceError(opListMembers, "query_failed", err)
	}
	return memberIDs, nil
}

// ListUserConversations returns every conversation the user belongs to,
// joined with its current sequence high-water mark.
func (s *Service) ListUserConversations(ctx context.Context, userID UserID) ([]ConversationSummary, error) {
	var summaries []ConversationSummary
	err := s.db.WithContext(ctx).
		Model(&Conversation{}).
		Select("conversations.conversation_id, conversations.type, conversations.metadata, conversations.last_sequence_number").
		Joins("JOIN conversation_members ON conversation_members.conversation_id = conversations.conversation_id").
		Where("conversation_members.user_id = ?", userID.String()).
		Order("conversations.created_at DESC").
		Scan(&summaries).Error
	if err != nil {
		s.logError(opListForUser, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opListForUser, "query_failed", err)
	}
	return summaries, nil
}

func (s *Service) findPrivateConversation(ctx context.Context, memberA, memberB UserID) (ConversationID, error) {
	var conversationIDs []string
	err := s.db.WithContext(ctx).
		Model(&Membership{}).
		Select("conversation_members.conversation_id").
		Joins("JOIN conversation_members cm2 ON cm2.conversation_id = conversation_members.conversation_id").
		Joins("JOIN conversations ON conversations.conversation_id = conversation_members.conversation_id").
		Where("conversation_members.user_id = ? AND cm2.user_id = ? AND conversations.type = ?",
			memberA.String(), memberB.String(), string(ConversationTypePrivate)).
		Limit(1).
		Pluck("conversation_members.conversation_id", &conversationIDs).Error
	if err != nil {
		return "", err
	}
	if len(conversationIDs) == 0 {
		return "", nil
	}
	return ConversationID(conversationIDs[0]), nil
}

func dedupeMembers(memberIDs []UserID) []UserID {
	seen := make(map[UserID]struct{}, len(memberIDs))
	unique := make([]UserID, 0, len(memberIDs))
	for _, member := range memberIDs {
		if _, ok := seen[member]; ok {
			continue
		}
		seen[member] = struct{}{}
		unique = append(unique, member)
	}
	return unique
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("conversation store error", attrs...)
}
