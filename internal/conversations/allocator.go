package conversations

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opAllocate = "conversations.allocate_sequence"

	allocateMaxAttempts = 3
	allocateRetryDelay  = 10 * time.Millisecond
)

// Allocation is the result of a sequence allocation.
type Allocation struct {
	SequenceNumber int64
	Duplicate      bool
}

// AllocatorConfig describes the dependencies of the sequence allocator.
type AllocatorConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Allocator assigns per-conversation, strictly increasing sequence numbers.
// Allocation is idempotent on message id: redelivering a message returns the
// sequence number recorded for it the first time. The counter increment and
// the log append commit in one transaction; callers never observe one
// without the other.
type Allocator struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewAllocator constructs the sequence allocator.
func NewAllocator(cfg AllocatorConfig) (*Allocator, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opAllocate, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Allocator{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Allocate assigns the next sequence number for the conversation, or returns
// the previously assigned one when the message id has been seen before.
//
// Contention on the conversation row or a transaction abort is retried a
// bounded number of times, then surfaced as ErrTransientConflict; the caller
// resends the identical request. Two racing allocations for the same message
// id are resolved by the unique key on the log: the loser re-reads the
// winning row and reports it as a duplicate.
func (a *Allocator) Allocate(ctx context.Context, conversationID ConversationID, messageID MessageID) (Allocation, error) {
	var lastErr error
	for attempt := 1; attempt <= allocateMaxAttempts; attempt++ {
		allocation, err := a.allocateOnce(ctx, conversationID, messageID)
		if err == nil {
			a.observe(allocation)
			return allocation, nil
		}

		if errors.Is(err, ErrConversationNotFound) {
			allocationsTotal.WithLabelValues(outcomeNotFound).Inc()
			return Allocation{}, newServiceError(opAllocate, "conversation_not_found", ErrConversationNotFound)
		}

		if isDuplicateKey(err) {
			// Lost the insert race for this message id; the winning row is
			// now committed and readable.
			allocation, readErr := a.readExisting(ctx, messageID)
			if readErr == nil {
				allocationsTotal.WithLabelValues(outcomeDuplicate).Inc()
				return allocation, nil
			}
			lastErr = readErr
		} else if isTransient(err) {
			lastErr = err
		} else {
			a.logError(opAllocate, "allocation_failed", err, conversationID, messageID)
			return Allocation{}, newServiceError(opAllocate, "allocation_failed", err)
		}

		allocationsTotal.WithLabelValues(outcomeRetry).Inc()
		a.logger.Warn("sequence allocation retry",
			zap.String("conversation_id", conversationID.String()),
			zap.String("message_id", messageID.String()),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return Allocation{}, newServiceError(opAllocate, "canceled", ctx.Err())
		case <-time.After(allocateRetryDelay * time.Duration(attempt)):
		}
	}

	allocationsTotal.WithLabelValues(outcomeConflict).Inc()
	a.logError(opAllocate, "transient_conflict", lastErr, conversationID, messageID)
	return Allocation{}, newServiceError(opAllocate, "transient_conflict", errors.Join(ErrTransientConflict, lastErr))
}

func (a *Allocator) allocateOnce(ctx context.Context, conversationID ConversationID, messageID MessageID) (Allocation, error) {
	var allocation Allocation
	txErr := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing SequenceLogEntry
		err := tx.Where("message_id = ?", messageID.String()).Take(&existing).Error
		if err == nil {
			allocation = Allocation{SequenceNumber: existing.SequenceNumber, Duplicate: true}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// Serialize concurrent allocations on this conversation only; other
		// conversations take their own row locks and proceed unblocked.
		var conversation Conversation
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("conversation_id = ?", conversationID.String()).
			Take(&conversation).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrConversationNotFound
		}
		if err != nil {
			return err
		}

		nextSequence := conversation.LastSequenceNumber + 1
		err = tx.Model(&Conversation{}).
			Where("conversation_id = ?", conversationID.String()).
			Update("last_sequence_number", nextSequence).Error
		if err != nil {
			return err
		}

		entry := SequenceLogEntry{
			MessageID:      messageID.String(),
			ConversationID: conversationID.String(),
			SequenceNumber: nextSequence,
			CreatedAt:      a.clock().UTC(),
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		allocation = Allocation{SequenceNumber: nextSequence, Duplicate: false}
		return nil
	})
	if txErr != nil {
		return Allocation{}, txErr
	}
	return allocation, nil
}

func (a *Allocator) readExisting(ctx context.Context, messageID MessageID) (Allocation, error) {
	var entry SequenceLogEntry
	err := a.db.WithContext(ctx).Where("message_id = ?", messageID.String()).Take(&entry).Error
	if err != nil {
		return Allocation{}, err
	}
	return Allocation{SequenceNumber: entry.SequenceNumber, Duplicate: true}, nil
}

func (a *Allocator) observe(allocation Allocation) {
	if allocation.Duplicate {
		allocationsTotal.WithLabelValues(outcomeDuplicate).Inc()
		return
	}
	allocationsTotal.WithLabelValues(outcomeAllocated).Inc()
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") ||
		strings.Contains(message, "SQLSTATE 23505")
}

// isTransient reports whether the transaction failed in a way that a retry
// of the identical request can resolve: lock timeouts, deadlock victims,
// serialization aborts, or sqlite writer contention.
func isTransient(err error) bool {
	message := err.Error()
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database table is locked") ||
		strings.Contains(message, "SQLSTATE 40001") ||
		strings.Contains(message, "SQLSTATE 40P01") ||
		strings.Contains(message, "SQLSTATE 55P03")
}

func (a *Allocator) logError(operation, reason string, err error, conversationID ConversationID, messageID MessageID) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("conversation_id", conversationID.String()),
		zap.String("message_id", messageID.String()),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	a.logger.Error("sequence allocator error", attrs...)
}
