package conversations

import (
	"errors"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Conversation{}, &Membership{}, &SequenceLogEntry{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func newTestAllocator(t *testing.T, db *gorm.DB) *Allocator {
	t.Helper()
	allocator, err := NewAllocator(AllocatorConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct allocator: %v", err)
	}
	return allocator
}

func mustConversationID(t *testing.T, value string) ConversationID {
	t.Helper()
	id, err := NewConversationID(value)
	if err != nil {
		t.Fatalf("unexpected conversation id error: %v", err)
	}
	return id
}

func mustMessageID(t *testing.T, value string) MessageID {
	t.Helper()
	id, err := NewMessageID(value)
	if err != nil {
		t.Fatalf("unexpected message id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func seedConversation(t *testing.T, db *gorm.DB, conversationID string, conversationType ConversationType) {
	t.Helper()
	conversation := Conversation{
		ConversationID: conversationID,
		Type:           conversationType,
	}
	if err := db.Create(&conversation).Error; err != nil {
		t.Fatalf("failed to seed conversation: %v", err)
	}
}
