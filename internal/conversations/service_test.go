package conversations

import (
	"context"
	"errors"
	"testing"
)

func TestCreateConversationPersistsMembers(t *testing.T) {
	service, db := newTestService(t, []string{"conv-1"})

	conversationID, err := service.CreateConversation(context.Background(), CreateRequest{
		Type:         ConversationTypeGroup,
		MetadataJSON: `{"title":"release crew"}`,
		MemberIDs:    []UserID{mustUserID(t, "alice"), mustUserID(t, "bob"), mustUserID(t, "alice")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conversationID.String() != "conv-1" {
		t.Fatalf("unexpected conversation id %s", conversationID)
	}

	conversation, err := service.GetConversation(context.Background(), conversationID)
	if err != nil {
		t.Fatalf("failed to load conversation: %v", err)
	}
	if conversation.Type != ConversationTypeGroup {
		t.Fatalf("unexpected type %s", conversation.Type)
	}
	if conversation.LastSequenceNumber != 0 {
		t.Fatalf("new conversation must start at sequence 0, got %d", conversation.LastSequenceNumber)
	}
	if conversation.MetadataJSON != `{"title":"release crew"}` {
		t.Fatalf("unexpected metadata %s", conversation.MetadataJSON)
	}

	// The duplicated member id collapses to one membership row.
	var memberCount int64
	if err := db.Model(&Membership{}).Where("conversation_id = ?", "conv-1").Count(&memberCount).Error; err != nil {
		t.Fatalf("failed to count members: %v", err)
	}
	if memberCount != 2 {
		t.Fatalf("expected 2 memberships, got %d", memberCount)
	}
}

func TestCreateConversationRejectsInvalidMetadata(t *testing.T) {
	service, _ := newTestService(t, []string{"conv-1"})

	_, err := service.CreateConversation(context.Background(), CreateRequest{
		Type:         ConversationTypeGroup,
		MetadataJSON: `{"title":`,
		MemberIDs:    []UserID{mustUserID(t, "alice")},
	})
	if !errors.Is(err, ErrInvalidMetadata) {
		t.Fatalf("expected ErrInvalidMetadata, got %v", err)
	}
}

func TestCreateConversationRejectsEmptyMembers(t *testing.T) {
	service, _ := newTestService(t, []string{"conv-1"})

	_, err := service.CreateConversation(context.Background(), CreateRequest{Type: ConversationTypeGroup})
	if !errors.Is(err, ErrNoMembers) {
		t.Fatalf("expected ErrNoMembers, got %v", err)
	}
}

func TestCreatePrivateConversationDeduplicatesPair(t *testing.T) {
	service, _ := newTestService(t, []string{"conv-1", "conv-2"})
	members := []UserID{mustUserID(t, "alice"), mustUserID(t, "bob")}

	first, err := service.CreateConversation(context.Background(), CreateRequest{
		Type:      ConversationTypePrivate,
		MemberIDs: members,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := service.CreateConversation(context.Background(), CreateRequest{
		Type:      ConversationTypePrivate,
		MemberIDs: []UserID{members[1], members[0]},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != first {
		t.Fatalf("expected existing private conversation %s, got %s", first, second)
	}

	// A group conversation for the same pair is always a new one.
	third, err := service.CreateConversation(context.Background(), CreateRequest{
		Type:      ConversationTypeGroup,
		MemberIDs: members,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third == first {
		t.Fatalf("group conversation must not reuse the private one")
	}
}

func TestGetConversationMissing(t *testing.T) {
	service, _ := newTestService(t, nil)

	_, err := service.GetConversation(context.Background(), mustConversationID(t, "ghost"))
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestDeleteConversationCascadesMemberships(t *testing.T) {
	service, db := newTestService(t, []string{"conv-1"})

	conversationID, err := service.CreateConversation(context.Background(), CreateRequest{
		Type:      ConversationTypeGroup,
		MemberIDs: []UserID{mustUserID(t, "alice"), mustUserID(t, "bob")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := service.DeleteConversation(context.Background(), conversationID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	var memberCount int64
	if err := db.Model(&Membership{}).Where("conversation_id = ?", "conv-1").Count(&memberCount).Error; err != nil {
		t.Fatalf("failed to count members: %v", err)
	}
	if memberCount != 0 {
		t.Fatalf("expected memberships to cascade, %d rows remain", memberCount)
	}

	if _, err := service.GetConversation(context.Background(), conversationID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound after delete, got %v", err)
	}
}

func TestDeleteConversationRetainsSequenceLog(t *testing.T) {
	service, db := newTestService(t, []string{"conv-1"})
	allocator := newTestAllocator(t, db)

	conversationID, err := service.CreateConversation(context.Background(), CreateRequest{
		Type:      ConversationTypeGroup,
		MemberIDs: []UserID{mustUserID(t, "alice")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := allocator.Allocate(context.Background(), conversationID, mustMessageID(t, "m1")); err != nil {
		t.Fatalf("unexpected allocation error: %v", err)
	}

	if err := service.DeleteConversation(context.Background(), conversationID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	var logCount int64
	if err := db.Model(&SequenceLogEntry{}).Where("conversation_id = ?", "conv-1").Count(&logCount).Error; err != nil {
		t.Fatalf("failed to count log entries: %v", err)
	}
	if logCount != 1 {
		t.Fatalf("sequence log must survive conversation deletion, got %d rows", logCount)
	}
}

func TestDeleteConversationMissing(t *testing.T) {
	service, _ := newTestService(t, nil)

	err := service.DeleteConversation(context.Background(), mustConversationID(t, "ghost"))
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestAddMemberIsIdempotent(t *testing.T) {
	service, db := newTestService(t, []string{"conv-1"})

	conversationID, err := service.CreateConversation(context.Background(), CreateRequest{
		Type:      ConversationTypeGroup,
		MemberIDs: []UserID{mustUserID(t, "alice")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	carol := mustUserID(t, "carol")
	if err := service.AddMember(context.Background(), conversationID, carol); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if err := service.AddMember(context.Background(), conversationID, carol); err != nil {
		t.Fatalf("second add must be a no-op, got %v", err)
	}

	var memberCount int64
	if err := db.Model(&Membership{}).Where("conversation_id = ? AND user_id = ?", "conv-1", "carol").Count(&memberCount).Error; err != nil {
		t.Fatalf("failed to count members: %v", err)
	}
	if memberCount != 1 {
		t.Fatalf("expected one membership row, got %d", memberCount)
	}
}

func TestAddMemberUnknownConversation(t *testing.T) {
	service, _ := newTestService(t, nil)

	err := service.AddMember(context.Background(), mustConversationID(t, "ghost"), mustUserID(t, "carol"))
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestRemoveMemberAbsentIsNoOp(t *testing.T) {
	service, _ := newTestService(t, []string{"conv-1"})

	conversationID, err := service.CreateConversation(context.Background(), CreateRequest{
		Type:      ConversationTypeGroup,
		MemberIDs: []UserID{mustUserID(t, "alice")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := service.RemoveMember(context.Background(), conversationID, mustUserID(t, "nobody")); err != nil {
		t.Fatalf("removing an absent member must not fail: %v", err)
	}
	if err := service.RemoveMember(context.Background(), mustConversationID(t, "ghost"), mustUserID(t, "alice")); err != nil {
		t.Fatalf("removing from an absent conversation must not fail: %v", err)
	}
}

func TestListMembersSorted(t *testing.T) {
	service, _ := newTestService(t, []string{"conv-1"})

	conversationID, err := service.CreateConversation(context.Background(), CreateRequest{
		Type:      ConversationTypeGroup,
		MemberIDs: []UserID{mustUserID(t, "zoe"), mustUserID(t, "alice"), mustUserID(t, "bob")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	memberIDs, err := service.ListMembers(context.Background(), conversationID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	want := []string{"alice", "bob", "zoe"}
	if len(memberIDs) != len(want) {
		t.Fatalf("expected %d members, got %d", len(want), len(memberIDs))
	}
	for i := range want {
		if memberIDs[i] != want[i] {
			t.Fatalf("member %d: got %s, want %s", i, memberIDs[i], want[i])
		}
	}
}

func TestListUserConversationsIncludesHighWaterMark(t *testing.T) {
	service, db := newTestService(t, []string{"conv-1", "conv-2"})
	allocator := newTestAllocator(t, db)
	alice := mustUserID(t, "alice")

	first, err := service.CreateConversation(context.Background(), CreateRequest{
		Type:      ConversationTypeGroup,
		MemberIDs: []UserID{alice, mustUserID(t, "bob")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := service.CreateConversation(context.Background(), CreateRequest{
		Type:      ConversationTypeGroup,
		MemberIDs: []UserID{mustUserID(t, "bob"), mustUserID(t, "carol")},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := allocator.Allocate(context.Background(), first, mustMessageID(t, "m1")); err != nil {
		t.Fatalf("unexpected allocation error: %v", err)
	}

	summaries, err := service.ListUserConversations(context.Background(), alice)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 conversation for alice, got %d", len(summaries))
	}
	if summaries[0].ConversationID != first.String() {
		t.Fatalf("unexpected conversation %s", summaries[0].ConversationID)
	}
	if summaries[0].LastSequenceNumber != 1 {
		t.Fatalf("expected high-water mark 1, got %d", summaries[0].LastSequenceNumber)
	}
}
