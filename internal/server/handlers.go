package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relaygrid/metadata/internal/conversations"
	"github.com/relaygrid/metadata/internal/directory"
)

type allocateRequestPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type allocateResponsePayload struct {
	SequenceNumber int64 `json:"sequence_number"`
	Duplicate      bool  `json:"duplicate"`
}

func (h *httpHandler) handleAllocateSequence(c *gin.Context) {
	var request allocateRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	conversationID, err := conversations.NewConversationID(request.ConversationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_conversation_id"})
		return
	}
	messageID, err := conversations.NewMessageID(request.MessageID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_message_id"})
		return
	}

	allocation, err := h.allocator.Allocate(c.Request.Context(), conversationID, messageID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, allocateResponsePayload{
		SequenceNumber: allocation.SequenceNumber,
		Duplicate:      allocation.Duplicate,
	})
}

type createConversationPayload struct {
	Type      string          `json:"type"`
	Metadata  json.RawMessage `json:"metadata"`
	MemberIDs []string        `json:"member_ids"`
}

func (h *httpHandler) handleCreateConversation(c *gin.Context) {
	var request createConversationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	conversationType, err := conversations.ParseConversationType(request.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_conversation_type"})
		return
	}
	memberIDs := make([]conversations.UserID, 0, len(request.MemberIDs))
	for _, raw := range request.MemberIDs {
		memberID, err := conversations.NewUserID(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
			return
		}
		memberIDs = append(memberIDs, memberID)
	}

	metadataJSON := ""
	if len(request.Metadata) > 0 {
		metadataJSON = string(request.Metadata)
	}

	conversationID, err := h.conversations.CreateConversation(c.Request.Context(), conversations.CreateRequest{
		Type:         conversationType,
		MetadataJSON: metadataJSON,
		MemberIDs:    memberIDs,
	})
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation_id": conversationID.String()})
}

type conversationResponsePayload struct {
	ConversationID     string          `json:"conversation_id"`
	Type               string          `json:"type"`
	LastSequenceNumber int64           `json:"last_sequence_number"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

func (h *httpHandler) handleGetConversation(c *gin.Context) {
	conversationID, err := conversations.NewConversationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_conversation_id"})
		return
	}

	conversation, err := h.conversations.GetConversation(c.Request.Context(), conversationID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	response := conversationResponsePayload{
		ConversationID:     conversation.ConversationID,
		Type:               string(conversation.Type),
		LastSequenceNumber: conversation.LastSequenceNumber,
		CreatedAt:          conversation.CreatedAt,
	}
	if conversation.MetadataJSON != "" {
		response.Metadata = json.RawMessage(conversation.MetadataJSON)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleDeleteConversation(c *gin.Context) {
	conversationID, err := conversations.NewConversationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_conversation_id"})
		return
	}

	if err := h.conversations.DeleteConversation(c.Request.Context(), conversationID); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type addMemberPayload struct {
	UserID string `json:"user_id"`
}

func (h *httpHandler) handleAddMember(c *gin.Context) {
	conversationID, err := conversations.NewConversationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_conversation_id"})
		return
	}
	var request addMemberPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	userID, err := conversations.NewUserID(request.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}

	if err := h.conversations.AddMember(c.Request.Context(), conversationID, userID); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleRemoveMember(c *gin.Context) {
	conversationID, err := conversations.NewConversationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_conversation_id"})
		return
	}
	userID, err := conversations.NewUserID(c.Param("userID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}

	if err := h.conversations.RemoveMember(c.Request.Context(), conversationID, userID); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListMembers(c *gin.Context) {
	conversationID, err := conversations.NewConversationID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_conversation_id"})
		return
	}

	memberIDs, err := h.conversations.ListMembers(c.Request.Context(), conversationID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	if memberIDs == nil {
		memberIDs = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"member_ids": memberIDs})
}

type conversationSummaryPayload struct {
	ConversationID     string          `json:"conversation_id"`
	Type               string          `json:"type"`
	Metadata           json.RawMessage `json:"metadata,omitempty"`
	LastSequenceNumber int64           `json:"last_sequence_number"`
}

func (h *httpHandler) handleListUserConversations(c *gin.Context) {
	userID, err := conversations.NewUserID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}

	summaries, err := h.conversations.ListUserConversations(c.Request.Context(), userID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	payload := make([]conversationSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		item := conversationSummaryPayload{
			ConversationID:     summary.ConversationID,
			Type:               string(summary.Type),
			LastSequenceNumber: summary.LastSequenceNumber,
		}
		if summary.MetadataJSON != "" {
			item.Metadata = json.RawMessage(summary.MetadataJSON)
		}
		payload = append(payload, item)
	}
	c.JSON(http.StatusOK, gin.H{"conversations": payload})
}

type linkIdentityPayload struct {
	UserID     string `json:"user_id"`
	Channel    string `json:"channel"`
	ExternalID string `json:"external_id"`
}

func (h *httpHandler) handleLinkIdentity(c *gin.Context) {
	var request linkIdentityPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.identities.LinkIdentity(c.Request.Context(), request.UserID, request.Channel, request.ExternalID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleResolveIdentity(c *gin.Context) {
	channel := c.Query("channel")
	externalID := c.Query("external_id")

	userID, err := h.identities.ResolveByExternal(c.Request.Context(), channel, externalID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID})
}

func (h *httpHandler) handleListIdentities(c *gin.Context) {
	identities, err := h.identities.ListIdentities(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identities": identities})
}

func (h *httpHandler) handleResolveExternal(c *gin.Context) {
	externalID, err := h.identities.ResolveExternal(c.Request.Context(), c.Param("id"), c.Param("channel"))
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"external_id": externalID})
}

type profileResponsePayload struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.directory.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, profilePayload(profile))
}

func (h *httpHandler) handleListProfiles(c *gin.Context) {
	limit := intQuery(c, "limit", 0)
	offset := intQuery(c, "offset", 0)

	var (
		profiles []directory.Profile
		err      error
	)
	if search := c.Query("search"); search != "" {
		profiles, err = h.directory.SearchByName(c.Request.Context(), search, limit)
	} else {
		profiles, err = h.directory.List(c.Request.Context(), limit, offset)
	}
	if err != nil {
		h.respondStoreError(c, err)
		return
	}

	payload := make([]profileResponsePayload, 0, len(profiles))
	for _, profile := range profiles {
		payload = append(payload, profilePayload(profile))
	}
	c.JSON(http.StatusOK, gin.H{"profiles": payload})
}

func profilePayload(profile directory.Profile) profileResponsePayload {
	return profileResponsePayload{
		UserID:    profile.UserID,
		Username:  profile.Username,
		Name:      profile.Name,
		AvatarURL: profile.AvatarURL,
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
