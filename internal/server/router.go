package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relaygrid/metadata/internal/conversations"
	"github.com/relaygrid/metadata/internal/directory"
	"github.com/relaygrid/metadata/internal/identity"
)

const callerContextKey = "metadata_caller_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingConversations = errors.New("conversation service dependency required")
	errMissingAllocator     = errors.New("sequence allocator dependency required")
	errMissingIdentities    = errors.New("identity service dependency required")
	errMissingDirectory     = errors.New("directory service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// ServiceTokenValidator authenticates bearer tokens presented by ingestion
// and gateway collaborators.
type ServiceTokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the stores behind the RPC surface.
type Dependencies struct {
	Tokens        ServiceTokenValidator
	Conversations *conversations.Service
	Allocator     *conversations.Allocator
	Identities    *identity.Service
	Directory     *directory.Service
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin handler exposing the metadata RPC surface.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}
	if deps.Conversations == nil {
		return nil, errMissingConversations
	}
	if deps.Allocator == nil {
		return nil, errMissingAllocator
	}
	if deps.Identities == nil {
		return nil, errMissingIdentities
	}
	if deps.Directory == nil {
		return nil, errMissingDirectory
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.Tokens,
		conversations: deps.Conversations,
		allocator:     deps.Allocator,
		identities:    deps.Identities,
		directory:     deps.Directory,
		logger:        logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(handler.authorizeRequest)
	v1.POST("/sequence/allocate", handler.handleAllocateSequence)
	v1.POST("/conversations", handler.handleCreateConversation)
	v1.GET("/conversations/:id", handler.handleGetConversation)
	v1.DELETE("/conversations/:id", handler.handleDeleteConversation)
	v1.GET("/conversations/:id/members", handler.handleListMembers)
	v1.POST("/conversations/:id/members", handler.handleAddMember)
	v1.DELETE("/conversations/:id/members/:userID", handler.handleRemoveMember)
	v1.GET("/users/:id/conversations", handler.handleListUserConversations)
	v1.POST("/identities", handler.handleLinkIdentity)
	v1.GET("/identities/resolve", handler.handleResolveIdentity)
	v1.GET("/users/:id/identities", handler.handleListIdentities)
	v1.GET("/users/:id/identities/:channel", handler.handleResolveExternal)
	v1.GET("/profiles/:id", handler.handleGetProfile)
	v1.GET("/profiles", handler.handleListProfiles)

	return router, nil
}

type httpHandler struct {
	tokens        ServiceTokenValidator
	conversations *conversations.Service
	allocator     *conversations.Allocator
	identities    *identity.Service
	directory     *directory.Service
	logger        *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("service token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(callerContextKey, subject)
	c.Next()
}

// respondStoreError maps the store error taxonomy onto HTTP statuses:
// definitive negatives to 404, retryable contention to 409 with a retryable
// flag, bad input to 400, and anything else to 500 with the stable code.
func (h *httpHandler) respondStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversations.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation_not_found"})
	case errors.Is(err, identity.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "identity_not_found"})
	case errors.Is(err, directory.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "profile_not_found"})
	case errors.Is(err, conversations.ErrTransientConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "transient_conflict", "retryable": true})
	case errors.Is(err, conversations.ErrInvalidConversationID),
		errors.Is(err, conversations.ErrInvalidMessageID),
		errors.Is(err, conversations.ErrInvalidUserID),
		errors.Is(err, conversations.ErrInvalidConversationType),
		errors.Is(err, conversations.ErrInvalidMetadata),
		errors.Is(err, conversations.ErrNoMembers),
		errors.Is(err, identity.ErrInvalidMapping),
		errors.Is(err, directory.ErrInvalidProfile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		var serviceErr *conversations.ServiceError
		if errors.As(err, &serviceErr) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "code": serviceErr.Code()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
