package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/relaygrid/metadata/internal/directory"
	"github.com/relaygrid/metadata/internal/identity"
)

// ChannelDelivery is the internal channel every user is reachable on.
const ChannelDelivery = "delivery"

// UserCreatedEvent is the profile-sync payload published by the auth service
// on user.account.created.v1.
type UserCreatedEvent struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// ApplierConfig describes the stores a profile event is projected into.
type ApplierConfig struct {
	Directory  *directory.Service
	Identities *identity.Service
	Logger     *zap.Logger
}

// Applier projects user-created events into the directory and the identity
// mappings. Applying the same event twice converges on the same state, so
// at-least-once delivery needs no dedup on this side.
type Applier struct {
	directory  *directory.Service
	identities *identity.Service
	logger     *zap.Logger
}

// NewApplier constructs the event applier.
func NewApplier(cfg ApplierConfig) (*Applier, error) {
	if cfg.Directory == nil {
		return nil, fmt.Errorf("ingest: directory service required")
	}
	if cfg.Identities == nil {
		return nil, fmt.Errorf("ingest: identity service required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{
		directory:  cfg.Directory,
		identities: cfg.Identities,
		logger:     logger,
	}, nil
}

// Apply decodes and projects one event payload.
func (a *Applier) Apply(ctx context.Context, payload []byte) error {
	var event UserCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("ingest: decode event: %w", err)
	}
	if strings.TrimSpace(event.UserID) == "" || strings.TrimSpace(event.Username) == "" {
		return fmt.Errorf("ingest: event missing user_id or username")
	}

	avatarURL := event.AvatarURL
	if avatarURL == "" {
		avatarURL = defaultAvatarURL(event.Username)
	}
	if err := a.directory.Upsert(ctx, event.UserID, event.Username, event.Name, avatarURL); err != nil {
		return fmt.Errorf("ingest: directory upsert: %w", err)
	}

	// Every user is addressable on the internal delivery channel under their
	// own id; channel-prefixed usernames also pin the external identity.
	if err := a.identities.LinkIfAbsent(ctx, event.UserID, ChannelDelivery, event.UserID); err != nil {
		return fmt.Errorf("ingest: link delivery identity: %w", err)
	}
	if channel, externalID, ok := splitChannelUsername(event.Username); ok {
		if err := a.identities.LinkIfAbsent(ctx, event.UserID, channel, externalID); err != nil {
			return fmt.Errorf("ingest: link %s identity: %w", channel, err)
		}
	}

	a.logger.Info("profile synced",
		zap.String("user_id", event.UserID),
		zap.String("username", event.Username))
	return nil
}

func splitChannelUsername(username string) (channel, externalID string, ok bool) {
	for _, prefix := range []string{"whatsapp", "instagram"} {
		if rest, found := strings.CutPrefix(username, prefix+":"); found && rest != "" {
			return prefix, rest, true
		}
	}
	return "", "", false
}

func defaultAvatarURL(username string) string {
	return "https://api.dicebear.com/7.x/initials/svg?seed=" + url.QueryEscape(username)
}
