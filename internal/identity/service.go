package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound indicates no identity mapping matched the lookup.
	ErrNotFound = errors.New("identity: mapping not found")
	// ErrInvalidMapping indicates an empty user id, channel, or external id.
	ErrInvalidMapping = errors.New("identity: invalid mapping")
)

// ServiceConfig describes the dependencies of the identity resolver.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves between internal user ids and per-channel external
// addresses. External ids are only meaningful within their channel namespace.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the identity resolver.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("identity: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// LinkIdentity binds the external id to the user on the given channel,
// overwriting any previous binding for that (user, channel) pair.
func (s *Service) LinkIdentity(ctx context.Context, userID, channel, externalID string) error {
	userID, channel, externalID = normalize(userID), normalize(channel), normalize(externalID)
	if userID == "" || channel == "" || externalID == "" {
		return ErrInvalidMapping
	}

	mapping := Mapping{
		UserID:     userID,
		Channel:    channel,
		ExternalID: externalID,
		CreatedAt:  s.now().UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "channel"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"external_id": externalID}),
		}).
		Create(&mapping).Error
}

// LinkIfAbsent binds the external id only when the (user, channel) pair has
// no mapping yet. The profile-sync ingester uses it so redelivered events
// never clobber a manual relink.
func (s *Service) LinkIfAbsent(ctx context.Context, userID, channel, externalID string) error {
	userID, channel, externalID = normalize(userID), normalize(channel), normalize(externalID)
	if userID == "" || channel == "" || externalID == "" {
		return ErrInvalidMapping
	}

	mapping := Mapping{
		UserID:     userID,
		Channel:    channel,
		ExternalID: externalID,
		CreatedAt:  s.now().UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&mapping).Error
}

// ResolveByExternal returns the internal user id bound to the external
// address on the given channel.
func (s *Service) ResolveByExternal(ctx context.Context, channel, externalID string) (string, error) {
	channel, externalID = normalize(channel), normalize(externalID)
	if channel == "" || externalID == "" {
		return "", ErrInvalidMapping
	}

	var mapping Mapping
	err := s.db.WithContext(ctx).
		Where("channel = ? AND external_id = ?", channel, externalID).
		Take(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return mapping.UserID, nil
}

// ResolveExternal returns the user's external address on the given channel.
func (s *Service) ResolveExternal(ctx context.Context, userID, channel string) (string, error) {
	userID, channel = normalize(userID), normalize(channel)
	if userID == "" || channel == "" {
		return "", ErrInvalidMapping
	}

	var mapping Mapping
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND channel = ?", userID, channel).
		Take(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return mapping.ExternalID, nil
}

// ListIdentities returns every channel binding for the user as a
// channel → external id map.
func (s *Service) ListIdentities(ctx context.Context, userID string) (map[string]string, error) {
	userID = normalize(userID)
	if userID == "" {
		return nil, ErrInvalidMapping
	}

	var mappings []Mapping
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&mappings).Error
	if err != nil {
		return nil, err
	}

	identities := make(map[string]string, len(mappings))
	for _, mapping := range mappings {
		identities[mapping.Channel] = mapping.ExternalID
	}
	return identities, nil
}
