package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/relaygrid/metadata/internal/cache"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500

	lookupCacheKeyPrefix = "directory:profile:"
)

var (
	// ErrNotFound indicates the user has no directory entry.
	ErrNotFound = errors.New("directory: profile not found")
	// ErrInvalidProfile indicates an empty user id or username.
	ErrInvalidProfile = errors.New("directory: invalid profile")
)

// ServiceConfig describes the dependencies of the directory projection.
type ServiceConfig struct {
	Database *gorm.DB
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// Service serves profile reads from the projection, fronted by a short-TTL
// read-through cache. Writes come only from the profile-sync ingester.
type Service struct {
	db       *gorm.DB
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewService constructs the directory service. Cache may be nil, in which
// case every lookup hits the database.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("directory: database connection required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Service{
		db:       cfg.Database,
		cache:    cfg.Cache,
		cacheTTL: ttl,
		logger:   logger,
	}, nil
}

// Upsert creates or refreshes a directory entry and drops its cached copy.
func (s *Service) Upsert(ctx context.Context, userID, username, name, avatarURL string) error {
	userID, username = strings.TrimSpace(userID), strings.TrimSpace(username)
	if userID == "" || username == "" {
		return ErrInvalidProfile
	}

	profile := Profile{
		UserID:    userID,
		Username:  username,
		Name:      strings.TrimSpace(name),
		AvatarURL: strings.TrimSpace(avatarURL),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"username":   profile.Username,
				"name":       profile.Name,
				"avatar_url": profile.AvatarURL,
			}),
		}).
		Create(&profile).Error
	if err != nil {
		return err
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, lookupCacheKeyPrefix+userID); err != nil {
			s.logger.Warn("directory cache invalidation failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// Lookup returns the directory entry for a user.
func (s *Service) Lookup(ctx context.Context, userID string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, ErrInvalidProfile
	}

	cacheKey := lookupCacheKeyPrefix + userID
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey); err == nil {
			var profile Profile
			if err := json.Unmarshal([]byte(cached), &profile); err == nil {
				return profile, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("directory cache read failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	var profile Profile
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, err
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(profile); err == nil {
			if err := s.cache.Set(ctx, cacheKey, string(encoded), s.cacheTTL); err != nil {
				s.logger.Warn("directory cache write failed",
					zap.String("user_id", userID), zap.Error(err))
			}
		}
	}
	return profile, nil
}

// SearchByName returns profiles whose display name or username starts with
// the given prefix, ordered by name.
func (s *Service) SearchByName(ctx context.Context, prefix string, limit int) ([]Profile, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, ErrInvalidProfile
	}
	limit = clampLimit(limit)

	pattern := escapeLike(prefix) + "%"
	var profiles []Profile
	err := s.db.WithContext(ctx).
		Where("name LIKE ? ESCAPE '\\' OR username LIKE ? ESCAPE '\\'", pattern, pattern).
		Order("name ASC").
		Limit(limit).
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

// List pages through the directory for the platform's user browser.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Profile, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var profiles []Profile
	err := s.db.WithContext(ctx).
		Order("user_id ASC").
		Limit(limit).
		Offset(offset).
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return replacer.Replace(value)
}
