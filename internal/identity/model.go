package identity

import (
	"strings"
	"time"
)

// Mapping binds an internal user id to its address on an external channel.
// A user holds at most one external identity per channel; relinking the same
// (user, channel) pair overwrites the previous external id.
type Mapping struct {
	UserID     string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Channel    string    `gorm:"column:channel;primaryKey;size:64;not null;index:idx_identities_external,priority:1"`
	ExternalID string    `gorm:"column:external_id;size:190;not null;index:idx_identities_external,priority:2"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing identity mappings.
func (Mapping) TableName() string {
	return "user_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
