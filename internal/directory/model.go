package directory

import "time"

// Profile is a denormalized copy of user profile data, projected from the
// authoritative user store by the profile-sync ingester. It may lag its
// source and exists purely to serve fast reads.
type Profile struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Username  string    `gorm:"column:username;size:190;not null;index:idx_directory_username"`
	Name      string    `gorm:"column:name;size:320;not null;index:idx_directory_name"`
	AvatarURL string    `gorm:"column:avatar_url;size:512"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing the directory projection.
func (Profile) TableName() string {
	return "users_directory"
}
