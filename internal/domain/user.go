package domain

import "time"

// User is a login account. Budget permissions come from its UserProfile.
type User struct {
	ID           int64      `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"column:username;size:150;not null;uniqueIndex" json:"username"`
	FirstName    string     `gorm:"column:first_name;size:150" json:"first_name"`
	Email        string     `gorm:"column:email;size:254;index" json:"email"`
	PasswordHash string     `gorm:"column:password_hash;not null" json:"-"`
	IsActive     bool       `gorm:"column:is_active;not null;default:true" json:"is_active"`
	LastLoginAt  *time.Time `gorm:"column:last_login_at" json:"last_login"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// DisplayName prefers the first name.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

// UserProfile carries the role and the organizational assignment of a user.
type UserProfile struct {
	ID             int64  `gorm:"primaryKey" json:"id"`
	UserID         int64  `gorm:"column:user_id;not null;uniqueIndex" json:"user"`
	OrganizationID *int64 `gorm:"column:organization_id;index" json:"organization"`
	TeamID         *int64 `gorm:"column:team_id;index" json:"team"`
	Role           string `gorm:"column:role;size:20;not null;default:STAFF" json:"role"`
}

func (UserProfile) TableName() string {
	return "user_profiles"
}

// Notification is an in-app message for one user.
type Notification struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	UserID    int64     `gorm:"column:user_id;not null;index" json:"user"`
	Message   string    `gorm:"column:message;type:text;not null" json:"message"`
	IsRead    bool      `gorm:"column:is_read;not null" json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
