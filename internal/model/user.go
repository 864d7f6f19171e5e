package model

import (
	"time"

	"github.com/google/uuid"
)

// UserRole enum constants
const (
	RoleStudent      = "student"
	RoleIntermediary = "intermediary"
	RoleBackoffice   = "backoffice"
)

// User represents the central user entity for logic and database structure
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	FullName  string    `gorm:"type:varchar(255);not null" json:"full_name"`
	Role      string    `gorm:"type:varchar(50);not null" json:"role"` // student, intermediary, backoffice
	Password  string    `gorm:"type:varchar(255);not null" json:"-"`   // Omit password digest from JSON responses
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ValidRole reports whether role is one of the known user roles
func ValidRole(role string) bool {
	return role == RoleStudent || role == RoleIntermediary || role == RoleBackoffice
}
