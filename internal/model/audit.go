package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActionRegisterUser        = "REGISTER_USER"
	ActionCreateRequest       = "CREATE_REQUEST"
	ActionCreateSubRequest    = "CREATE_SUB_REQUEST"
	ActionUpdateRequestStatus = "UPDATE_REQUEST_STATUS"
	ActionCancelRequest       = "CANCEL_REQUEST"
)

// AuditLog tracks Who, What, and When for critical system changes
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nullable when the caller is unauthenticated
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`        // Request or user id
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable label
	Details    string     `gorm:"type:jsonb" json:"details"`                      // Serialized JSON payload of the action
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
