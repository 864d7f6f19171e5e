package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RequestStatus enum constants
const (
	StatusPending               = "pending"
	StatusAssigned              = "assigned"
	StatusCompleted             = "completed"
	StatusRejected              = "rejected"
	StatusCancellationRequested = "cancellation_requested"
	StatusCancelled             = "cancelled"
)

// History action labels
const (
	HistoryActionCreated       = "Created"
	HistoryActionAutoForwarded = "Auto-Forwarded"
	HistoryActionCancelled     = "Cancelled"
)

// HistoryDefaultNote is used when no note accompanies a history entry
const HistoryDefaultNote = "Status updated via API"

// HistoryEntry is one immutable audit record of a lifecycle event
type HistoryEntry struct {
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
	Note      string `json:"note"`
}

// HistoryLog is the ordered, append-only sequence of history entries
// serialized inside each request row as jsonb.
type HistoryLog []HistoryEntry

// Append returns a new log with one entry appended at the current time.
// An empty note falls back to HistoryDefaultNote. The receiver is never
// mutated; persisting the result is the caller's responsibility.
func (l HistoryLog) Append(action, note string) HistoryLog {
	if note == "" {
		note = HistoryDefaultNote
	}
	out := make(HistoryLog, len(l), len(l)+1)
	copy(out, l)
	return append(out, HistoryEntry{
		Action:    action,
		Timestamp: time.Now().Format(time.RFC3339),
		Note:      note,
	})
}

// Value serializes the log for the jsonb column
func (l HistoryLog) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan deserializes the jsonb column into the log
func (l *HistoryLog) Scan(value interface{}) error {
	if value == nil {
		*l = HistoryLog{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("unsupported type for history log")
	}
}

// Request represents a facility/service request moving through the
// backoffice lifecycle. A request may have at most one level of
// sub-requests: ParentID of a parented request is always nil.
type Request struct {
	ID              uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Type            string     `gorm:"type:varchar(100);not null;index" json:"type"`
	Location        string     `gorm:"type:varchar(255);not null" json:"location"`
	Description     string     `gorm:"type:text" json:"description"`
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	Status          string     `gorm:"type:varchar(30);not null;default:'pending';index" json:"status"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	History         HistoryLog `gorm:"type:jsonb;not null;default:'[]'" json:"history"`
	RejectionReason *string    `gorm:"type:text" json:"rejection_reason"`

	CreatedByID *uuid.UUID `gorm:"type:uuid;index" json:"created_by_id"`
	CreatedBy   *User      `gorm:"foreignKey:CreatedByID" json:"-"`

	ParentID *uuid.UUID `gorm:"type:uuid;index" json:"parent_id"`
}
