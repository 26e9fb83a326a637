package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Lifecycle event types recorded in RequestEvents.
const (
	EventSubmitted = "SUBMITTED"
	EventApproved  = "APPROVED"
	EventRejected  = "REJECTED"
	EventIssued    = "ISSUED"
	EventRevoked   = "REVOKED"
)

// EventIssuanceRetried records a reviewer claiming an approved request to
// finish its issuance.
const EventIssuanceRetried = "ISSUANCE_RETRIED"

// RequestEvent is an append-only audit row, written in the same transaction
// as the transition it records.
type RequestEvent struct {
	EventID    uuid.UUID      `gorm:"column:event_id;type:uuid;primaryKey" json:"event_id"`
	RequestID  uuid.UUID      `gorm:"column:request_id;type:uuid;not null;index" json:"request_id"`
	EventType  string         `gorm:"column:event_type;type:varchar(30);not null" json:"event_type"`
	FromStatus string         `gorm:"column:from_status;type:varchar(20)" json:"from_status"`
	ToStatus   string         `gorm:"column:to_status;type:varchar(20)" json:"to_status"`
	ActorID    *uuid.UUID     `gorm:"column:actor_id;type:uuid" json:"actor_id"`
	EventData  datatypes.JSON `gorm:"column:event_data;not null" json:"event_data"`
	CreatedAt  time.Time      `gorm:"column:createdAt" json:"createdAt"`
}

func (RequestEvent) TableName() string {
	return "RequestEvents"
}

func (e *RequestEvent) BeforeCreate(tx *gorm.DB) error {
	if e.EventID == uuid.Nil {
		e.EventID = uuid.New()
	}
	if len(e.EventData) == 0 {
		e.EventData = datatypes.JSON("{}")
	}
	return nil
}
