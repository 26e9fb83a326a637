package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CertificateRequest is a student's ask for a certificate. Status only moves
// forward (pending -> approved|rejected, approved -> issued); Version is bumped
// on every transition and guards compare-and-swap updates.
type CertificateRequest struct {
	RequestID        uuid.UUID  `gorm:"column:request_id;type:uuid;primaryKey" json:"request_id"`
	RequesterID      uuid.UUID  `gorm:"column:requester_id;type:uuid;not null;index" json:"requester_id"`
	RequesterName    string     `gorm:"column:requester_name;not null" json:"requester_name"`
	Department       string     `gorm:"column:department" json:"department"`
	Category         string     `gorm:"column:category;type:varchar(20);not null;index" json:"category"`
	Title            string     `gorm:"column:title;not null" json:"title"`
	Description      string     `gorm:"column:description" json:"description"`
	ProofRef         *string    `gorm:"column:proof_ref" json:"proof_ref"`
	Status           string     `gorm:"column:status;type:varchar(20);not null;default:'pending';index" json:"status"`
	ReviewerID       *uuid.UUID `gorm:"column:reviewer_id;type:uuid" json:"reviewer_id"`
	ReviewerComments string     `gorm:"column:reviewer_comments" json:"reviewer_comments"`
	SubmittedAt      time.Time  `gorm:"column:submitted_at;not null" json:"submitted_at"`
	DecidedAt        *time.Time `gorm:"column:decided_at" json:"decided_at"`
	Version          int        `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt        time.Time  `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt        time.Time  `gorm:"column:updatedAt" json:"updatedAt"`
}

func (CertificateRequest) TableName() string {
	return "CertificateRequests"
}

func (r *CertificateRequest) BeforeCreate(tx *gorm.DB) error {
	if r.RequestID == uuid.Nil {
		r.RequestID = uuid.New()
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return nil
}
