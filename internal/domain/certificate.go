package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Certificate is minted once per approved request. Only the revocation fields
// change after creation.
type Certificate struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"-"`
	CertificateID    string     `gorm:"column:certificate_id;type:varchar(64);not null;uniqueIndex" json:"certificate_id"`
	RequestID        uuid.UUID  `gorm:"column:request_id;type:uuid;not null;uniqueIndex" json:"request_id"`
	RequesterID      uuid.UUID  `gorm:"column:requester_id;type:uuid;not null;index" json:"requester_id"`
	StudentName      string     `gorm:"column:student_name;not null" json:"student_name"`
	Title            string     `gorm:"column:title;not null" json:"title"`
	Category         string     `gorm:"column:category;type:varchar(20);not null" json:"category"`
	IssuedOn         string     `gorm:"column:issued_on;type:char(10);not null" json:"issued_on"`
	Issuer           string     `gorm:"column:issuer;not null" json:"issuer"`
	Department       string     `gorm:"column:department" json:"department"`
	Revoked          bool       `gorm:"column:revoked;not null;default:false" json:"revoked"`
	RevokedAt        *time.Time `gorm:"column:revoked_at" json:"revoked_at"`
	RevokedBy        *uuid.UUID `gorm:"column:revoked_by;type:uuid" json:"revoked_by"`
	RevocationReason string     `gorm:"column:revocation_reason" json:"revocation_reason"`
	CreatedAt        time.Time  `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt        time.Time  `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Certificate) TableName() string {
	return "Certificates"
}

func (c *Certificate) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
