// Package store is the GORM-backed persistence for certificate requests,
// certificates and their audit trail. Every status change is a
// compare-and-swap on (status, version) written in the same transaction as
// its RequestEvent.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"certify-backend/internal/domain"
	"certify-backend/internal/infrastructure/database"
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/constants"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrRequestNotFound     = apperr.NotFound("Certificate request not found")
	ErrCertificateNotFound = apperr.NotFound("Certificate not found")
	// ErrCertificateIDTaken is returned when a freshly generated certificate id
	// collides with an existing one; the caller should generate a new id.
	ErrCertificateIDTaken = apperr.Conflict("Certificate id already in use")
)

// IsCertificateIDTaken reports whether err is ErrCertificateIDTaken.
func IsCertificateIDTaken(err error) bool {
	var ae *apperr.Error
	return errors.As(err, &ae) && ae == ErrCertificateIDTaken
}

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// Ping checks the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func eventData(data map[string]interface{}) datatypes.JSON {
	if len(data) == 0 {
		return datatypes.JSON("{}")
	}
	b, err := json.Marshal(data)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}

func persistence(msg string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Persistence(msg, err)
}

// CreateRequest inserts req in pending state together with its SUBMITTED event.
func (s *Store) CreateRequest(ctx context.Context, req *domain.CertificateRequest) error {
	req.Status = constants.StatusPending
	req.Version = 1
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		actor := req.RequesterID
		return tx.Create(&domain.RequestEvent{
			RequestID: req.RequestID,
			EventType: domain.EventSubmitted,
			ToStatus:  constants.StatusPending,
			ActorID:   &actor,
			EventData: eventData(map[string]interface{}{"category": req.Category, "title": req.Title}),
		}).Error
	})
	if err != nil {
		return persistence("Failed to save certificate request", err)
	}
	return nil
}

func (s *Store) FindRequest(ctx context.Context, id uuid.UUID) (*domain.CertificateRequest, error) {
	return findRequest(s.DB.WithContext(ctx), id)
}

func findRequest(db *gorm.DB, id uuid.UUID) (*domain.CertificateRequest, error) {
	var req domain.CertificateRequest
	if err := db.Where("request_id = ?", id).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, persistence("Failed to load certificate request", err)
	}
	return &req, nil
}

// RequestFilter narrows ListRequests. Zero values mean "any".
type RequestFilter struct {
	RequesterID *uuid.UUID
	Status      string
	Category    string
	Limit       int
	Offset      int
}

// ListRequests returns matching requests, newest first, and the total count.
func (s *Store) ListRequests(ctx context.Context, f RequestFilter) ([]domain.CertificateRequest, int64, error) {
	q := s.DB.WithContext(ctx).Model(&domain.CertificateRequest{})
	if f.RequesterID != nil {
		q = q.Where("requester_id = ?", *f.RequesterID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, persistence("Failed to count certificate requests", err)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	var out []domain.CertificateRequest
	if err := q.Order(`"submitted_at" DESC`).Find(&out).Error; err != nil {
		return nil, 0, persistence("Failed to list certificate requests", err)
	}
	return out, total, nil
}

// Transition describes one compare-and-swap status change.
type Transition struct {
	RequestID  uuid.UUID
	From       string
	To         string
	Version    int
	ReviewerID *uuid.UUID
	Comments   string
	DecidedAt  *time.Time
	EventType  string
	ActorID    *uuid.UUID
	Data       map[string]interface{}
}

// Transition applies t atomically with its audit event and returns the updated
// request. When the row no longer matches (status, version) the request is
// re-read: a different status yields InvalidState, the same status a Conflict
// (concurrent writer bumped the version).
func (s *Store) Transition(ctx context.Context, t Transition) (*domain.CertificateRequest, error) {
	var out *domain.CertificateRequest
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := casStatus(tx, t); err != nil {
			return err
		}
		req, err := findRequest(tx, t.RequestID)
		if err != nil {
			return err
		}
		out = req
		return nil
	})
	if err != nil {
		return nil, persistence("Failed to update certificate request", err)
	}
	return out, nil
}

func casStatus(tx *gorm.DB, t Transition) error {
	updates := map[string]interface{}{
		"status":    t.To,
		"version":   t.Version + 1,
		"updatedAt": time.Now().UTC(),
	}
	if t.ReviewerID != nil {
		updates["reviewer_id"] = *t.ReviewerID
		updates["reviewer_comments"] = t.Comments
	}
	if t.DecidedAt != nil {
		updates["decided_at"] = *t.DecidedAt
	}
	res := tx.Model(&domain.CertificateRequest{}).
		Where("request_id = ? AND status = ? AND version = ?", t.RequestID, t.From, t.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		current, err := findRequest(tx, t.RequestID)
		if err != nil {
			return err
		}
		if current.Status != t.From {
			return apperr.InvalidState("Request is already " + current.Status)
		}
		return apperr.Conflict("Request was modified concurrently, retry")
	}
	return tx.Create(&domain.RequestEvent{
		RequestID:  t.RequestID,
		EventType:  t.EventType,
		FromStatus: t.From,
		ToStatus:   t.To,
		ActorID:    t.ActorID,
		EventData:  eventData(t.Data),
	}).Error
}

// IssueCertificate persists cert for an approved request and moves the request
// to issued, all in one transaction. The request must still be approved at
// expectedVersion; a newer version means another caller has claimed the
// issuance (Conflict). It is idempotent for the holder of expectedVersion:
// when that holder already issued the request (issued at expectedVersion+1)
// the existing certificate is returned with created=false. A certificate
// minted under any other version is a lost race and yields Conflict.
func (s *Store) IssueCertificate(ctx context.Context, cert *domain.Certificate, expectedVersion int, actorID *uuid.UUID) (*domain.Certificate, bool, error) {
	var (
		out     *domain.Certificate
		created bool
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findCertificateByRequest(tx, cert.RequestID)
		if err != nil && !errors.Is(err, ErrCertificateNotFound) {
			return err
		}
		req, err := findRequest(tx, cert.RequestID)
		if err != nil {
			return err
		}
		if existing != nil {
			switch {
			case req.Status == constants.StatusIssued && req.Version == expectedVersion+1:
				out = existing
				return nil
			case req.Status == constants.StatusApproved && req.Version == expectedVersion:
			default:
				return apperr.Conflict("Certificate was issued by a concurrent decision")
			}
			out = existing
			return casStatus(tx, Transition{
				RequestID: req.RequestID,
				From:      constants.StatusApproved,
				To:        constants.StatusIssued,
				Version:   req.Version,
				EventType: domain.EventIssued,
				ActorID:   actorID,
				Data:      map[string]interface{}{"certificate_id": existing.CertificateID},
			})
		}
		if req.Status != constants.StatusApproved {
			return apperr.InvalidState("Request is " + req.Status + ", only approved requests can be issued")
		}
		if req.Version != expectedVersion {
			return apperr.Conflict("Request was modified concurrently, retry")
		}

		var taken int64
		if err := tx.Model(&domain.Certificate{}).Where("certificate_id = ?", cert.CertificateID).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return ErrCertificateIDTaken
		}
		if err := tx.Create(cert).Error; err != nil {
			if database.IsUniqueViolation(err) {
				// Lost the race on request_id or certificate_id.
				return apperr.Conflict("Certificate was issued concurrently, retry")
			}
			return err
		}
		if err := casStatus(tx, Transition{
			RequestID: req.RequestID,
			From:      constants.StatusApproved,
			To:        constants.StatusIssued,
			Version:   req.Version,
			EventType: domain.EventIssued,
			ActorID:   actorID,
			Data:      map[string]interface{}{"certificate_id": cert.CertificateID},
		}); err != nil {
			return err
		}
		out = cert
		created = true
		return nil
	})
	if err != nil {
		return nil, false, persistence("Failed to issue certificate", err)
	}
	return out, created, nil
}

func findCertificateByRequest(db *gorm.DB, requestID uuid.UUID) (*domain.Certificate, error) {
	var c domain.Certificate
	if err := db.Where("request_id = ?", requestID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCertificateNotFound
		}
		return nil, persistence("Failed to load certificate", err)
	}
	return &c, nil
}

func (s *Store) FindCertificateByRequest(ctx context.Context, requestID uuid.UUID) (*domain.Certificate, error) {
	return findCertificateByRequest(s.DB.WithContext(ctx), requestID)
}

// FindCertificate looks a certificate up by its public identifier.
func (s *Store) FindCertificate(ctx context.Context, certificateID string) (*domain.Certificate, error) {
	var c domain.Certificate
	if err := s.DB.WithContext(ctx).Where("certificate_id = ?", certificateID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCertificateNotFound
		}
		return nil, persistence("Failed to load certificate", err)
	}
	return &c, nil
}

// CertificateFilter narrows ListCertificates.
type CertificateFilter struct {
	RequesterID    *uuid.UUID
	IncludeRevoked bool
	Limit          int
	Offset         int
}

func (s *Store) ListCertificates(ctx context.Context, f CertificateFilter) ([]domain.Certificate, int64, error) {
	q := s.DB.WithContext(ctx).Model(&domain.Certificate{})
	if f.RequesterID != nil {
		q = q.Where("requester_id = ?", *f.RequesterID)
	}
	if !f.IncludeRevoked {
		q = q.Where("revoked = ?", false)
	}
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, persistence("Failed to count certificates", err)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit).Offset(f.Offset)
	}
	var out []domain.Certificate
	if err := q.Order(`"createdAt" DESC`).Find(&out).Error; err != nil {
		return nil, 0, persistence("Failed to list certificates", err)
	}
	return out, total, nil
}

// RevokeCertificate marks the certificate revoked and records a REVOKED event
// on its request. Revoking twice is InvalidState.
func (s *Store) RevokeCertificate(ctx context.Context, certificateID string, by uuid.UUID, reason string) (*domain.Certificate, error) {
	var out domain.Certificate
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&domain.Certificate{}).
			Where("certificate_id = ? AND revoked = ?", certificateID, false).
			Updates(map[string]interface{}{
				"revoked":           true,
				"revoked_at":        now,
				"revoked_by":        by,
				"revocation_reason": reason,
				"updatedAt":         now,
			})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Where("certificate_id = ?", certificateID).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCertificateNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			return apperr.InvalidState("Certificate is already revoked")
		}
		return tx.Create(&domain.RequestEvent{
			RequestID:  out.RequestID,
			EventType:  domain.EventRevoked,
			FromStatus: constants.StatusIssued,
			ToStatus:   constants.StatusIssued,
			ActorID:    &by,
			EventData:  eventData(map[string]interface{}{"certificate_id": certificateID, "reason": reason}),
		}).Error
	})
	if err != nil {
		return nil, persistence("Failed to revoke certificate", err)
	}
	return &out, nil
}

// ListEvents returns the audit trail of a request, oldest first.
func (s *Store) ListEvents(ctx context.Context, requestID uuid.UUID) ([]domain.RequestEvent, error) {
	var out []domain.RequestEvent
	if err := s.DB.WithContext(ctx).Where("request_id = ?", requestID).Order(`"createdAt" ASC`).Find(&out).Error; err != nil {
		return nil, persistence("Failed to load request history", err)
	}
	return out, nil
}

// ClaimIssuance bumps the version of an approved request without changing its
// status, so only the claimant can complete the pending issuance.
func (s *Store) ClaimIssuance(ctx context.Context, requestID uuid.UUID, version int, actorID *uuid.UUID) (*domain.CertificateRequest, error) {
	return s.Transition(ctx, Transition{
		RequestID: requestID,
		From:      constants.StatusApproved,
		To:        constants.StatusApproved,
		Version:   version,
		EventType: domain.EventIssuanceRetried,
		ActorID:   actorID,
	})
}

// ListStuckApproved returns approved requests decided before cutoff; these
// are approvals whose issuance did not complete.
func (s *Store) ListStuckApproved(ctx context.Context, cutoff time.Time, limit int) ([]domain.CertificateRequest, error) {
	var out []domain.CertificateRequest
	err := s.DB.WithContext(ctx).
		Where("status = ? AND decided_at < ?", constants.StatusApproved, cutoff).
		Order(`"decided_at" ASC`).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, persistence("Failed to list approved requests", err)
	}
	return out, nil
}

// CountByStatus returns request counts keyed by status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	if err := s.DB.WithContext(ctx).Model(&domain.CertificateRequest{}).
		Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, persistence("Failed to count requests", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

var ErrUserNotFound = apperr.NotFound("User not found")

// FindUser loads an account by id.
func (s *Store) FindUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	if err := s.DB.WithContext(ctx).Where("user_id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, persistence("Failed to load user", err)
	}
	return &u, nil
}
