package certificates

import (
	"context"
	"strings"
	"time"

	"certify-backend/internal/application/authz"
	"certify-backend/internal/application/events"
	"certify-backend/internal/domain"
	"certify-backend/internal/infrastructure/store"
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/constants"
	"certify-backend/internal/platform/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	FindCertificate(ctx context.Context, certificateID string) (*domain.Certificate, error)
	ListCertificates(ctx context.Context, f store.CertificateFilter) ([]domain.Certificate, int64, error)
	RevokeCertificate(ctx context.Context, certificateID string, by uuid.UUID, reason string) (*domain.Certificate, error)
}

type Service struct {
	Store    Repository
	Renderer Renderer
	Gate     authz.Gate
	Events   events.Publisher
	Metrics  *metrics.Metrics
}

func NewService(repo Repository, renderer Renderer) *Service {
	return &Service{Store: repo, Renderer: renderer, Events: events.Nop{}}
}

type ListFilter struct {
	IncludeRevoked bool
	Page           int
	Limit          int
}

type Page struct {
	Items []domain.Certificate `json:"items"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// List returns certificates newest first; students only see their own.
func (s *Service) List(ctx context.Context, caller authz.Caller, f ListFilter) (*Page, error) {
	if !caller.IsAuthenticated() {
		return nil, authz.ErrNotAuthenticated
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	filter := store.CertificateFilter{IncludeRevoked: f.IncludeRevoked, Limit: f.Limit, Offset: (f.Page - 1) * f.Limit}
	if caller.Role == constants.Student {
		id := caller.UserID
		filter.RequesterID = &id
	} else if err := s.Gate.Authorize(caller, authz.ActionListAllRequests, authz.Resource{}); err != nil {
		return nil, err
	}
	items, total, err := s.Store.ListCertificates(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// Get returns one certificate to its owner or to staff.
func (s *Service) Get(ctx context.Context, caller authz.Caller, certificateID string) (*domain.Certificate, error) {
	if !caller.IsAuthenticated() {
		return nil, authz.ErrNotAuthenticated
	}
	cert, err := s.Store.FindCertificate(ctx, strings.TrimSpace(certificateID))
	if err != nil {
		return nil, err
	}
	if err := s.Gate.Authorize(caller, authz.ActionViewCertificate, authz.Owned(cert.RequesterID)); err != nil {
		return nil, err
	}
	return cert, nil
}

// Revoke withdraws a certificate; it verifies as invalid from then on.
func (s *Service) Revoke(ctx context.Context, caller authz.Caller, certificateID, reason string) (*domain.Certificate, error) {
	if err := s.Gate.Authorize(caller, authz.ActionRevoke, authz.Resource{}); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required", map[string]string{"reason": "reason is required"})
	}
	if len(reason) > 500 {
		return nil, apperr.Validation("reason is too long", map[string]string{"reason": "reason must be at most 500 characters"})
	}
	cert, err := s.Store.RevokeCertificate(ctx, strings.TrimSpace(certificateID), caller.UserID, reason)
	if err != nil {
		return nil, err
	}
	s.Metrics.IncrementRevoked()
	log.Info().
		Str("certificate_id", cert.CertificateID).
		Str("request_id", cert.RequestID.String()).
		Str("actor_id", caller.UserID.String()).
		Msg("certificate revoked")
	events.Emit(ctx, s.Events, events.Event{
		Type:          domain.EventRevoked,
		RequestID:     cert.RequestID.String(),
		CertificateID: cert.CertificateID,
		Status:        constants.StatusIssued,
		ActorID:       caller.UserID.String(),
		OccurredAt:    time.Now().UTC(),
	})
	return cert, nil
}

// Artifact renders the downloadable document. Revoked and unknown
// identifiers are indistinguishable: both are NotFound.
func (s *Service) Artifact(ctx context.Context, certificateID string) (*Document, error) {
	certificateID = strings.TrimSpace(certificateID)
	if certificateID == "" || len(certificateID) > 64 {
		return nil, store.ErrCertificateNotFound
	}
	cert, err := s.Store.FindCertificate(ctx, certificateID)
	if err != nil {
		return nil, err
	}
	if cert.Revoked {
		return nil, store.ErrCertificateNotFound
	}
	return s.Renderer.Render(cert)
}
