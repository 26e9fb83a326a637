package issuance

import (
	"context"
	"time"

	"certify-backend/internal/application/events"
	"certify-backend/internal/application/identifier"
	"certify-backend/internal/domain"
	"certify-backend/internal/infrastructure/store"
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/constants"
	"certify-backend/internal/platform/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultIssuerName is printed on certificates when none is configured.
const DefaultIssuerName = "Amity University"

// maxIDAttempts bounds regeneration after a certificate id collision.
const maxIDAttempts = 3

// Repository is the subset of store.Store the issuer needs.
type Repository interface {
	IssueCertificate(ctx context.Context, cert *domain.Certificate, expectedVersion int, actorID *uuid.UUID) (*domain.Certificate, bool, error)
}

type Service struct {
	Store      Repository
	IDs        *identifier.Generator
	IssuerName string
	Now        func() time.Time
	Metrics    *metrics.Metrics
	Events     events.Publisher
}

func NewService(repo Repository, ids *identifier.Generator, issuerName string) *Service {
	if issuerName == "" {
		issuerName = DefaultIssuerName
	}
	return &Service{Store: repo, IDs: ids, IssuerName: issuerName, Now: time.Now, Events: events.Nop{}}
}

// Issue mints the certificate for an approved request and moves the request
// to issued. req.Version must be the version the caller observed. Calling
// Issue again for the same request returns the certificate already minted.
func (s *Service) Issue(ctx context.Context, req *domain.CertificateRequest, actorID *uuid.UUID) (*domain.Certificate, error) {
	if req == nil {
		return nil, apperr.Validation("Request is required", nil)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	issuedOn := now().UTC().Format("2006-01-02")

	var lastErr error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		cert := &domain.Certificate{
			CertificateID: s.IDs.Generate(),
			RequestID:     req.RequestID,
			RequesterID:   req.RequesterID,
			StudentName:   req.RequesterName,
			Title:         req.Title,
			Category:      req.Category,
			Department:    req.Department,
			IssuedOn:      issuedOn,
			Issuer:        s.IssuerName,
		}
		out, created, err := s.Store.IssueCertificate(ctx, cert, req.Version, actorID)
		if store.IsCertificateIDTaken(err) {
			log.Warn().Str("certificate_id", cert.CertificateID).Msg("certificate id collision, regenerating")
			lastErr = err
			continue
		}
		if apperr.KindOf(err) == apperr.KindConflict {
			log.Warn().Err(err).Str("request_id", req.RequestID.String()).Msg("issuance claimed by a concurrent caller")
			return nil, err
		}
		if err != nil {
			s.Metrics.IncrementIssuanceFailure()
			log.Error().Err(err).Str("request_id", req.RequestID.String()).Msg("certificate issuance failed")
			return nil, err
		}
		if created {
			s.Metrics.IncrementIssued()
			log.Info().Str("request_id", req.RequestID.String()).Str("certificate_id", out.CertificateID).Msg("certificate issued")
			ev := events.Event{
				Type:          domain.EventIssued,
				RequestID:     req.RequestID.String(),
				CertificateID: out.CertificateID,
				Status:        constants.StatusIssued,
			}
			if actorID != nil {
				ev.ActorID = actorID.String()
			}
			events.Emit(ctx, s.Events, ev)
		}
		return out, nil
	}
	s.Metrics.IncrementIssuanceFailure()
	return nil, lastErr
}
