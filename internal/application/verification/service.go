// Package verification answers public "is this certificate genuine" lookups.
// Malformed, unknown and revoked identifiers all yield the same invalid
// result so callers cannot tell them apart.
package verification

import (
	"context"
	"errors"
	"strings"
	"time"

	"certify-backend/internal/application/identifier"
	"certify-backend/internal/domain"
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/platform/metrics"
)

// maxIdentifierLen caps input before any work is done.
const maxIdentifierLen = 64

type Repository interface {
	FindCertificate(ctx context.Context, certificateID string) (*domain.Certificate, error)
}

// PublicCertificate is the redacted view returned to anonymous callers.
type PublicCertificate struct {
	CertificateID string `json:"certificate_id"`
	StudentName   string `json:"student_name"`
	Title         string `json:"title"`
	Category      string `json:"category"`
	DateIssued    string `json:"date_issued"`
	Department    string `json:"department"`
	Issuer        string `json:"issuer"`
}

type Result struct {
	Valid       bool               `json:"valid"`
	Certificate *PublicCertificate `json:"certificate,omitempty"`
}

var invalid = Result{Valid: false}

type Service struct {
	Store   Repository
	Metrics *metrics.Metrics
}

func NewService(repo Repository) *Service {
	return &Service{Store: repo}
}

// Verify looks id up among issued, non-revoked certificates. The only error
// it returns is a persistence failure.
func (s *Service) Verify(ctx context.Context, id string) (Result, error) {
	start := time.Now()
	defer s.Metrics.ObserveVerify(start)

	id = strings.TrimSpace(id)
	if len(id) > maxIdentifierLen || !identifier.Valid(id) {
		s.Metrics.IncrementVerification("invalid")
		return invalid, nil
	}
	cert, err := s.Store.FindCertificate(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.Metrics.IncrementVerification("invalid")
			return invalid, nil
		}
		s.Metrics.IncrementVerification("error")
		return invalid, err
	}
	if cert.Revoked {
		s.Metrics.IncrementVerification("invalid")
		return invalid, nil
	}
	s.Metrics.IncrementVerification("valid")
	return Result{Valid: true, Certificate: Public(cert)}, nil
}

// Public redacts a certificate to the fields safe for anonymous callers.
func Public(c *domain.Certificate) *PublicCertificate {
	return &PublicCertificate{
		CertificateID: c.CertificateID,
		StudentName:   c.StudentName,
		Title:         c.Title,
		Category:      c.Category,
		DateIssued:    c.IssuedOn,
		Department:    c.Department,
		Issuer:        c.Issuer,
	}
}
