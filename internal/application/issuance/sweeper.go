package issuance

import (
	"context"
	"time"

	"certify-backend/internal/domain"
	"certify-backend/internal/platform/metrics"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Issuer is what the sweeper retries.
type Issuer interface {
	Issue(ctx context.Context, req *domain.CertificateRequest, actorID *uuid.UUID) (*domain.Certificate, error)
}

// StuckLister finds approvals whose issuance never completed and claims them
// before a retry.
type StuckLister interface {
	ListStuckApproved(ctx context.Context, cutoff time.Time, limit int) ([]domain.CertificateRequest, error)
	ClaimIssuance(ctx context.Context, requestID uuid.UUID, version int, actorID *uuid.UUID) (*domain.CertificateRequest, error)
}

// Sweeper periodically retries issuance for requests left in approved, for
// example after the issuer failed mid-decision or the process died between
// the approval and the certificate write.
type Sweeper struct {
	Issuer  Issuer
	Store   StuckLister
	// MinAge skips approvals younger than this so in-flight decisions are not raced.
	MinAge  time.Duration
	Batch   int
	Now     func() time.Time
	Metrics *metrics.Metrics

	cron *cron.Cron
}

func NewSweeper(issuer Issuer, lister StuckLister) *Sweeper {
	return &Sweeper{Issuer: issuer, Store: lister, MinAge: time.Minute, Batch: 50, Now: time.Now}
}

// RunOnce retries one batch and returns how many requests were issued.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	stuck, err := s.Store.ListStuckApproved(ctx, now().UTC().Add(-s.MinAge), s.Batch)
	if err != nil {
		return 0, err
	}
	issued := 0
	for i := range stuck {
		req := &stuck[i]
		claimed, err := s.Store.ClaimIssuance(ctx, req.RequestID, req.Version, nil)
		if err != nil {
			log.Debug().Err(err).Str("request_id", req.RequestID.String()).Msg("stuck approval claimed elsewhere")
			continue
		}
		s.Metrics.IncrementIssuanceRetry()
		if _, err := s.Issuer.Issue(ctx, claimed, claimed.ReviewerID); err != nil {
			log.Warn().Err(err).Str("request_id", req.RequestID.String()).Msg("issuance retry failed")
			continue
		}
		issued++
	}
	if len(stuck) > 0 {
		log.Info().Int("found", len(stuck)).Int("issued", issued).Msg("issuance sweep finished")
	}
	return issued, nil
}

// Start schedules RunOnce on spec (robfig/cron syntax, e.g. "@every 5m").
func (s *Sweeper) Start(spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("issuance sweep failed")
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	log.Info().Str("schedule", spec).Msg("issuance sweeper started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
