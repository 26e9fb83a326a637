package issuance

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"certify-backend/internal/application/events"
	"certify-backend/internal/application/identifier"
	"certify-backend/internal/domain"
	"certify-backend/internal/infrastructure/database"
	"certify-backend/internal/infrastructure/store"
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/constants"
	"certify-backend/internal/platform/metrics"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 1, 13, 9, 30, 0, 0, time.UTC)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	return store.New(db)
}

func approvedRequest(t *testing.T, s *store.Store, decidedAt time.Time) *domain.CertificateRequest {
	t.Helper()
	ctx := context.Background()
	req := &domain.CertificateRequest{
		RequesterID:   uuid.New(),
		RequesterName: "Rahul Mehta",
		Department:    "ECE",
		Category:      constants.CategoryInternship,
		Title:         "Summer Internship 2023",
		SubmittedAt:   decidedAt.Add(-time.Hour),
	}
	require.NoError(t, s.CreateRequest(ctx, req))
	reviewer := uuid.New()
	out, err := s.Transition(ctx, store.Transition{
		RequestID: req.RequestID, From: constants.StatusPending, To: constants.StatusApproved,
		Version: req.Version, ReviewerID: &reviewer, DecidedAt: &decidedAt,
		EventType: domain.EventApproved, ActorID: &reviewer,
	})
	require.NoError(t, err)
	return out
}

func newService(t *testing.T, s *store.Store, opts ...identifier.Option) (*Service, *events.Memory) {
	t.Helper()
	opts = append([]identifier.Option{identifier.WithClock(func() time.Time { return fixedNow })}, opts...)
	gen, err := identifier.New("AMITY", opts...)
	require.NoError(t, err)
	svc := NewService(s, gen, "")
	svc.Now = func() time.Time { return fixedNow }
	pub := &events.Memory{}
	svc.Events = pub
	return svc, pub
}

func TestIssue_MintsCertificateAndMarksIssued(t *testing.T) {
	s := setupStore(t)
	svc, pub := newService(t, s)
	req := approvedRequest(t, s, fixedNow)

	cert, err := svc.Issue(context.Background(), req, req.ReviewerID)
	require.NoError(t, err)
	assert.True(t, identifier.Valid(cert.CertificateID))
	assert.Equal(t, "2024-01-13", cert.IssuedOn)
	assert.Equal(t, DefaultIssuerName, cert.Issuer)
	assert.Equal(t, "Rahul Mehta", cert.StudentName)
	assert.Equal(t, "Summer Internship 2023", cert.Title)
	assert.Equal(t, constants.CategoryInternship, cert.Category)

	got, err := s.FindRequest(context.Background(), req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusIssued, got.Status)
	assert.Equal(t, []string{domain.EventIssued}, pub.Types())
}

func TestIssue_IdempotentPerRequest(t *testing.T) {
	s := setupStore(t)
	svc, pub := newService(t, s)
	req := approvedRequest(t, s, fixedNow)

	first, err := svc.Issue(context.Background(), req, nil)
	require.NoError(t, err)
	second, err := svc.Issue(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, first.CertificateID, second.CertificateID)
	assert.Len(t, pub.Events(), 1)
}

func TestIssue_RejectsNonApproved(t *testing.T) {
	s := setupStore(t)
	svc, _ := newService(t, s)
	req := &domain.CertificateRequest{
		RequesterID: uuid.New(), RequesterName: "A", Category: constants.CategoryCourse,
		Title: "T", SubmittedAt: fixedNow,
	}
	require.NoError(t, s.CreateRequest(context.Background(), req))

	_, err := svc.Issue(context.Background(), req, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

// zeroThenRandom yields n zero bytes and then real entropy.
type zeroThenRandom struct{ n int }

func (z *zeroThenRandom) Read(p []byte) (int, error) {
	if z.n <= 0 {
		return rand.Read(p)
	}
	k := len(p)
	if k > z.n {
		k = z.n
	}
	for i := 0; i < k; i++ {
		p[i] = 0
	}
	z.n -= k
	if k < len(p) {
		m, err := rand.Read(p[k:])
		return k + m, err
	}
	return k, nil
}

func TestIssue_RegeneratesOnIDCollision(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	zeros, _ := newService(t, s, identifier.WithRandom(bytes.NewReader(make([]byte, 10))))
	first := approvedRequest(t, s, fixedNow)
	taken, err := zeros.Issue(ctx, first, nil)
	require.NoError(t, err)
	assert.Equal(t, "AMITY-1705138200000-0000000000", taken.CertificateID)

	svc, _ := newService(t, s, identifier.WithRandom(&zeroThenRandom{n: 10}))
	second := approvedRequest(t, s, fixedNow)
	cert, err := svc.Issue(ctx, second, nil)
	require.NoError(t, err)
	assert.NotEqual(t, taken.CertificateID, cert.CertificateID)
}

func TestIssue_GivesUpAfterRepeatedCollisions(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	zeros, _ := newService(t, s, identifier.WithRandom(bytes.NewReader(make([]byte, 10))))
	_, err := zeros.Issue(ctx, approvedRequest(t, s, fixedNow), nil)
	require.NoError(t, err)

	always, _ := newService(t, s, identifier.WithRandom(&zeroThenRandom{n: 1 << 20}))
	req := approvedRequest(t, s, fixedNow)
	_, err = always.Issue(ctx, req, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	got, err := s.FindRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusApproved, got.Status)
}

type failingIssuer struct{ calls int }

func (f *failingIssuer) Issue(context.Context, *domain.CertificateRequest, *uuid.UUID) (*domain.Certificate, error) {
	f.calls++
	return nil, apperr.Persistence("Failed to issue certificate", errors.New("disk full"))
}

func TestSweeper_RetriesStuckApprovals(t *testing.T) {
	s := setupStore(t)
	svc, _ := newService(t, s)
	stale := approvedRequest(t, s, fixedNow.Add(-time.Hour))
	fresh := approvedRequest(t, s, fixedNow)

	sw := NewSweeper(svc, s)
	sw.MinAge = 10 * time.Minute
	sw.Now = func() time.Time { return fixedNow }
	sw.Metrics = metrics.New()

	n, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(sw.Metrics.IssuanceRetries))

	got, err := s.FindRequest(context.Background(), stale.RequestID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusIssued, got.Status)

	got, err = s.FindRequest(context.Background(), fresh.RequestID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusApproved, got.Status)

	n, err = sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweeper_ContinuesPastFailures(t *testing.T) {
	s := setupStore(t)
	approvedRequest(t, s, fixedNow.Add(-time.Hour))
	approvedRequest(t, s, fixedNow.Add(-time.Hour))

	f := &failingIssuer{}
	sw := NewSweeper(f, s)
	sw.Now = func() time.Time { return fixedNow }

	n, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, f.calls)
}

func TestSweeper_StartRejectsBadSpec(t *testing.T) {
	sw := NewSweeper(&failingIssuer{}, setupStore(t))
	assert.Error(t, sw.Start("not a schedule"))
	sw.Stop()
}

func TestSweeper_SkipsApprovalClaimedElsewhere(t *testing.T) {
	s := setupStore(t)
	svc, _ := newService(t, s)
	stale := approvedRequest(t, s, fixedNow.Add(-time.Hour))

	// A reviewer claims the request after the sweeper listed it.
	lister := &claimingLister{Store: s, before: func() {
		_, err := s.ClaimIssuance(context.Background(), stale.RequestID, stale.Version, nil)
		require.NoError(t, err)
	}}
	sw := NewSweeper(svc, lister)
	sw.Now = func() time.Time { return fixedNow }

	n, err := sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	var certs int64
	require.NoError(t, s.DB.Model(&domain.Certificate{}).Where("request_id = ?", stale.RequestID).Count(&certs).Error)
	assert.Equal(t, int64(0), certs)
}

type claimingLister struct {
	*store.Store
	before func()
}

func (l *claimingLister) ListStuckApproved(ctx context.Context, cutoff time.Time, limit int) ([]domain.CertificateRequest, error) {
	out, err := l.Store.ListStuckApproved(ctx, cutoff, limit)
	l.before()
	return out, err
}
