package store

import (
	"context"
	"testing"
	"time"

	"certify-backend/internal/domain"
	"certify-backend/internal/infrastructure/database"
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/constants"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	return New(db)
}

func seedRequest(t *testing.T, s *Store) *domain.CertificateRequest {
	t.Helper()
	req := &domain.CertificateRequest{
		RequesterID:   uuid.New(),
		RequesterName: "Asha Verma",
		Department:    "CSE",
		Category:      constants.CategoryWorkshop,
		Title:         "Go Concurrency Workshop",
		SubmittedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.CreateRequest(context.Background(), req))
	return req
}

func approve(t *testing.T, s *Store, req *domain.CertificateRequest) *domain.CertificateRequest {
	t.Helper()
	reviewer := uuid.New()
	now := time.Now().UTC()
	out, err := s.Transition(context.Background(), Transition{
		RequestID: req.RequestID, From: constants.StatusPending, To: constants.StatusApproved,
		Version: req.Version, ReviewerID: &reviewer, DecidedAt: &now,
		EventType: domain.EventApproved, ActorID: &reviewer,
	})
	require.NoError(t, err)
	return out
}

func certFor(req *domain.CertificateRequest, id string) *domain.Certificate {
	return &domain.Certificate{
		CertificateID: id,
		RequestID:     req.RequestID,
		RequesterID:   req.RequesterID,
		StudentName:   req.RequesterName,
		Title:         req.Title,
		Category:      req.Category,
		IssuedOn:      "2024-01-13",
		Issuer:        "Amity University",
	}
}

func TestCreateRequest_WritesSubmittedEvent(t *testing.T) {
	s := setupStore(t)
	req := seedRequest(t, s)

	got, err := s.FindRequest(context.Background(), req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusPending, got.Status)
	assert.Equal(t, 1, got.Version)

	events, err := s.ListEvents(context.Background(), req.RequestID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSubmitted, events[0].EventType)
}

func TestFindRequest_NotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.FindRequest(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTransition_CASStaleVersionIsConflict(t *testing.T) {
	s := setupStore(t)
	req := seedRequest(t, s)

	_, err := s.Transition(context.Background(), Transition{
		RequestID: req.RequestID, From: constants.StatusPending, To: constants.StatusApproved,
		Version: req.Version + 5, EventType: domain.EventApproved,
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestTransition_WrongStatusIsInvalidState(t *testing.T) {
	s := setupStore(t)
	req := seedRequest(t, s)
	approved := approve(t, s, req)
	assert.Equal(t, 2, approved.Version)

	_, err := s.Transition(context.Background(), Transition{
		RequestID: req.RequestID, From: constants.StatusPending, To: constants.StatusRejected,
		Version: approved.Version, EventType: domain.EventRejected,
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	events, err := s.ListEvents(context.Background(), req.RequestID)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestIssueCertificate_AtomicAndIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	req := approve(t, s, seedRequest(t, s))

	cert, created, err := s.IssueCertificate(ctx, certFor(req, "AMITY-1-AAAAAAAAAA"), req.Version, nil)
	require.NoError(t, err)
	assert.True(t, created)

	got, err := s.FindRequest(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusIssued, got.Status)

	again, created, err := s.IssueCertificate(ctx, certFor(req, "AMITY-1-BBBBBBBBBB"), req.Version, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cert.CertificateID, again.CertificateID)

	var n int64
	require.NoError(t, s.DB.Model(&domain.Certificate{}).Where("request_id = ?", req.RequestID).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestIssueCertificate_RequiresApproved(t *testing.T) {
	s := setupStore(t)
	req := seedRequest(t, s)

	_, _, err := s.IssueCertificate(context.Background(), certFor(req, "AMITY-1-AAAAAAAAAA"), req.Version, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = s.FindCertificateByRequest(context.Background(), req.RequestID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestIssueCertificate_IDCollision(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	first := approve(t, s, seedRequest(t, s))
	second := approve(t, s, seedRequest(t, s))

	_, _, err := s.IssueCertificate(ctx, certFor(first, "AMITY-1-AAAAAAAAAA"), first.Version, nil)
	require.NoError(t, err)

	_, _, err = s.IssueCertificate(ctx, certFor(second, "AMITY-1-AAAAAAAAAA"), second.Version, nil)
	assert.True(t, IsCertificateIDTaken(err))

	got, err := s.FindRequest(ctx, second.RequestID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusApproved, got.Status)
}

func TestIssueCertificate_StaleVersionIsConflict(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	req := approve(t, s, seedRequest(t, s))

	// Another caller claims the approved request first.
	claimed, err := s.ClaimIssuance(ctx, req.RequestID, req.Version, nil)
	require.NoError(t, err)
	assert.Equal(t, req.Version+1, claimed.Version)

	_, _, err = s.IssueCertificate(ctx, certFor(req, "AMITY-1-AAAAAAAAAA"), req.Version, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, created, err := s.IssueCertificate(ctx, certFor(req, "AMITY-1-AAAAAAAAAA"), claimed.Version, nil)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestIssueCertificate_IssuedUnderAnotherClaimIsConflict(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	req := approve(t, s, seedRequest(t, s))

	claimed, err := s.ClaimIssuance(ctx, req.RequestID, req.Version, nil)
	require.NoError(t, err)
	_, created, err := s.IssueCertificate(ctx, certFor(req, "AMITY-1-AAAAAAAAAA"), claimed.Version, nil)
	require.NoError(t, err)
	assert.True(t, created)

	// The approver still holding the pre-claim version lost the race.
	_, _, err = s.IssueCertificate(ctx, certFor(req, "AMITY-1-BBBBBBBBBB"), req.Version, nil)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// The claimant replaying its own issuance gets the same certificate.
	again, created, err := s.IssueCertificate(ctx, certFor(req, "AMITY-1-CCCCCCCCCC"), claimed.Version, nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "AMITY-1-AAAAAAAAAA", again.CertificateID)

	events, err := s.ListEvents(ctx, req.RequestID)
	require.NoError(t, err)
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.EventType
	}
	assert.Equal(t, []string{domain.EventSubmitted, domain.EventApproved, domain.EventIssuanceRetried, domain.EventIssued}, types)
}

func TestRevokeCertificate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	req := approve(t, s, seedRequest(t, s))
	_, _, err := s.IssueCertificate(ctx, certFor(req, "AMITY-1-AAAAAAAAAA"), req.Version, nil)
	require.NoError(t, err)

	admin := uuid.New()
	cert, err := s.RevokeCertificate(ctx, "AMITY-1-AAAAAAAAAA", admin, "issued in error")
	require.NoError(t, err)
	assert.True(t, cert.Revoked)
	assert.Equal(t, "issued in error", cert.RevocationReason)

	_, err = s.RevokeCertificate(ctx, "AMITY-1-AAAAAAAAAA", admin, "again")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = s.RevokeCertificate(ctx, "AMITY-1-ZZZZZZZZZZ", admin, "x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	list, total, err := s.ListCertificates(ctx, CertificateFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, int64(0), total)
}

func TestListRequests_Filters(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	a := seedRequest(t, s)
	seedRequest(t, s)
	approve(t, s, a)

	all, total, err := s.ListRequests(ctx, RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, int64(2), total)

	approved, _, err := s.ListRequests(ctx, RequestFilter{Status: constants.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, a.RequestID, approved[0].RequestID)

	own, _, err := s.ListRequests(ctx, RequestFilter{RequesterID: &a.RequesterID})
	require.NoError(t, err)
	assert.Len(t, own, 1)

	paged, total, err := s.ListRequests(ctx, RequestFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, paged, 1)
	assert.Equal(t, int64(2), total)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[constants.StatusPending])
	assert.Equal(t, int64(1), counts[constants.StatusApproved])
}

func TestListStuckApproved(t *testing.T) {
	s := setupStore(t)
	req := approve(t, s, seedRequest(t, s))

	stuck, err := s.ListStuckApproved(context.Background(), time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, req.RequestID, stuck[0].RequestID)

	none, err := s.ListStuckApproved(context.Background(), time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
