package requests

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
	"certify-backend/internal/pkg/validation"
	"certify-backend/internal/platform/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Repository is the persistence the lifecycle engine depends on.
type Repository interface {
	CreateRequest(ctx context.Context, req *domain.CertificateRequest) error
	FindRequest(ctx context.Context, id uuid.UUID) (*domain.CertificateRequest, error)
	ListRequests(ctx context.Context, f store.RequestFilter) ([]domain.CertificateRequest, int64, error)
	Transition(ctx context.Context, t store.Transition) (*domain.CertificateRequest, error)
	ClaimIssuance(ctx context.Context, requestID uuid.UUID, version int, actorID *uuid.UUID) (*domain.CertificateRequest, error)
	ListEvents(ctx context.Context, requestID uuid.UUID) ([]domain.RequestEvent, error)
	FindCertificateByRequest(ctx context.Context, requestID uuid.UUID) (*domain.Certificate, error)
	FindUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// Issuer mints the certificate for an approved request.
type Issuer interface {
	Issue(ctx context.Context, req *domain.CertificateRequest, actorID *uuid.UUID) (*domain.Certificate, error)
}

type Service struct {
	Store   Repository
	Issuer  Issuer
	Gate    authz.Gate
	Events  events.Publisher
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func NewService(repo Repository, issuer Issuer) *Service {
	return &Service{Store: repo, Issuer: issuer, Events: events.Nop{}, Now: time.Now}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type SubmitInput struct {
	Category    string  `json:"category" validate:"required,oneof=course workshop internship event"`
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description" validate:"max=2000"`
	ProofRef    *string `json:"proof_ref" validate:"omitempty,max=512"`
}

// Submit records a new pending request for the calling student.
func (s *Service) Submit(ctx context.Context, caller authz.Caller, in SubmitInput) (*domain.CertificateRequest, error) {
	if err := s.Gate.Authorize(caller, authz.ActionSubmit, authz.Owned(caller.UserID)); err != nil {
		return nil, err
	}
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.ProofRef != nil {
		ref := strings.TrimSpace(*in.ProofRef)
		if ref == "" {
			in.ProofRef = nil
		} else {
			in.ProofRef = &ref
		}
	}
	if details := validation.Struct(in); details != nil {
		return nil, apperr.Validation("Invalid certificate request", details)
	}

	user, err := s.Store.FindUser(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	req := &domain.CertificateRequest{
		RequesterID:   caller.UserID,
		RequesterName: user.Fullname,
		Department:    user.Department,
		Category:      in.Category,
		Title:         in.Title,
		Description:   in.Description,
		ProofRef:      in.ProofRef,
		SubmittedAt:   s.now(),
	}
	if err := s.Store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	s.Metrics.IncrementSubmitted()
	log.Info().Str("request_id", req.RequestID.String()).Str("actor_id", caller.UserID.String()).Str("category", req.Category).Msg("certificate request submitted")
	events.Emit(ctx, s.Events, events.Event{
		Type:      domain.EventSubmitted,
		RequestID: req.RequestID.String(),
		Status:    req.Status,
		ActorID:   caller.UserID.String(),
	})
	return req, nil
}

type DecideInput struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Comments string `json:"comments" validate:"max=1000"`
}

// Decision is the outcome of Decide. Certificate is set once the request is issued.
type Decision struct {
	Request     *domain.CertificateRequest
	Certificate *domain.Certificate
}

// Decide approves or rejects a pending request. Approval commits the request
// as approved and then issues its certificate; if issuance fails the request
// stays approved and the error is returned. Approving an approved request
// claims it and retries issuance.
func (s *Service) Decide(ctx context.Context, caller authz.Caller, requestID uuid.UUID, in DecideInput) (*Decision, error) {
	start := time.Now()
	defer s.Metrics.ObserveDecide(start)

	if err := s.Gate.Authorize(caller, authz.ActionDecide, authz.Resource{}); err != nil {
		return nil, err
	}
	in.Decision = strings.ToLower(strings.TrimSpace(in.Decision))
	in.Comments = strings.TrimSpace(in.Comments)
	if details := validation.Struct(in); details != nil {
		return nil, apperr.Validation("Invalid decision", details)
	}

	req, err := s.Store.FindRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case constants.StatusPending:
		if in.Decision == constants.DecisionReject {
			return s.reject(ctx, caller, req, in.Comments)
		}
		return s.approve(ctx, caller, req, in.Comments)
	case constants.StatusApproved:
		if in.Decision == constants.DecisionReject {
			return nil, apperr.InvalidState("Request is already approved")
		}
		return s.resume(ctx, caller, req)
	default:
		return nil, apperr.InvalidState("Request is already " + req.Status)
	}
}

func (s *Service) reject(ctx context.Context, caller authz.Caller, req *domain.CertificateRequest, comments string) (*Decision, error) {
	decidedAt := s.now()
	out, err := s.Store.Transition(ctx, store.Transition{
		RequestID:  req.RequestID,
		From:       constants.StatusPending,
		To:         constants.StatusRejected,
		Version:    req.Version,
		ReviewerID: &caller.UserID,
		Comments:   comments,
		DecidedAt:  &decidedAt,
		EventType:  domain.EventRejected,
		ActorID:    &caller.UserID,
		Data:       map[string]interface{}{"comments": comments},
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.IncrementDecision(constants.DecisionReject)
	log.Info().Str("request_id", req.RequestID.String()).Str("actor_id", caller.UserID.String()).Msg("certificate request rejected")
	events.Emit(ctx, s.Events, events.Event{
		Type:      domain.EventRejected,
		RequestID: req.RequestID.String(),
		Status:    out.Status,
		ActorID:   caller.UserID.String(),
	})
	return &Decision{Request: out}, nil
}

func (s *Service) approve(ctx context.Context, caller authz.Caller, req *domain.CertificateRequest, comments string) (*Decision, error) {
	decidedAt := s.now()
	approved, err := s.Store.Transition(ctx, store.Transition{
		RequestID:  req.RequestID,
		From:       constants.StatusPending,
		To:         constants.StatusApproved,
		Version:    req.Version,
		ReviewerID: &caller.UserID,
		Comments:   comments,
		DecidedAt:  &decidedAt,
		EventType:  domain.EventApproved,
		ActorID:    &caller.UserID,
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.IncrementDecision(constants.DecisionApprove)
	log.Info().Str("request_id", req.RequestID.String()).Str("actor_id", caller.UserID.String()).Msg("certificate request approved")
	events.Emit(ctx, s.Events, events.Event{
		Type:      domain.EventApproved,
		RequestID: req.RequestID.String(),
		Status:    approved.Status,
		ActorID:   caller.UserID.String(),
	})
	return s.issue(ctx, caller, approved)
}

// resume claims an approved request by bumping its version, so a concurrent
// issuer holding the older version loses, then issues.
func (s *Service) resume(ctx context.Context, caller authz.Caller, req *domain.CertificateRequest) (*Decision, error) {
	claimed, err := s.Store.ClaimIssuance(ctx, req.RequestID, req.Version, &caller.UserID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("request_id", req.RequestID.String()).Str("actor_id", caller.UserID.String()).Msg("retrying certificate issuance")
	return s.issue(ctx, caller, claimed)
}

func (s *Service) issue(ctx context.Context, caller authz.Caller, approved *domain.CertificateRequest) (*Decision, error) {
	cert, err := s.Issuer.Issue(ctx, approved, &caller.UserID)
	if err != nil {
		log.Warn().Err(err).Str("request_id", approved.RequestID.String()).Msg("request left approved after issuance failure")
		return nil, err
	}
	issued, err := s.Store.FindRequest(ctx, approved.RequestID)
	if err != nil {
		return nil, err
	}
	return &Decision{Request: issued, Certificate: cert}, nil
}

// Get returns a request visible to caller.
func (s *Service) Get(ctx context.Context, caller authz.Caller, requestID uuid.UUID) (*domain.CertificateRequest, error) {
	req, err := s.Store.FindRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.Gate.Authorize(caller, authz.ActionViewRequest, authz.Owned(req.RequesterID)); err != nil {
		return nil, err
	}
	return req, nil
}

// ListFilter narrows List. Page is 1-based.
type ListFilter struct {
	Status   string
	Category string
	Page     int
	Limit    int
}

type Page struct {
	Items []domain.CertificateRequest
	Total int64
	Page  int
	Limit int
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// List returns requests newest first. Students only ever see their own.
func (s *Service) List(ctx context.Context, caller authz.Caller, f ListFilter) (*Page, error) {
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	f.Category = strings.ToLower(strings.TrimSpace(f.Category))
	details := map[string]string{}
	switch f.Status {
	case "", constants.StatusPending, constants.StatusApproved, constants.StatusRejected, constants.StatusIssued:
	default:
		details["status"] = "status must be one of: pending, approved, rejected, issued"
	}
	if f.Category != "" && !constants.IsValidCategory(f.Category) {
		details["category"] = "category must be one of: " + strings.Join(constants.ValidCategories, ", ")
	}
	if len(details) > 0 {
		return nil, apperr.Validation("Invalid filter", details)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}

	filter := store.RequestFilter{Status: f.Status, Category: f.Category, Limit: f.Limit, Offset: (f.Page - 1) * f.Limit}
	if caller.Role == constants.Student {
		if !caller.IsAuthenticated() {
			return nil, authz.ErrNotAuthenticated
		}
		id := caller.UserID
		filter.RequesterID = &id
	} else if err := s.Gate.Authorize(caller, authz.ActionListAllRequests, authz.Resource{}); err != nil {
		return nil, err
	}

	items, total, err := s.Store.ListRequests(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// History returns the audit trail of a request, oldest first.
func (s *Service) History(ctx context.Context, caller authz.Caller, requestID uuid.UUID) ([]domain.RequestEvent, error) {
	if _, err := s.Get(ctx, caller, requestID); err != nil {
		return nil, err
	}
	return s.Store.ListEvents(ctx, requestID)
}

// CertificateFor returns the certificate minted for a request visible to caller.
func (s *Service) CertificateFor(ctx context.Context, caller authz.Caller, requestID uuid.UUID) (*domain.Certificate, error) {
	req, err := s.Get(ctx, caller, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != constants.StatusIssued {
		return nil, store.ErrCertificateNotFound
	}
	return s.Store.FindCertificateByRequest(ctx, requestID)
}
