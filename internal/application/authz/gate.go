// Package authz decides whether a resolved caller may perform an action.
// It never parses credentials: callers arrive as already-verified claims.
package authz

import (
	"certify-backend/internal/pkg/apperr"
	"certify-backend/internal/pkg/constants"

	"github.com/google/uuid"
)

// Caller is the verified identity handed over by the boundary layer.
type Caller struct {
	UserID uuid.UUID
	Role   string
}

// Anonymous is the zero caller used on public paths.
var Anonymous = Caller{}

func (c Caller) IsAuthenticated() bool {
	return c.UserID != uuid.Nil && constants.IsValidRole(c.Role)
}

// Action names what the caller wants to do; values match constants permissions.
type Action string

const (
	ActionSubmit          Action = constants.SubmitRequest
	ActionDecide          Action = constants.DecideRequest
	ActionViewRequest     Action = constants.ViewRequest
	ActionListAllRequests Action = constants.ListAllRequests
	ActionViewCertificate Action = constants.ViewCertificate
	ActionRevoke          Action = constants.RevokeCertificate
	ActionListStudents    Action = constants.ListStudents
	ActionCreateStudent   Action = constants.CreateStudent
	ActionUploadProof     Action = constants.UploadProof
	ActionVerify          Action = "verify_certificate"
)

// Resource carries the ownership facts an action is checked against.
// OwnerID is uuid.Nil when the action has no owned resource.
type Resource struct {
	OwnerID uuid.UUID
}

// Owned returns a Resource owned by id.
func Owned(id uuid.UUID) Resource { return Resource{OwnerID: id} }

var (
	ErrNotAuthenticated = apperr.Forbidden("Authentication required")
	ErrRoleNotAllowed   = apperr.Forbidden("User is Forbidden from performing this action")
	ErrNotOwner         = apperr.Forbidden("Students may only act on their own records")
)

// Gate is stateless; the zero value is ready to use.
type Gate struct{}

// Authorize returns nil when caller may perform action on resource and a
// forbidden *apperr.Error otherwise.
func (Gate) Authorize(caller Caller, action Action, resource Resource) error {
	if action == ActionVerify {
		return nil
	}
	if !caller.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if !constants.AllowedRole(string(action), caller.Role) {
		return ErrRoleNotAllowed
	}
	switch action {
	case ActionSubmit:
		// A student may only submit for themself.
		if resource.OwnerID != caller.UserID {
			return ErrNotOwner
		}
	case ActionViewRequest, ActionViewCertificate:
		if caller.Role == constants.Student && resource.OwnerID != caller.UserID {
			return ErrNotOwner
		}
	}
	return nil
}

// Allowed is Authorize as a boolean.
func (g Gate) Allowed(caller Caller, action Action, resource Resource) bool {
	return g.Authorize(caller, action, resource) == nil
}
