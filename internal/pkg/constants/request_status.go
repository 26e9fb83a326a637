package constants

// Certificate request statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusIssued   = "issued"
)

// Request categories.
const (
	CategoryCourse     = "course"
	CategoryWorkshop   = "workshop"
	CategoryInternship = "internship"
	CategoryEvent      = "event"
)

var ValidCategories = []string{CategoryCourse, CategoryWorkshop, CategoryInternship, CategoryEvent}

func IsValidCategory(c string) bool {
	for _, v := range ValidCategories {
		if v == c {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no further transition is possible.
func IsTerminalStatus(s string) bool {
	return s == StatusRejected || s == StatusIssued
}

// Decisions accepted by the lifecycle engine.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)
