package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies which specialized form a ledger entry mirrors.
type Kind string

const (
	KindHardware       Kind = "hardware"
	KindSoftware       Kind = "software"
	KindSystemPlan     Kind = "system_plan"
	KindSecurityReview Kind = "security_review"
)

// Prefix returns the request-number prefix for the kind.
func (k Kind) Prefix() string {
	switch k {
	case KindHardware:
		return "HW"
	case KindSoftware:
		return "SW"
	case KindSystemPlan:
		return "SP"
	case KindSecurityReview:
		return "SER"
	default:
		return ""
	}
}

func (k Kind) Valid() bool {
	return k.Prefix() != ""
}

type Status string

const (
	StatusDraft       Status = "draft"
	StatusSubmitted   Status = "submitted"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusCompleted   Status = "completed"
)

// successors is the linear lifecycle with the rejection branch. Approval is
// legal straight from submitted: an administrator may decide without first
// opening the entry for review.
var successors = map[Status][]Status{
	StatusDraft:       {StatusSubmitted},
	StatusSubmitted:   {StatusUnderReview, StatusApproved, StatusRejected},
	StatusUnderReview: {StatusApproved, StatusRejected},
	StatusApproved:    {StatusCompleted},
	StatusRejected:    {},
	StatusCompleted:   {},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, candidate := range successors[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return len(successors[s]) == 0
}

// Pending reports whether the entry sits in the approval queue. The form side
// collapses both pending states into a single under-review flag.
func (s Status) Pending() bool {
	return s == StatusSubmitted || s == StatusUnderReview
}

// Entry is the kind-agnostic change-request record. It is linked to its
// specialized form only by RequestNumber; the workflow service bridges the two.
type Entry struct {
	ID            uuid.UUID  `json:"id"`
	RequestNumber string     `json:"request_number"`
	Kind          Kind       `json:"kind"`
	ShipID        *uuid.UUID `json:"ship_id,omitempty"`
	RequestedByID uuid.UUID  `json:"requested_by_id"`
	RequestedAt   time.Time  `json:"requested_at"`
	Purpose       string     `json:"purpose"`
	Description   string     `json:"description"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
