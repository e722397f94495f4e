package forms

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetyard/shipcm/modules/changes/domain/ledger"
)

// DetailsSchemaVersion versions the persisted details payload.
const DetailsSchemaVersion = 1

// Details carries the kind-specific before/after fields of a change form.
// Exactly one variant exists per form kind.
type Details interface {
	FormKind() ledger.Kind
}

type HardwareDetails struct {
	BeforeManufacturer string `json:"before_manufacturer"`
	AfterManufacturer  string `json:"after_manufacturer"`
	BeforeModel        string `json:"before_model"`
	AfterModel         string `json:"after_model"`
	BeforeOS           string `json:"before_os"`
	AfterOS            string `json:"after_os"`
}

func (HardwareDetails) FormKind() ledger.Kind { return ledger.KindHardware }

type SoftwareDetails struct {
	BeforeName    string `json:"before_name"`
	AfterName     string `json:"after_name"`
	BeforeVersion string `json:"before_version"`
	AfterVersion  string `json:"after_version"`
}

func (SoftwareDetails) FormKind() ledger.Kind { return ledger.KindSoftware }

type SystemPlanDetails struct {
	PlanDetails string     `json:"plan_details"`
	PlannedFor  *time.Time `json:"planned_for,omitempty"`
}

func (SystemPlanDetails) FormKind() ledger.Kind { return ledger.KindSystemPlan }

type ReviewItem struct {
	Item   string `json:"item"`
	Result string `json:"result"`
	Notes  string `json:"notes,omitempty"`
}

type SecurityReviewDetails struct {
	Items []ReviewItem `json:"items"`
}

func (SecurityReviewDetails) FormKind() ledger.Kind { return ledger.KindSecurityReview }

// Form is the specialized change-request record the user interacts with. All
// four kinds share one lifecycle shape; the kind-specific fields live in
// Details. UnderReview and Approved are the local lifecycle flags; both false
// means draft. Approved implies not UnderReview.
type Form struct {
	ID            uuid.UUID   `json:"id"`
	RequestNumber string      `json:"request_number"`
	Kind          ledger.Kind `json:"kind"`
	RequesterID   uuid.UUID   `json:"requester_id"`
	ShipID        *uuid.UUID  `json:"ship_id,omitempty"`
	Purpose       string      `json:"purpose"`
	Description   string      `json:"description"`
	Details       Details     `json:"details"`
	UnderReview   bool        `json:"under_review"`
	Approved      bool        `json:"approved"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Draft reports whether the form is still editable.
func (f *Form) Draft() bool {
	return !f.UnderReview && !f.Approved
}

// MarshalDetails encodes a details variant for the versioned JSONB column.
func MarshalDetails(d Details) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("details are required")
	}
	return json.Marshal(d)
}

// UnmarshalDetails decodes a details payload into the variant for kind.
func UnmarshalDetails(kind ledger.Kind, payload []byte) (Details, error) {
	switch kind {
	case ledger.KindHardware:
		var d HardwareDetails
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, err
		}
		return d, nil
	case ledger.KindSoftware:
		var d SoftwareDetails
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, err
		}
		return d, nil
	case ledger.KindSystemPlan:
		var d SystemPlanDetails
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, err
		}
		return d, nil
	case ledger.KindSecurityReview:
		var d SecurityReviewDetails
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown form kind: %s", kind)
	}
}
