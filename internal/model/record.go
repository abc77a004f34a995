package model

import (
	"time"
)

// Status represents where a verification record sits in the pipeline.
type Status string

const (
	StatusPendingOSINT         Status = "pending_osint"
	StatusOSINTVerified        Status = "osint_verified"
	StatusProcessingFinancials Status = "processing_financials"
	StatusFinancialsVerified   Status = "financials_verified"
)

// statusRank defines the fixed forward order of the pipeline.
var statusRank = map[Status]int{
	StatusPendingOSINT:         0,
	StatusOSINTVerified:        1,
	StatusProcessingFinancials: 2,
	StatusFinancialsVerified:   3,
}

// Valid reports whether s is a known pipeline status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Before reports whether s precedes other in the pipeline order.
// Unknown statuses are never before anything.
func (s Status) Before(other Status) bool {
	a, okA := statusRank[s]
	b, okB := statusRank[other]
	return okA && okB && a < b
}

// RiskLevel is the seller's self-assessed level for one intake risk factor.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is a known risk level.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// Intake holds the seller-submitted fields. Immutable after creation.
type Intake struct {
	CompanyName               string    `json:"company_name"`
	Industry                  string    `json:"industry"`
	City                      string    `json:"city"`
	EstimatedRevenue          int64     `json:"estimated_revenue"`
	RiskOwnerDependence       RiskLevel `json:"risk_owner_dependence"`
	RiskOperatingLeverage     RiskLevel `json:"risk_operating_leverage"`
	RiskCustomerConcentration RiskLevel `json:"risk_customer_concentration"`
	RiskCashFlow              RiskLevel `json:"risk_cash_flow"`
}

// Validate checks the intake fields. All are required.
func (in Intake) Validate() error {
	if in.CompanyName == "" {
		return &ValidationError{Field: "company_name", Reason: "required"}
	}
	if in.Industry == "" {
		return &ValidationError{Field: "industry", Reason: "required"}
	}
	if in.City == "" {
		return &ValidationError{Field: "city", Reason: "required"}
	}
	if in.EstimatedRevenue < 0 {
		return &ValidationError{Field: "estimated_revenue", Reason: "must be non-negative"}
	}
	risks := map[string]RiskLevel{
		"risk_owner_dependence":       in.RiskOwnerDependence,
		"risk_operating_leverage":     in.RiskOperatingLeverage,
		"risk_customer_concentration": in.RiskCustomerConcentration,
		"risk_cash_flow":              in.RiskCashFlow,
	}
	for field, level := range risks {
		if !level.Valid() {
			return &ValidationError{Field: field, Reason: "must be low, medium or high"}
		}
	}
	return nil
}

// OSINTResult is the field group written atomically when the OSINT stage
// completes. Either every field is present or the group is absent.
type OSINTResult struct {
	TrustScore    int            `json:"trust_score"`
	MarketSummary string         `json:"market_summary"`
	Metrics       map[string]any `json:"metrics"`
}

// FinancialResult is the field group written atomically when the financial
// stage completes.
type FinancialResult struct {
	NetProfit float64        `json:"net_profit"`
	AddBacks  float64        `json:"add_backs"`
	SDE       float64        `json:"sde"`
	Metrics   map[string]any `json:"metrics"`
}

// Record is a single business-verification record, the unit of work tracked
// through the pipeline.
type Record struct {
	ID        string           `json:"id"`
	Status    Status           `json:"status"`
	Intake    Intake           `json:"intake"`
	OSINT     *OSINTResult     `json:"osint,omitempty"`
	Financial *FinancialResult `json:"financial,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Patch is an atomic mutation of a record: at most one field group plus a
// status advance, guarded by a compare-and-swap on the current status.
// A patch with no field group is a pure status advance (the upload flow
// moving a record into processing_financials).
type Patch struct {
	ExpectedStatus Status           `json:"expected_status"`
	NewStatus      Status           `json:"new_status"`
	OSINT          *OSINTResult     `json:"osint,omitempty"`
	Financial      *FinancialResult `json:"financial,omitempty"`
}

// Validate checks that the patch moves status strictly forward and carries
// at most one field group.
func (p Patch) Validate() error {
	if !p.ExpectedStatus.Valid() {
		return &ValidationError{Field: "expected_status", Reason: "unknown status"}
	}
	if !p.NewStatus.Valid() {
		return &ValidationError{Field: "new_status", Reason: "unknown status"}
	}
	if !p.ExpectedStatus.Before(p.NewStatus) {
		return &ValidationError{Field: "new_status", Reason: "must advance status"}
	}
	if p.OSINT != nil && p.Financial != nil {
		return &ValidationError{Field: "patch", Reason: "carries more than one field group"}
	}
	return nil
}

// OSINTPatch builds the completion patch for the OSINT stage.
func OSINTPatch(res OSINTResult) Patch {
	return Patch{
		ExpectedStatus: StatusPendingOSINT,
		NewStatus:      StatusOSINTVerified,
		OSINT:          &res,
	}
}

// FinancialPatch builds the completion patch for the financial stage.
func FinancialPatch(res FinancialResult) Patch {
	return Patch{
		ExpectedStatus: StatusProcessingFinancials,
		NewStatus:      StatusFinancialsVerified,
		Financial:      &res,
	}
}

// AdvancePatch builds a status-only patch with no field group.
func AdvancePatch(expected, next Status) Patch {
	return Patch{ExpectedStatus: expected, NewStatus: next}
}
