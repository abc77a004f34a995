package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validIntake() Intake {
	return Intake{
		CompanyName:               "Acme GmbH",
		Industry:                  "Software",
		City:                      "Berlin",
		EstimatedRevenue:          500000,
		RiskOwnerDependence:       RiskMedium,
		RiskOperatingLeverage:     RiskMedium,
		RiskCustomerConcentration: RiskMedium,
		RiskCashFlow:              RiskMedium,
	}
}

func TestStatusOrder(t *testing.T) {
	order := []Status{
		StatusPendingOSINT,
		StatusOSINTVerified,
		StatusProcessingFinancials,
		StatusFinancialsVerified,
	}
	for i, s := range order {
		assert.True(t, s.Valid(), s)
		for j, other := range order {
			assert.Equal(t, i < j, s.Before(other), "%s before %s", s, other)
		}
	}
	assert.False(t, Status("deleted").Valid())
	assert.False(t, StatusPendingOSINT.Before("deleted"))
}

func TestIntakeValidate(t *testing.T) {
	require.NoError(t, validIntake().Validate())

	tests := []struct {
		name   string
		mutate func(*Intake)
		field  string
	}{
		{"missing company", func(in *Intake) { in.CompanyName = "" }, "company_name"},
		{"missing industry", func(in *Intake) { in.Industry = "" }, "industry"},
		{"missing city", func(in *Intake) { in.City = "" }, "city"},
		{"negative revenue", func(in *Intake) { in.EstimatedRevenue = -1 }, "estimated_revenue"},
		{"bad risk enum", func(in *Intake) { in.RiskCashFlow = "severe" }, "risk_cash_flow"},
		{"empty risk enum", func(in *Intake) { in.RiskOwnerDependence = "" }, "risk_owner_dependence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validIntake()
			tt.mutate(&in)
			err := in.Validate()
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestPatchValidate(t *testing.T) {
	require.NoError(t, OSINTPatch(OSINTResult{TrustScore: 82}).Validate())
	require.NoError(t, FinancialPatch(FinancialResult{SDE: 150000}).Validate())
	require.NoError(t, AdvancePatch(StatusOSINTVerified, StatusProcessingFinancials).Validate())

	// Backward or sideways moves are rejected before hitting the store.
	err := AdvancePatch(StatusFinancialsVerified, StatusPendingOSINT).Validate()
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	err = AdvancePatch(StatusOSINTVerified, StatusOSINTVerified).Validate()
	require.Error(t, err)

	err = Patch{
		ExpectedStatus: StatusPendingOSINT,
		NewStatus:      StatusOSINTVerified,
		OSINT:          &OSINTResult{},
		Financial:      &FinancialResult{},
	}.Validate()
	require.Error(t, err)

	err = AdvancePatch("bogus", StatusOSINTVerified).Validate()
	require.Error(t, err)
}

func TestErrorTaxonomy(t *testing.T) {
	up := &UpstreamError{Op: "osint call", Err: assert.AnError}
	assert.True(t, IsUpstream(up))
	assert.False(t, IsStorage(up))
	assert.ErrorIs(t, up, assert.AnError)

	st := &StorageError{Op: "blob read", Err: assert.AnError}
	assert.True(t, IsStorage(st))
	assert.False(t, IsUpstream(st))
}
