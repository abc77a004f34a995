package stage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/byebiz/layerone/internal/model"
	"github.com/byebiz/layerone/internal/store"
	"github.com/byebiz/layerone/pkg/reasoning"
)

// mockReasoning implements reasoning.Client for stage tests.
type mockReasoning struct {
	mock.Mock
}

func (m *mockReasoning) Complete(ctx context.Context, req reasoning.Request) (*reasoning.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reasoning.Response), args.Error(1)
}

func textResponse(text string) *reasoning.Response {
	return &reasoning.Response{
		ID:         "msg_test",
		Text:       text,
		StopReason: "end_turn",
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "stage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newPendingRecord(t *testing.T, s store.Store) *model.Record {
	t.Helper()
	rec, err := s.CreateRecord(context.Background(), model.Intake{
		CompanyName:               "Acme GmbH",
		Industry:                  "Software",
		City:                      "Berlin",
		EstimatedRevenue:          500000,
		RiskOwnerDependence:       model.RiskMedium,
		RiskOperatingLeverage:     model.RiskMedium,
		RiskCustomerConcentration: model.RiskMedium,
		RiskCashFlow:              model.RiskMedium,
	})
	require.NoError(t, err)
	return rec
}

// newProcessingRecord walks a fresh record forward to processing_financials.
func newProcessingRecord(t *testing.T, s store.Store) *model.Record {
	t.Helper()
	ctx := context.Background()
	rec := newPendingRecord(t, s)

	rec2, err := s.ApplyPatch(ctx, rec.ID, model.OSINTPatch(model.OSINTResult{
		TrustScore:    82,
		MarketSummary: "summary",
		Metrics:       map[string]any{"founding_year": "2009"},
	}))
	require.NoError(t, err)

	rec3, err := s.ApplyPatch(ctx, rec2.ID,
		model.AdvancePatch(model.StatusOSINTVerified, model.StatusProcessingFinancials))
	require.NoError(t, err)
	return rec3
}
