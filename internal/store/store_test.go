package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byebiz/layerone/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testIntake() model.Intake {
	return model.Intake{
		CompanyName:               "Acme GmbH",
		Industry:                  "Software",
		City:                      "Berlin",
		EstimatedRevenue:          500000,
		RiskOwnerDependence:       model.RiskMedium,
		RiskOperatingLeverage:     model.RiskMedium,
		RiskCustomerConcentration: model.RiskMedium,
		RiskCashFlow:              model.RiskMedium,
	}
}

func testOSINT() model.OSINTResult {
	return model.OSINTResult{
		TrustScore:    82,
		MarketSummary: "Established software firm with stable public footprint.",
		Metrics:       map[string]any{"founding_year": "2009", "employee_count": "40"},
	}
}

func testFinancial() model.FinancialResult {
	return model.FinancialResult{
		NetProfit: 120000,
		AddBacks:  30000,
		SDE:       150000,
		Metrics:   map[string]any{"notes": "owner salary added back"},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRecord", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec, err := s.CreateRecord(ctx, testIntake())
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, model.StatusPendingOSINT, rec.Status)
		assert.Nil(t, rec.OSINT)
		assert.Nil(t, rec.Financial)

		got, err := s.GetRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, "Acme GmbH", got.Intake.CompanyName)
		assert.Equal(t, int64(500000), got.Intake.EstimatedRevenue)
		assert.Equal(t, model.RiskMedium, got.Intake.RiskCashFlow)
	})

	t.Run("GetUnknownRecord", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRecord(context.Background(), "no-such-id")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("FullLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec, err := s.CreateRecord(ctx, testIntake())
		require.NoError(t, err)

		// OSINT completion.
		rec, err = s.ApplyPatch(ctx, rec.ID, model.OSINTPatch(testOSINT()))
		require.NoError(t, err)
		assert.Equal(t, model.StatusOSINTVerified, rec.Status)
		require.NotNil(t, rec.OSINT)
		assert.Equal(t, 82, rec.OSINT.TrustScore)
		assert.NotEmpty(t, rec.OSINT.MarketSummary)
		assert.Nil(t, rec.Financial)

		// Upload advances status without a field group.
		rec, err = s.ApplyPatch(ctx, rec.ID,
			model.AdvancePatch(model.StatusOSINTVerified, model.StatusProcessingFinancials))
		require.NoError(t, err)
		assert.Equal(t, model.StatusProcessingFinancials, rec.Status)
		require.NotNil(t, rec.OSINT, "status advance must not clear the osint group")

		// Financial completion.
		rec, err = s.ApplyPatch(ctx, rec.ID, model.FinancialPatch(testFinancial()))
		require.NoError(t, err)
		assert.Equal(t, model.StatusFinancialsVerified, rec.Status)
		require.NotNil(t, rec.Financial)
		assert.InDelta(t, 150000, rec.Financial.SDE, 0.001)
		assert.InDelta(t, rec.Financial.NetProfit+rec.Financial.AddBacks, rec.Financial.SDE, 0.001)
	})

	t.Run("DuplicateCompletionConflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec, err := s.CreateRecord(ctx, testIntake())
		require.NoError(t, err)

		first := testOSINT()
		_, err = s.ApplyPatch(ctx, rec.ID, model.OSINTPatch(first))
		require.NoError(t, err)

		// A duplicate worker completion carries stale results; the CAS must
		// reject it and leave the first write intact.
		stale := testOSINT()
		stale.TrustScore = 5
		_, err = s.ApplyPatch(ctx, rec.ID, model.OSINTPatch(stale))
		assert.ErrorIs(t, err, model.ErrConflict)

		got, err := s.GetRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusOSINTVerified, got.Status)
		assert.Equal(t, 82, got.OSINT.TrustScore)
	})

	t.Run("FinancialBeforeUploadConflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec, err := s.CreateRecord(ctx, testIntake())
		require.NoError(t, err)

		_, err = s.ApplyPatch(ctx, rec.ID, model.FinancialPatch(testFinancial()))
		assert.ErrorIs(t, err, model.ErrConflict)

		got, err := s.GetRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPendingOSINT, got.Status)
		assert.Nil(t, got.Financial)
	})

	t.Run("PatchUnknownRecord", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ApplyPatch(context.Background(), "no-such-id", model.OSINTPatch(testOSINT()))
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("BackwardPatchRejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec, err := s.CreateRecord(ctx, testIntake())
		require.NoError(t, err)

		_, err = s.ApplyPatch(ctx, rec.ID,
			model.AdvancePatch(model.StatusOSINTVerified, model.StatusPendingOSINT))
		require.Error(t, err)
		assert.True(t, model.IsValidation(err))
	})

	t.Run("ListRecords", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := s.CreateRecord(ctx, testIntake())
			require.NoError(t, err)
		}
		rec, err := s.CreateRecord(ctx, testIntake())
		require.NoError(t, err)
		_, err = s.ApplyPatch(ctx, rec.ID, model.OSINTPatch(testOSINT()))
		require.NoError(t, err)

		all, err := s.ListRecords(ctx, RecordFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		pending, err := s.ListRecords(ctx, RecordFilter{Status: model.StatusPendingOSINT})
		require.NoError(t, err)
		assert.Len(t, pending, 3)

		limited, err := s.ListRecords(ctx, RecordFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("ConcurrentDuplicateCompletions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		rec, err := s.CreateRecord(ctx, testIntake())
		require.NoError(t, err)

		const n = 8
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.ApplyPatch(ctx, rec.ID, model.OSINTPatch(testOSINT()))
			}(i)
		}
		wg.Wait()

		var applied int
		for _, e := range errs {
			if e == nil {
				applied++
			} else {
				assert.ErrorIs(t, e, model.ErrConflict)
			}
		}
		assert.Equal(t, 1, applied, "exactly one completion may win")

		got, err := s.GetRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusOSINTVerified, got.Status)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}
