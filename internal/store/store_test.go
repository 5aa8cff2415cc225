package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolima-epi/vereda-cli/internal/model"
	"github.com/tolima-epi/vereda-cli/internal/reference"
)

type testStore struct {
	Store
	clock *clockwork.FakeClock
}

func newTestSQLite(t *testing.T) testStore {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC))
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return testStore{Store: s, clock: clock}
}

func ptr(v float64) *float64 { return &v }

var testInput = model.RunInput{
	PopulationPath: "poblacion.xlsx",
	ReferencePath:  "veredas.shp",
	SumAttribute:   "poblacion",
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) testStore) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testInput)
		require.NoError(t, err)
		assert.NotEmpty(t, run.ID)
		assert.Equal(t, model.RunStatusQueued, run.Status)
		assert.Equal(t, testInput, run.Input)

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
		assert.Equal(t, model.RunStatusQueued, got.Status)
		assert.Equal(t, "poblacion", got.Input.SumAttribute)
		assert.Nil(t, got.Summary)
		assert.Empty(t, got.Error)
	})

	t.Run("UpdateRunStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testInput)
		require.NoError(t, err)

		require.NoError(t, s.UpdateRunStatus(ctx, run.ID, model.RunStatusClassifying))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusClassifying, got.Status)
	})

	t.Run("UpdateRunStatusNotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.UpdateRunStatus(context.Background(), "nonexistent-id", model.RunStatusLoading)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("CompleteRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testInput)
		require.NoError(t, err)

		summary := &model.RunSummary{
			Records:    9,
			GrandTotal: 300,
			Categories: []model.CategoryCount{
				{Category: model.CategoryRuralConfirmed, Count: 2, Sum: 140},
				{Category: model.CategoryManualReview, Count: 4, Sum: 100},
			},
			OutputDir: "out/analisis",
		}
		require.NoError(t, s.CompleteRun(ctx, run.ID, summary))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusComplete, got.Status)
		require.NotNil(t, got.Summary)
		assert.Equal(t, 9, got.Summary.Records)
		assert.InDelta(t, 300, got.Summary.GrandTotal, 0.001)
		assert.Equal(t, 4, got.Summary.Count(model.CategoryManualReview))
		assert.Equal(t, "out/analisis", got.Summary.OutputDir)
	})

	t.Run("CompleteRunNotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.CompleteRun(context.Background(), "nonexistent", &model.RunSummary{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("FailRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testInput)
		require.NoError(t, err)
		s.clock.Advance(time.Minute)

		require.NoError(t, s.FailRun(ctx, run.ID, "fetcher: missing columns"))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Equal(t, "fetcher: missing columns", got.Error)
		assert.True(t, got.UpdatedAt.After(got.CreatedAt))
	})

	t.Run("GetRun_NotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetRun(context.Background(), "nonexistent")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.CreateRun(ctx, testInput)
		require.NoError(t, err)
		s.clock.Advance(time.Second)
		second, err := s.CreateRun(ctx, testInput)
		require.NoError(t, err)
		require.NoError(t, s.UpdateRunStatus(ctx, second.ID, model.RunStatusExporting))

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, second.ID, all[0].ID, "newest first")
		assert.Equal(t, first.ID, all[1].ID)

		queued, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusQueued})
		require.NoError(t, err)
		require.Len(t, queued, 1)
		assert.Equal(t, first.ID, queued[0].ID)

		limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)

		paged, err := s.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, paged, 1)
		assert.Equal(t, first.ID, paged[0].ID)
	})

	t.Run("ListRuns_CreatedAfter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.CreateRun(ctx, testInput)
		require.NoError(t, err)
		s.clock.Advance(48 * time.Hour)
		recent, err := s.CreateRun(ctx, testInput)
		require.NoError(t, err)

		runs, err := s.ListRuns(ctx, RunFilter{CreatedAfter: s.clock.Now().Add(-24 * time.Hour)})
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, recent.ID, runs[0].ID)
	})

	t.Run("ListRuns_Empty", func(t *testing.T) {
		s := newStore(t)

		runs, err := s.ListRuns(context.Background(), RunFilter{})
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("SaveAndListRecords", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, testInput)
		require.NoError(t, err)

		records := []model.StoredRecord{
			{RunID: run.ID, Row: 2, Municipality: "IBAGUE", Locality: "BARRIO CENTRO", Category: model.CategoryUrbanConfirmed, Reason: "urban pattern matched: BARRIO", Key: "IBAGUE|BARRIO CENTRO", Value: ptr(40)},
			{RunID: run.ID, Row: 1, Municipality: "ESPINAL", Locality: "LA CHAMBA", Category: model.CategoryRuralConfirmed, Reason: "exact match in reference", Key: "ESPINAL|LA CHAMBA", ReferenceCode: "73268001", Value: ptr(60)},
			{RunID: run.ID, Row: 3, Municipality: "ESPINAL", Locality: "", Category: model.CategoryUnknown, Reason: "empty locality", Key: "ESPINAL|"},
		}
		n, err := s.SaveRecords(ctx, records)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		all, err := s.ListRecords(ctx, run.ID, RecordFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, 1, all[0].Row, "ordered by row")
		assert.Equal(t, "73268001", all[0].ReferenceCode)
		require.NotNil(t, all[0].Value)
		assert.InDelta(t, 60, *all[0].Value, 0.001)
		assert.Nil(t, all[2].Value)

		rural, err := s.ListRecords(ctx, run.ID, RecordFilter{Category: model.CategoryRuralConfirmed})
		require.NoError(t, err)
		require.Len(t, rural, 1)
		assert.Equal(t, "LA CHAMBA", rural[0].Locality)

		espinal, err := s.ListRecords(ctx, run.ID, RecordFilter{Municipality: "ESPINAL", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, espinal, 1)

		// Re-saving replaces rows of the same run.
		records[0].Category = model.CategoryManualReview
		_, err = s.SaveRecords(ctx, records[:1])
		require.NoError(t, err)
		review, err := s.ListRecords(ctx, run.ID, RecordFilter{Category: model.CategoryManualReview})
		require.NoError(t, err)
		assert.Len(t, review, 1)
	})

	t.Run("SaveRecords_Empty", func(t *testing.T) {
		s := newStore(t)

		n, err := s.SaveRecords(context.Background(), nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("SaveReference", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		entries := []reference.KeyedEntry{
			{Key: "ESPINAL|LA CHAMBA", Entry: model.ReferenceEntry{Code: "1", Municipality: "ESPINAL", Locality: "LA CHAMBA", Center: &model.Point{Lon: -74.9, Lat: 4.1}}},
			{Key: "IBAGUE|TAPIAS", Entry: model.ReferenceEntry{Code: "2", Municipality: "IBAGUE", Locality: "TAPIAS"}},
		}
		n, err := s.SaveReference(ctx, entries)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		entries[1].Entry.Code = "22"
		n, err = s.SaveReference(ctx, entries[1:])
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestNewSQLite_BadPath(t *testing.T) {
	_, err := NewSQLite(filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	require.Error(t, err)
}

func TestLimitOr(t *testing.T) {
	assert.Equal(t, 100, limitOr(0, 100))
	assert.Equal(t, 100, limitOr(-5, 100))
	assert.Equal(t, 7, limitOr(7, 100))
}
