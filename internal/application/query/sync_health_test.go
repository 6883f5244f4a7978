package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	samples []CycleSample
	err     error
}

func (f *fakeHistory) RecentCycles(_ context.Context, _, _ string, limit int) ([]CycleSample, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.samples) {
		return f.samples[:limit], nil
	}
	return f.samples, nil
}

func healthQuery() GetSyncHealthQuery {
	return GetSyncHealthQuery{OwnerID: "student-1", CalendarID: "cal-1"}
}

func TestScoreCycle_CleanCycle(t *testing.T) {
	score := ScoreCycle(CycleSample{Duration: 2 * time.Second, APICalls: 3})
	assert.Equal(t, 100, score)
}

func TestScoreCycle_Penalties(t *testing.T) {
	tests := []struct {
		name   string
		sample CycleSample
		want   int
	}{
		{"one error", CycleSample{Errors: []string{"x"}}, 90},
		{"three errors", CycleSample{Errors: []string{"a", "b", "c"}}, 70},
		{"slow cycle", CycleSample{Duration: 16 * time.Second}, 90},
		{"very slow cycle", CycleSample{Duration: 31 * time.Second}, 80},
		{"chatty cycle", CycleSample{APICalls: 11}, 95},
		{"very chatty cycle", CycleSample{APICalls: 21}, 85},
		{
			"everything at once",
			CycleSample{Errors: []string{"a", "b"}, Duration: 40 * time.Second, APICalls: 25},
			45,
		},
		{
			"floor at zero",
			CycleSample{Errors: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}},
			0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScoreCycle(tt.sample))
		})
	}
}

func TestStatusFor_Buckets(t *testing.T) {
	assert.Equal(t, HealthExcellent, StatusFor(100))
	assert.Equal(t, HealthExcellent, StatusFor(90))
	assert.Equal(t, HealthGood, StatusFor(89))
	assert.Equal(t, HealthGood, StatusFor(75))
	assert.Equal(t, HealthFair, StatusFor(74))
	assert.Equal(t, HealthFair, StatusFor(60))
	assert.Equal(t, HealthPoor, StatusFor(59))
	assert.Equal(t, HealthPoor, StatusFor(0))
}

func TestGetSyncHealth_EmptyHistory(t *testing.T) {
	handler := NewGetSyncHealthHandler(&fakeHistory{}, nil)

	result, err := handler.Handle(context.Background(), healthQuery())
	require.NoError(t, err)
	assert.Equal(t, 100, result.Health.Score)
	assert.Equal(t, HealthExcellent, result.Health.Status)
	assert.Equal(t, 0, result.Health.CyclesObserved)
}

func TestGetSyncHealth_AggregatesWindow(t *testing.T) {
	started := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	history := &fakeHistory{samples: []CycleSample{
		{StartedAt: started, Duration: 2 * time.Second, ChangesApplied: 5, ChangesPushed: 2, APICalls: 4, Committed: true},
		{StartedAt: started.Add(-10 * time.Minute), Duration: 20 * time.Second, ChangesApplied: 1, APICalls: 12, Errors: []string{"push failed"}, Committed: true},
	}}
	handler := NewGetSyncHealthHandler(history, nil)

	result, err := handler.Handle(context.Background(), healthQuery())
	require.NoError(t, err)

	h := result.Health
	assert.Equal(t, 100, h.Score, "the latest cycle was clean")
	assert.Equal(t, HealthExcellent, h.Status)
	assert.Equal(t, started, h.LastSyncAt)
	assert.NotEmpty(t, h.LastSyncRelative)
	assert.True(t, h.LastCommitted)
	assert.Equal(t, 2, h.CyclesObserved)
	assert.Equal(t, 6, h.EntitiesSynced)
	assert.Equal(t, 2, h.OperationsPushed)
	assert.Equal(t, 1, h.ErrorCount)
	assert.Equal(t, 16, h.APICalls)
	// Second cycle: -10 error, -10 duration, -5 calls = 75.
	assert.InDelta(t, 87.5, h.AverageScore, 0.001)
}

func TestGetSyncHealth_ValidatesInput(t *testing.T) {
	handler := NewGetSyncHealthHandler(&fakeHistory{}, nil)

	_, err := handler.Handle(context.Background(), GetSyncHealthQuery{CalendarID: "cal-1"})
	assert.Error(t, err)

	_, err = handler.Handle(context.Background(), GetSyncHealthQuery{OwnerID: "student-1"})
	assert.Error(t, err)
}
