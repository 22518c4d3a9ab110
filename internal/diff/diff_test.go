package diff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sjsage522/suumoworker/internal/models"
	"sjsage522/suumoworker/internal/registry"
	scrapeerrors "sjsage522/suumoworker/pkg/errors"
)

// MockRegistry wraps a memory registry with injectable failures
type MockRegistry struct {
	*registry.MemoryRegistry
	getErr error
	putErr error
	gets   []models.RunID
}

var _ registry.Registry = (*MockRegistry)(nil)

func NewMockRegistry() *MockRegistry {
	return &MockRegistry{MemoryRegistry: registry.NewMemoryRegistry()}
}

func (m *MockRegistry) Get(ctx context.Context, id models.RunID) (*models.Run, error) {
	m.gets = append(m.gets, id)
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.MemoryRegistry.Get(ctx, id)
}

func (m *MockRegistry) Put(ctx context.Context, run *models.Run) error {
	if m.putErr != nil {
		return m.putErr
	}
	return m.MemoryRegistry.Put(ctx, run)
}

func runWith(id models.RunID, urls ...string) *models.Run {
	run := &models.Run{ID: id, SearchURL: "https://suumo.jp/jj/chintai/ichiran/FR301FC001/?ar=030"}
	for _, u := range urls {
		run.Listings = append(run.Listings, models.Listing{Name: u, URL: u})
	}
	return run
}

func tags(run *models.Run) map[string]bool {
	out := make(map[string]bool, len(run.Listings))
	for _, l := range run.Listings {
		out[l.URL] = l.IsNew
	}
	return out
}

func TestDiffEndToEnd(t *testing.T) {
	ctx := context.Background()
	reg := NewMockRegistry()

	am := models.NewRunID(2024, time.May, 10, models.SlotAM)
	pm := models.NewRunID(2024, time.May, 10, models.SlotPM)
	require.NoError(t, reg.Put(ctx, runWith(am, "A", "B")))

	current := runWith(pm, "A", "C", "D")
	result, err := NewEngine(reg).Diff(ctx, current)
	require.NoError(t, err)

	assert.Equal(t, 2, result.NewCount)
	assert.False(t, result.ColdStart)
	assert.Equal(t, am, result.Prior)
	assert.Equal(t, map[string]bool{"A": false, "C": true, "D": true}, tags(current))
	assert.Equal(t, "memory:2024-05-10-PM", result.Location)

	// Committed with tags and indexes
	stored, err := reg.Get(ctx, pm)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"A": false, "C": true, "D": true}, tags(stored))
	for i, l := range stored.Listings {
		assert.Equal(t, i+1, l.Index)
	}
}

func TestDiffPriorSlotResolution(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		current models.RunID
		prior   models.RunID
	}{
		{models.NewRunID(2024, time.May, 10, models.SlotAM), models.NewRunID(2024, time.May, 9, models.SlotPM)},
		{models.NewRunID(2024, time.May, 10, models.SlotPM), models.NewRunID(2024, time.May, 10, models.SlotAM)},
		{models.NewRunID(2024, time.March, 1, models.SlotAM), models.NewRunID(2024, time.February, 29, models.SlotPM)},
		{models.NewRunID(2025, time.January, 1, models.SlotAM), models.NewRunID(2024, time.December, 31, models.SlotPM)},
	}

	for _, tc := range testCases {
		t.Run(tc.current.Key(), func(t *testing.T) {
			reg := NewMockRegistry()
			result, err := NewEngine(reg).Diff(ctx, runWith(tc.current, "A"))
			require.NoError(t, err)
			assert.Equal(t, tc.prior, result.Prior)
			require.NotEmpty(t, reg.gets)
			assert.Equal(t, tc.prior, reg.gets[0])
		})
	}
}

func TestDiffColdStart(t *testing.T) {
	current := runWith(models.NewRunID(2024, time.May, 10, models.SlotAM), "A", "B", "C")

	result, err := NewEngine(NewMockRegistry()).Diff(context.Background(), current)
	require.NoError(t, err)
	assert.True(t, result.ColdStart)
	assert.Equal(t, 3, result.NewCount)
	for _, l := range current.Listings {
		assert.True(t, l.IsNew)
	}
}

func TestDiffReadFailureDegradesToColdStart(t *testing.T) {
	reg := NewMockRegistry()
	reg.getErr = scrapeerrors.NewRegistry("mock", "read failed", errors.New("timeout"))

	current := runWith(models.NewRunID(2024, time.May, 10, models.SlotPM), "A", "B")
	result, err := NewEngine(reg).Diff(context.Background(), current)
	require.NoError(t, err)
	assert.True(t, result.ColdStart)
	assert.Equal(t, 2, result.NewCount)
}

func TestDiffWriteFailure(t *testing.T) {
	reg := NewMockRegistry()
	reg.putErr = errors.New("disk full")

	current := runWith(models.NewRunID(2024, time.May, 10, models.SlotPM), "A")
	result, err := NewEngine(reg).Diff(context.Background(), current)
	require.Error(t, err)
	assert.True(t, scrapeerrors.IsType(err, scrapeerrors.ErrorTypeRegistry))
	assert.Equal(t, 1, result.NewCount)
}

func TestDiffIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := NewMockRegistry()
	am := models.NewRunID(2024, time.May, 10, models.SlotAM)
	pm := models.NewRunID(2024, time.May, 10, models.SlotPM)
	require.NoError(t, reg.Put(ctx, runWith(am, "A", "B")))

	engine := NewEngine(reg)

	first := runWith(pm, "A", "C", "D")
	r1, err := engine.Diff(ctx, first)
	require.NoError(t, err)

	// Same listings again: tags and count match, the existing commit stands
	second := runWith(pm, "A", "C", "D")
	r2, err := engine.Diff(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, r1.NewCount, r2.NewCount)
	assert.Equal(t, tags(first), tags(second))
	assert.False(t, r1.AlreadyCommitted)
	assert.True(t, r2.AlreadyCommitted)
}

func TestDiffRejectsRunWithoutIdentity(t *testing.T) {
	reg := NewMockRegistry()
	_, err := NewEngine(reg).Diff(context.Background(), runWith(models.RunID{}, "A"))
	require.Error(t, err)
	assert.True(t, scrapeerrors.IsType(err, scrapeerrors.ErrorTypeRegistry))
	assert.Empty(t, reg.gets)
}

func TestDiffConflictingCommit(t *testing.T) {
	ctx := context.Background()
	reg := NewMockRegistry()
	pm := models.NewRunID(2024, time.May, 10, models.SlotPM)

	engine := NewEngine(reg)
	_, err := engine.Diff(ctx, runWith(pm, "A"))
	require.NoError(t, err)

	_, err = engine.Diff(ctx, runWith(pm, "A", "B"))
	require.Error(t, err)
	assert.ErrorIs(t, err, registry.ErrRunExists)
	assert.True(t, scrapeerrors.IsType(err, scrapeerrors.ErrorTypeRegistry))
}

func TestDiffRetagsStaleFlags(t *testing.T) {
	prior := runWith(models.NewRunID(2024, time.May, 10, models.SlotAM), "A")
	listings := []models.Listing{{URL: "A", IsNew: true}, {URL: "B"}}

	count := Tag(listings, prior)
	assert.Equal(t, 1, count)
	assert.False(t, listings[0].IsNew)
	assert.True(t, listings[1].IsNew)
}

func TestDiffEmptyRun(t *testing.T) {
	result, err := NewEngine(NewMockRegistry()).Diff(context.Background(), runWith(models.NewRunID(2024, time.May, 10, models.SlotAM)))
	require.NoError(t, err)
	assert.Equal(t, 0, result.NewCount)
}
