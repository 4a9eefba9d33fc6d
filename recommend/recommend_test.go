package recommend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentuity/smartcache/cache"
	"github.com/agentuity/smartcache/config"
	"github.com/agentuity/smartcache/eventing"
	"github.com/agentuity/smartcache/logger"
	"github.com/agentuity/smartcache/store"
)

type staticSource struct {
	recs []store.Recommendation
}

func (s *staticSource) Recommendations(context.Context) ([]store.Recommendation, error) {
	return s.recs, nil
}

func candidate(hash string, priority store.Priority, savings float64) store.Recommendation {
	return store.Recommendation{
		QueryHash:        hash,
		Query:            "select * from products where id = ?",
		Priority:         priority,
		SuggestedTTL:     3600,
		Reason:           "test candidate",
		PotentialSavings: savings,
		Status:           store.StatusPending,
	}
}

func newTestService(t *testing.T, cfg config.Config, source CandidateSource) (*Service, *store.SQLite) {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	strategies := cache.NewInMemory(ctx, cache.WithExpiryCheck(time.Minute))
	t.Cleanup(func() { _ = strategies.Close() })
	return New(st, source, strategies, eventing.NewNoop(), cfg, logger.NewTestLogger()), st
}

func TestSyncInsertsOncePerHash(t *testing.T) {
	ctx := context.Background()
	source := &staticSource{recs: []store.Recommendation{
		candidate("aaaa000000000001", store.PriorityHigh, 1500),
		candidate("aaaa000000000002", store.PriorityMedium, 300),
	}}
	svc, st := newTestService(t, config.Default(), source)

	n, err := svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// second sync with identical candidates inserts nothing
	n, err = svc.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	total, err := st.CountRecommendations(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestSyncLeavesExistingStatusUntouched(t *testing.T) {
	ctx := context.Background()
	source := &staticSource{recs: []store.Recommendation{
		candidate("aaaa000000000001", store.PriorityHigh, 1500),
	}}
	svc, st := newTestService(t, config.Default(), source)

	_, err := svc.Sync(ctx)
	require.NoError(t, err)
	recs, err := st.ListRecommendations(ctx, store.StatusPending)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	_, err = svc.Reject(ctx, []int64{recs[0].ID})
	require.NoError(t, err)

	_, err = svc.Sync(ctx)
	require.NoError(t, err)
	rec, found, err := st.GetRecommendation(ctx, recs[0].ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.StatusRejected, rec.Status)
}

func TestApproveRejectValidation(t *testing.T) {
	svc, _ := newTestService(t, config.Default(), &staticSource{})
	_, err := svc.Approve(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoIDs)
	_, err = svc.Reject(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoIDs)
}

func TestApproveOnlyPending(t *testing.T) {
	ctx := context.Background()
	source := &staticSource{recs: []store.Recommendation{
		candidate("aaaa000000000001", store.PriorityHigh, 1500),
		candidate("aaaa000000000002", store.PriorityHigh, 900),
	}}
	svc, st := newTestService(t, config.Default(), source)
	_, err := svc.Sync(ctx)
	require.NoError(t, err)

	recs, err := st.ListRecommendations(ctx, store.StatusPending)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	n, err := svc.Reject(ctx, []int64{recs[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// rejected id in the set is silently skipped
	n, err = svc.Approve(ctx, []int64{recs[0].ID, recs[1].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func autoApplyConfig(maxPerRun int, requireApproval, dryRun bool) config.Config {
	cfg := config.Default()
	cfg.AutoApply.Enabled = true
	cfg.AutoApply.PriorityThreshold = "high"
	cfg.AutoApply.RequireApproval = requireApproval
	cfg.AutoApply.DryRun = dryRun
	cfg.AutoApply.MaxQueriesPerRun = maxPerRun
	return cfg
}

func TestProcessAutoApplyDisabled(t *testing.T) {
	svc, _ := newTestService(t, config.Default(), &staticSource{})
	report, err := svc.ProcessAutoApply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "disabled", report.Status)
	assert.Zero(t, report.Total)
}

func TestProcessAutoApplyMaxPerRunPicksLargestSavings(t *testing.T) {
	ctx := context.Background()
	source := &staticSource{recs: []store.Recommendation{
		candidate("aaaa000000000001", store.PriorityHigh, 900),
		candidate("aaaa000000000002", store.PriorityHigh, 1500),
	}}
	svc, st := newTestService(t, autoApplyConfig(1, true, false), source)
	_, err := svc.Sync(ctx)
	require.NoError(t, err)

	pending, err := st.ListRecommendations(ctx, store.StatusPending)
	require.NoError(t, err)
	ids := []int64{pending[0].ID, pending[1].ID}
	_, err = svc.Approve(ctx, ids)
	require.NoError(t, err)

	report, err := svc.ProcessAutoApply(ctx)
	require.NoError(t, err)
	assert.Equal(t, "completed", report.Status)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Processed)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "aaaa000000000002", report.Results[0].QueryHash)
	assert.True(t, report.Results[0].Applied)

	applied, err := st.ListRecommendations(ctx, store.StatusApplied)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "aaaa000000000002", applied[0].QueryHash)
	assert.True(t, applied[0].AutoApplied)

	approved, err := st.ListRecommendations(ctx, store.StatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "aaaa000000000001", approved[0].QueryHash)
}

func TestProcessAutoApplyPriorityThreshold(t *testing.T) {
	ctx := context.Background()
	source := &staticSource{recs: []store.Recommendation{
		candidate("aaaa000000000001", store.PriorityHigh, 900),
		candidate("aaaa000000000002", store.PriorityMedium, 5000),
	}}
	svc, _ := newTestService(t, autoApplyConfig(10, false, false), source)
	_, err := svc.Sync(ctx)
	require.NoError(t, err)

	report, err := svc.ProcessAutoApply(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "aaaa000000000001", report.Results[0].QueryHash)
}

func TestProcessAutoApplyDryRun(t *testing.T) {
	ctx := context.Background()
	source := &staticSource{recs: []store.Recommendation{
		candidate("aaaa000000000001", store.PriorityHigh, 900),
	}}
	svc, st := newTestService(t, autoApplyConfig(10, false, true), source)
	_, err := svc.Sync(ctx)
	require.NoError(t, err)

	report, err := svc.ProcessAutoApply(ctx)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Processed)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Applied)

	// nothing persisted, nothing transitioned
	pending, err := st.ListRecommendations(ctx, store.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	ok, err := svc.ShouldCache(ctx, "aaaa000000000001")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessAutoApplyNeverTouchesRejected(t *testing.T) {
	ctx := context.Background()
	source := &staticSource{recs: []store.Recommendation{
		candidate("aaaa000000000001", store.PriorityHigh, 900),
	}}
	svc, st := newTestService(t, autoApplyConfig(10, false, false), source)
	_, err := svc.Sync(ctx)
	require.NoError(t, err)

	pending, err := st.ListRecommendations(ctx, store.StatusPending)
	require.NoError(t, err)
	_, err = svc.Reject(ctx, []int64{pending[0].ID})
	require.NoError(t, err)

	report, err := svc.ProcessAutoApply(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Total)
}

func TestStrategyRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := &staticSource{recs: []store.Recommendation{
		candidate("aaaa000000000001", store.PriorityHigh, 900),
	}}
	svc, _ := newTestService(t, autoApplyConfig(10, false, false), source)
	_, err := svc.Sync(ctx)
	require.NoError(t, err)

	_, err = svc.ProcessAutoApply(ctx)
	require.NoError(t, err)

	strategy, found, err := svc.Strategy(ctx, "aaaa000000000001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "aaaa000000000001", strategy.QueryHash)
	assert.Equal(t, int64(3600), strategy.TTL)
	assert.Equal(t, "smartcache:query:aaaa000000000001", strategy.KeyPrefix)
	assert.Equal(t, "high", strategy.Priority)
	assert.WithinDuration(t, time.Now(), strategy.AppliedAt, time.Minute)

	ok, err := svc.ShouldCache(ctx, "aaaa000000000001")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err = svc.Strategy(ctx, "ffff000000000000")
	require.NoError(t, err)
	assert.False(t, found)
}
