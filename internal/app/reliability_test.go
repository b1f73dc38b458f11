package app_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"findmy/internal/app"
	"findmy/internal/domain"
)

const user = int64(7)

func score(t *testing.T, s *app.ReliabilityScorer, id int64) int {
	t.Helper()
	got, err := s.ScoreUser(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestBand_PopulationStats(t *testing.T) {
	b := app.NewBand([]float64{1, 1, 1, 5})
	assert.Equal(t, 2.0, b.Mean)
	assert.InDelta(t, math.Sqrt(3), b.StdDev, 1e-12)
	assert.True(t, b.Valid())
	assert.InDelta(t, 5-(2+math.Sqrt(3)), b.Distance(5), 1e-12)
	assert.Zero(t, b.Distance(2))
	assert.Zero(t, b.Distance(1), "1 is inside [0.27, 3.73]")

	flat := app.NewBand([]float64{2, 2, 2, 2})
	assert.Zero(t, flat.StdDev)
	assert.Zero(t, flat.Distance(2))
	assert.Equal(t, 1.0, flat.Distance(3))
	assert.Equal(t, 1.0, flat.Distance(1))

	thin := app.NewBand([]float64{1, 1, 5})
	assert.False(t, thin.Valid())
	assert.Zero(t, thin.Distance(100))

	assert.Equal(t, app.Band{}, app.NewBand(nil))
}

func TestScoreUser_NoReviewsIsMax(t *testing.T) {
	st := newFakeStore(user)
	st.crowd(1, 1, 1, 1, 5)

	assert.Equal(t, app.MaxScore, score(t, app.NewReliabilityScorer(st, st), user))
	assert.Empty(t, st.poiCalls)
}

func TestScoreUser_ThinSampleContributesZero(t *testing.T) {
	st := newFakeStore(user)
	st.crowd(1, 1, 1)
	st.rate(user, 1, 5)

	assert.Equal(t, 100, score(t, app.NewReliabilityScorer(st, st), user))
}

func TestScoreUser_AgreementWithFlatConsensus(t *testing.T) {
	st := newFakeStore(user)
	st.crowd(1, 2, 2, 2)
	st.rate(user, 1, 2)

	assert.Equal(t, 100, score(t, app.NewReliabilityScorer(st, st), user))
}

func TestScoreUser_OutlierTruncates(t *testing.T) {
	st := newFakeStore(user)
	st.crowd(1, 1, 1, 1)
	st.rate(user, 1, 5) // distance 5-(2+√3) ≈ 1.268

	assert.Equal(t, 99, score(t, app.NewReliabilityScorer(st, st), user))

	low := newFakeStore(user)
	low.crowd(1, 5, 5, 5)
	low.rate(user, 1, 1) // mirror image below the band

	assert.Equal(t, 99, score(t, app.NewReliabilityScorer(low, low), user))
}

func TestScoreUser_AggregationPolicies(t *testing.T) {
	st := newFakeStore(user)
	st.crowd(1, 1, 1, 1, 1, 1, 1, 1)
	st.rate(user, 1, 10) // distance ≈ 4.899
	st.crowd(2, 3)
	st.rate(user, 2, 3) // 2 ratings: no band
	st.rate(user, 3, 4) // 1 rating: no band

	// 4.899 / 3 reviews
	assert.Equal(t, 99, score(t, app.NewReliabilityScorer(st, st), user))
	// 4.899 / 1 banded review
	banded := app.NewReliabilityScorer(st, st, app.WithAggregation(app.BandedReviewsMean{}))
	assert.Equal(t, 96, score(t, banded, user))
}

func TestBandedReviewsMean_NoBandsIsZero(t *testing.T) {
	ds := []app.ReviewDistance{{POIID: 1}, {POIID: 2}}
	assert.Zero(t, app.BandedReviewsMean{}.Mean(ds))
	assert.Zero(t, app.AllReviewsMean{}.Mean(nil))
}

func TestAggregationByName(t *testing.T) {
	for name, want := range map[string]app.Aggregation{
		"":       app.AllReviewsMean{},
		"all":    app.AllReviewsMean{},
		"banded": app.BandedReviewsMean{},
	} {
		got, err := app.AggregationByName(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := app.AggregationByName("median")
	assert.Error(t, err)
}

func TestScoreUser_OwnDeletedReviewIsIgnored(t *testing.T) {
	st := newFakeStore(user)
	st.crowd(1, 1, 1, 1, 1, 1, 1, 1)
	own := st.rate(user, 1, 10)
	s := app.NewReliabilityScorer(st, st)

	assert.Equal(t, 96, score(t, s, user))

	st.setDeleted(own, true)
	assert.Equal(t, 100, score(t, s, user))

	st.setDeleted(own, false)
	assert.Equal(t, 96, score(t, s, user))
}

func TestScoreUser_OtherRatersDeletedReviewIsIgnored(t *testing.T) {
	st := newFakeStore(user)
	others := st.crowd(1, 1, 1, 1)
	st.rate(user, 1, 5)
	s := app.NewReliabilityScorer(st, st)

	assert.Equal(t, 99, score(t, s, user))

	// three ratings left: below the sample floor
	st.setDeleted(others[0], true)
	assert.Equal(t, 100, score(t, s, user))
}

func TestScoreUser_DeletedRowsFromStoreAreFiltered(t *testing.T) {
	st := newFakeStore(user)
	others := st.crowd(1, 1, 1, 1)
	st.rate(user, 1, 5)
	st.crowd(2, 1, 1, 1, 1)
	gone := st.rate(user, 2, 100)
	st.setDeleted(others[0], true)
	st.setDeleted(gone, true)
	st.leakDeleted = true

	// poi 1 keeps three live ratings, the poi 2 review does not exist
	assert.Equal(t, 100, score(t, app.NewReliabilityScorer(st, st), user))
}

func TestScoreUser_Idempotent(t *testing.T) {
	st := newFakeStore(user)
	st.crowd(1, 1, 1, 1, 1, 1, 1, 1)
	st.rate(user, 1, 10)
	st.crowd(2, 2, 3, 4, 5)
	st.rate(user, 2, 1)
	s := app.NewReliabilityScorer(st, st)

	first := score(t, s, user)
	assert.Equal(t, first, score(t, s, user))
}

func TestScoreUser_MonotoneInOutlierDistance(t *testing.T) {
	prev := app.MaxScore
	for v := 5.0; v <= 10; v++ {
		st := newFakeStore(user)
		st.crowd(1, 1, 1, 1, 1, 1, 1, 1)
		st.rate(user, 1, v)

		got := score(t, app.NewReliabilityScorer(st, st), user)
		assert.LessOrEqual(t, got, prev, "rating %v", v)
		prev = got
	}
	assert.Equal(t, 96, prev)
}

func TestScoreUser_UnclampedByDefault(t *testing.T) {
	st := newFakeStore(user)
	st.crowd(1, 0, 0, 0, 0, 0, 0, 0)
	st.rate(user, 1, 1000) // distance ≈ 544

	assert.Equal(t, -444, score(t, app.NewReliabilityScorer(st, st), user))
	assert.Equal(t, 0, score(t, app.NewReliabilityScorer(st, st, app.WithClamp()), user))
}

func TestBand_HugeRatingsStayFinite(t *testing.T) {
	b := app.NewBand([]float64{0, 0, 0, 0, 0, 0, 0, 1e300})
	assert.False(t, math.IsInf(b.Mean, 0) || math.IsNaN(b.Mean))
	assert.False(t, math.IsInf(b.StdDev, 0) || math.IsNaN(b.StdDev))
	assert.InDelta(t, 1.25e299, b.Mean, 1e285)
	assert.InDelta(t, 1e300*math.Sqrt(7)/8, b.StdDev, 1e286)
	assert.Greater(t, b.Distance(1e300), 5e299)
	assert.Zero(t, b.Distance(1e299))
}

func TestScoreUser_ExtremeOutlierNeverScoresHigh(t *testing.T) {
	prev := app.MaxScore
	for _, v := range []float64{1e3, 1e6, 1e9} {
		st := newFakeStore(user)
		st.crowd(1, 0, 0, 0, 0, 0, 0, 0)
		st.rate(user, 1, v)

		got := score(t, app.NewReliabilityScorer(st, st), user)
		assert.Less(t, got, prev, "rating %v", v)
		prev = got
	}

	for _, v := range []float64{1e12, 1e300} {
		st := newFakeStore(user)
		st.crowd(1, 0, 0, 0, 0, 0, 0, 0)
		st.rate(user, 1, v)

		_, err := app.NewReliabilityScorer(st, st).ScoreUser(context.Background(), user)
		assert.Error(t, err, "rating %v has no representable score", v)
		assert.Zero(t, score(t, app.NewReliabilityScorer(st, st, app.WithClamp()), user), "rating %v", v)
	}
}

func TestScoreUser_OneQueryPerDistinctPOI(t *testing.T) {
	st := newFakeStore(user)
	st.crowd(1, 1, 2, 3)
	st.rate(user, 1, 4)
	st.rate(user, 1, 5)
	st.rate(user, 2, 3)

	score(t, app.NewReliabilityScorer(st, st), user)
	assert.Equal(t, map[int64]int{1: 1, 2: 1}, st.poiCalls)
}

func TestScoreUser_FanOutIsBounded(t *testing.T) {
	st := newFakeStore(user)
	for poi := int64(1); poi <= 12; poi++ {
		st.rate(user, poi, 3)
	}
	st.poiDelay = 10 * time.Millisecond

	score(t, app.NewReliabilityScorer(st, st, app.WithConcurrency(2)), user)
	assert.LessOrEqual(t, st.maxInflight.Load(), int32(2))
	assert.Len(t, st.poiCalls, 12)
}

func TestReliabilityScore_InvalidID(t *testing.T) {
	st := newFakeStore(user)
	s := app.NewReliabilityScorer(st, st)

	for _, raw := range []string{"abc", "", "1.5", "0", "-3", "9999999999999999999999"} {
		_, err := s.ReliabilityScore(context.Background(), raw)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument, "raw %q", raw)
	}

	got, err := s.ReliabilityScore(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, 100, got)
}

func TestScoreUser_UnknownUser(t *testing.T) {
	st := newFakeStore(user)
	_, err := app.NewReliabilityScorer(st, st).ScoreUser(context.Background(), 8)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestScoreUser_StoreErrorsPropagate(t *testing.T) {
	boom := errors.New("connection refused")

	st := newFakeStore(user)
	st.userErr = boom
	_, err := app.NewReliabilityScorer(st, st).ScoreUser(context.Background(), user)
	assert.ErrorIs(t, err, boom)

	st = newFakeStore(user)
	st.rate(user, 1, 3)
	st.poiErr = boom
	_, err = app.NewReliabilityScorer(st, st).ScoreUser(context.Background(), user)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrTimeout)
}

func TestScoreUser_QueryTimeout(t *testing.T) {
	st := newFakeStore(user)
	st.rate(user, 1, 3)
	st.poiDelay = time.Second

	s := app.NewReliabilityScorer(st, st, app.WithQueryTimeout(20*time.Millisecond))
	_, err := s.ScoreUser(context.Background(), user)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScoreUser_CallerCancellation(t *testing.T) {
	st := newFakeStore(user)
	st.rate(user, 1, 3)
	st.poiDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := app.NewReliabilityScorer(st, st).ScoreUser(ctx, user)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrTimeout)
}

func TestScoreUser_WithoutUserLookup(t *testing.T) {
	st := newFakeStore()
	st.crowd(1, 1, 1, 1)
	st.rate(user, 1, 5)

	assert.Equal(t, 99, score(t, app.NewReliabilityScorer(st, nil), user))
}
