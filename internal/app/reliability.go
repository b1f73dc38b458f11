package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"findmy/internal/adapters/observability"
	"findmy/internal/domain"
	"findmy/internal/shared"
)

// MaxScore is the score of a user whose ratings never leave the consensus band,
// and of a user with no reviews at all.
const MaxScore = 100

const (
	defaultConcurrency  = 8
	defaultQueryTimeout = 5 * time.Second

	// maxMeanDistance keeps MaxScore - trunc(mean) inside int on every platform.
	maxMeanDistance = float64(math.MaxInt32 - MaxScore)
)

// ReliabilityScorer rates how far a user's reviews stray from what other reviewers
// said about the same POIs. It only reads; one instance is safe for concurrent use.
type ReliabilityScorer struct {
	reviews     domain.ReviewStore
	users       domain.UserLookup
	agg         Aggregation
	concurrency int
	timeout     time.Duration
	clamp       bool
}

// Option configures a ReliabilityScorer.
type Option func(*ReliabilityScorer)

// WithAggregation replaces the default AllReviewsMean policy; nil is ignored.
func WithAggregation(a Aggregation) Option {
	return func(s *ReliabilityScorer) {
		if a != nil {
			s.agg = a
		}
	}
}

// WithConcurrency caps parallel POI queries within one computation.
func WithConcurrency(n int) Option {
	return func(s *ReliabilityScorer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithQueryTimeout bounds every store query; 0 leaves only the caller's deadline.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *ReliabilityScorer) {
		if d >= 0 {
			s.timeout = d
		}
	}
}

// WithClamp limits scores to [0, MaxScore].
func WithClamp() Option {
	return func(s *ReliabilityScorer) { s.clamp = true }
}

// NewReliabilityScorer builds a scorer. users may be nil when existence is
// checked elsewhere.
func NewReliabilityScorer(reviews domain.ReviewStore, users domain.UserLookup, opts ...Option) *ReliabilityScorer {
	s := &ReliabilityScorer{
		reviews:     reviews,
		users:       users,
		agg:         AllReviewsMean{},
		concurrency: defaultConcurrency,
		timeout:     defaultQueryTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Aggregation reports the policy in use.
func (s *ReliabilityScorer) Aggregation() Aggregation { return s.agg }

// ReliabilityScore parses rawUserID and scores that user. A malformed id fails
// with domain.ErrInvalidArgument.
func (s *ReliabilityScorer) ReliabilityScore(ctx context.Context, rawUserID string) (int, error) {
	id, err := domain.ParseUserID(rawUserID)
	if err != nil {
		observability.ObserveReliability("invalid", 0)
		return 0, err
	}
	return s.ScoreUser(ctx, id)
}

// ScoreUser computes MaxScore minus the truncated mean distance of the user's
// ratings from their POIs' consensus bands.
func (s *ReliabilityScorer) ScoreUser(ctx context.Context, userID int64) (int, error) {
	start := time.Now()
	score, err := s.scoreUser(ctx, userID)
	observability.ObserveReliability(outcome(err), score)
	if err != nil {
		return 0, err
	}
	log.Debug().
		Int64("user_id", userID).
		Int("score", score).
		Str("aggregation", s.agg.Name()).
		Dur("took", time.Since(start)).
		Msg("reliability computed")
	return score, nil
}

func (s *ReliabilityScorer) scoreUser(ctx context.Context, userID int64) (int, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("%w: user id %d must be positive", domain.ErrInvalidArgument, userID)
	}

	if s.users != nil {
		ok, err := withTimeout(ctx, s.timeout, "user lookup", func(qctx context.Context) (bool, error) {
			return s.users.UserExists(qctx, userID)
		})
		if err != nil {
			return 0, fmt.Errorf("user %d: %w", userID, err)
		}
		if !ok {
			return 0, fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
		}
	}

	own, err := withTimeout(ctx, s.timeout, "reviews by user", func(qctx context.Context) ([]domain.Review, error) {
		return s.reviews.ReviewsByUser(qctx, userID)
	})
	if err != nil {
		return 0, fmt.Errorf("reviews of user %d: %w", userID, err)
	}
	own = live(own)
	if len(own) == 0 {
		return MaxScore, nil
	}

	bands, err := s.bands(ctx, distinctPOIs(own))
	if err != nil {
		return 0, err
	}

	ds := make([]ReviewDistance, len(own))
	for i, r := range own {
		b := bands[r.POIID]
		ds[i] = ReviewDistance{
			ReviewID: r.ID,
			POIID:    r.POIID,
			Rating:   r.Rating,
			Distance: b.Distance(r.Rating),
			Banded:   b.Valid(),
		}
	}

	mean := s.agg.Mean(ds)
	if mean < 0 || math.IsNaN(mean) {
		return 0, fmt.Errorf("user %d: mean distance %v out of range", userID, mean)
	}
	if mean > maxMeanDistance {
		if s.clamp {
			return 0, nil
		}
		return 0, fmt.Errorf("user %d: mean distance %v exceeds %v", userID, mean, maxMeanDistance)
	}

	score := MaxScore - int(math.Trunc(mean))
	if s.clamp {
		score = max(0, min(MaxScore, score))
	}
	return score, nil
}

// bands fetches every POI's reviews in parallel, bounded by s.concurrency.
// The first failure cancels the remaining queries.
func (s *ReliabilityScorer) bands(ctx context.Context, pois []int64) (map[int64]Band, error) {
	out := make([]Band, len(pois))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, poi := range pois {
		g.Go(func() error {
			rs, err := withTimeout(gctx, s.timeout, "reviews by poi", func(qctx context.Context) ([]domain.Review, error) {
				return s.reviews.ReviewsByPOI(qctx, poi)
			})
			if err != nil {
				return fmt.Errorf("reviews of poi %d: %w", poi, err)
			}
			out[i] = NewBand(ratings(live(rs)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := make(map[int64]Band, len(pois))
	for i, poi := range pois {
		m[poi] = out[i]
	}
	return m, nil
}

// withTimeout runs fn under a per-query deadline and reports its expiry as
// domain.ErrTimeout. Caller cancellation is returned as is.
func withTimeout[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	qctx := ctx
	if d > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	v, err := fn(qctx)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(qctx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, fmt.Errorf("%w: %s: %w", domain.ErrTimeout, op, err)
	}
	return v, err
}

func live(rs []domain.Review) []domain.Review {
	out := rs[:0:0]
	for _, r := range rs {
		if !r.IsDeleted {
			out = append(out, r)
		}
	}
	return out
}

func ratings(rs []domain.Review) []float64 {
	out := make([]float64, len(rs))
	for i, r := range rs {
		out[i] = r.Rating
	}
	return out
}

func distinctPOIs(rs []domain.Review) []int64 {
	seen := make(map[int64]struct{}, len(rs))
	out := make([]int64, 0, len(rs))
	for _, r := range rs {
		if _, ok := seen[r.POIID]; ok {
			continue
		}
		seen[r.POIID] = struct{}{}
		out = append(out, r.POIID)
	}
	return out
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "unavailable"
	}
	return observability.Outcome(err)
}

// ScorerFromConfig builds a scorer with the policy, fan-out and timeout settings of cfg.
func ScorerFromConfig(cfg shared.Config, reviews domain.ReviewStore, users domain.UserLookup) (*ReliabilityScorer, error) {
	agg, err := AggregationByName(cfg.ScorePolicy)
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithAggregation(agg),
		WithConcurrency(cfg.ScoreConcurrency),
		WithQueryTimeout(cfg.ScoreTimeout),
	}
	if cfg.ScoreClamp {
		opts = append(opts, WithClamp())
	}
	return NewReliabilityScorer(reviews, users, opts...), nil
}
