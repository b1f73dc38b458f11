package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"findmy/internal/domain"
)

const (
	RescoreLockKey    = "rescore:lock"
	RescoreLastRunKey = "rescore:last_run"
)

var ErrRescoreLocked = errors.New("rescore already running")

// RescoreService refreshes the reliability snapshot stored on every active user.
type RescoreService struct {
	users   domain.UserDirectory
	scorer  *ReliabilityScorer
	cache   domain.Cache
	workers int
	limiter *rate.Limiter
	lockTTL time.Duration
	now     func() time.Time
}

// NewRescoreService wires the job. rps <= 0 disables throttling; cache may be nil,
// in which case no run lock is taken and no summary is published.
func NewRescoreService(users domain.UserDirectory, scorer *ReliabilityScorer, cache domain.Cache, workers int, rps float64, lockTTL time.Duration) *RescoreService {
	if workers <= 0 {
		workers = 1
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	return &RescoreService{
		users:   users,
		scorer:  scorer,
		cache:   cache,
		workers: workers,
		limiter: lim,
		lockTTL: lockTTL,
		now:     time.Now,
	}
}

// RescoreAll scores every active user and stores the result. Individual failures
// are counted, not returned; the error reports lock, listing or cancellation problems.
func (s *RescoreService) RescoreAll(ctx context.Context) (domain.RescoreSummary, error) {
	started := s.now().UTC()
	sum := domain.RescoreSummary{StartedAt: started.Format(time.RFC3339)}

	if s.cache != nil {
		token := uuid.NewString()
		ok, err := s.cache.SetNX(ctx, RescoreLockKey, token, int(s.lockTTL.Seconds()))
		if err != nil {
			return sum, fmt.Errorf("acquire rescore lock: %w", err)
		}
		if !ok {
			return sum, ErrRescoreLocked
		}
		// release even if ctx was canceled mid-run, but never a lock another run
		// took after ours expired
		defer func() {
			released, err := s.cache.DelIfValue(context.WithoutCancel(ctx), RescoreLockKey, token)
			if err != nil {
				log.Warn().Err(err).Msg("release rescore lock failed")
			} else if !released {
				log.Warn().Dur("lock_ttl", s.lockTTL).Msg("rescore lock expired before the run finished")
			}
		}()
	}

	ids, err := s.users.ListActiveUserIDs(ctx)
	if err != nil {
		return sum, fmt.Errorf("list users: %w", err)
	}
	sum.Users = len(ids)
	log.Info().Int("users", len(ids)).Int("workers", s.workers).Msg("rescore starting")

	sem := semaphore.NewWeighted(int64(s.workers))
	var (
		wg              sync.WaitGroup
		updated, failed atomic.Int64
		runErr          error
	)
	for _, id := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			runErr = err
			break
		}
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			runErr = err
			break
		}

		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			defer sem.Release(1)

			if err := s.rescoreUser(ctx, userID); err != nil {
				failed.Add(1)
				log.Warn().Int64("user_id", userID).Err(err).Msg("rescore failed")
				return
			}
			updated.Add(1)
		}(id)
	}
	wg.Wait()

	sum.Updated = int(updated.Load())
	sum.Failed = int(failed.Load())
	sum.FinishedAt = s.now().UTC().Format(time.RFC3339)

	if s.cache != nil {
		if err := s.cache.Set(context.WithoutCancel(ctx), RescoreLastRunKey, sum, 0); err != nil {
			log.Warn().Err(err).Msg("store rescore summary failed")
		}
	}

	ev := log.Info()
	if runErr != nil {
		ev = log.Warn().Err(runErr)
	}
	ev.Int("users", sum.Users).Int("updated", sum.Updated).Int("failed", sum.Failed).Msg("rescore finished")
	return sum, runErr
}

func (s *RescoreService) rescoreUser(ctx context.Context, id int64) error {
	score, err := s.scorer.ScoreUser(ctx, id)
	if err != nil {
		return err
	}
	if err := s.users.UpdateReliabilityScore(ctx, id, score); err != nil {
		return fmt.Errorf("store score for user %d: %w", id, err)
	}
	return nil
}
