package app_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"findmy/internal/domain"
)

// ---- fakes ----

type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	reviews []domain.Review
	users   map[int64]bool

	// leakDeleted makes the store return soft-deleted rows too.
	leakDeleted bool
	userErr     error
	poiErr      error
	poiDelay    time.Duration

	poiCalls    map[int64]int
	inflight    atomic.Int32
	maxInflight atomic.Int32

	scores    map[int64]int
	updateErr map[int64]error
	// onList runs at the start of ListActiveUserIDs.
	onList func()
}

func newFakeStore(userIDs ...int64) *fakeStore {
	f := &fakeStore{users: map[int64]bool{}, poiCalls: map[int64]int{}, scores: map[int64]int{}, updateErr: map[int64]error{}}
	for _, id := range userIDs {
		f.users[id] = true
	}
	return f
}

// rate adds a review and returns its id.
func (f *fakeStore) rate(userID, poiID int64, rating float64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.reviews = append(f.reviews, domain.Review{ID: f.nextID, UserID: userID, POIID: poiID, Rating: rating})
	return f.nextID
}

// crowd adds one review per rating, each from a distinct user starting at 1000.
func (f *fakeStore) crowd(poiID int64, ratings ...float64) []int64 {
	ids := make([]int64, 0, len(ratings))
	for _, r := range ratings {
		ids = append(ids, f.rate(1000+int64(len(f.reviews)), poiID, r))
	}
	return ids
}

func (f *fakeStore) setDeleted(reviewID int64, deleted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.reviews {
		if f.reviews[i].ID == reviewID {
			f.reviews[i].IsDeleted = deleted
		}
	}
}

func (f *fakeStore) filter(keep func(domain.Review) bool) []domain.Review {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Review
	for _, r := range f.reviews {
		if r.IsDeleted && !f.leakDeleted {
			continue
		}
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeStore) ReviewsByUser(ctx context.Context, userID int64) ([]domain.Review, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.filter(func(r domain.Review) bool { return r.UserID == userID }), nil
}

func (f *fakeStore) ReviewsByPOI(ctx context.Context, poiID int64) ([]domain.Review, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.poiCalls[poiID]++
	f.mu.Unlock()

	if f.poiDelay > 0 {
		select {
		case <-time.After(f.poiDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.poiErr != nil {
		return nil, f.poiErr
	}
	return f.filter(func(r domain.Review) bool { return r.POIID == poiID }), nil
}

func (f *fakeStore) UserExists(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id], nil
}

func (f *fakeStore) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	if f.onList != nil {
		f.onList()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int64
	for id, ok := range f.users {
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateReliabilityScore(ctx context.Context, id int64, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErr[id]; err != nil {
		return err
	}
	f.scores[id] = score
	return nil
}

type fakeCache struct {
	mu    sync.Mutex
	store map[string]any
	dels  []string
}

func newFakeCache() *fakeCache { return &fakeCache{store: map[string]any{}} }

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	if d, ok := dst.(*domain.RescoreSummary); ok {
		*d = v.(domain.RescoreSummary)
	}
	return true, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = v
	return nil
}

func (c *fakeCache) SetNX(ctx context.Context, key string, v any, ttlSec int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.store[key]; ok {
		return false, nil
	}
	c.store[key] = v
	return true, nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	c.dels = append(c.dels, key)
	return nil
}

func (c *fakeCache) DelIfValue(ctx context.Context, key string, v any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.store[key]; !ok || cur != v {
		return false, nil
	}
	delete(c.store, key)
	c.dels = append(c.dels, key)
	return true, nil
}
