package domain

import "context"

// ReviewStore returns non-deleted reviews. Order is not significant.
type ReviewStore interface {
	ReviewsByUser(ctx context.Context, userID int64) ([]Review, error)
	ReviewsByPOI(ctx context.Context, poiID int64) ([]Review, error)
}

type UserLookup interface {
	// UserExists reports whether an active, non-deleted user has this id.
	UserExists(ctx context.Context, id int64) (bool, error)
}

type UserDirectory interface {
	UserLookup
	ListActiveUserIDs(ctx context.Context) ([]int64, error)
	UpdateReliabilityScore(ctx context.Context, id int64, score int) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	// SetNX stores v only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, v any, ttlSec int) (bool, error)
	Del(ctx context.Context, key string) error
	// DelIfValue deletes key only while it still holds v and reports whether it did.
	DelIfValue(ctx context.Context, key string, v any) (bool, error)
}

// Read models

type ReliabilityView struct {
	UserID int64 `json:"userId"`
	Score  int   `json:"reliabilityScore"`
}

type RescoreSummary struct {
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt"`
	Users      int    `json:"users"`
	Updated    int    `json:"updated"`
	Failed     int    `json:"failed"`
}
