package domain

import "time"

// Review is a user's rating of a POI. Only IsDeleted changes after creation.
type Review struct {
	ID        int64
	UserID    int64
	POIID     int64
	Rating    float64
	Text      *string
	IsDeleted bool
	CreatedAt time.Time
}
