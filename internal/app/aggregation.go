package app

import "fmt"

// ReviewDistance is one of the user's reviews measured against its POI's band.
type ReviewDistance struct {
	ReviewID int64
	POIID    int64
	Rating   float64
	Distance float64
	// Banded is false when the POI had too few ratings; Distance is then 0.
	Banded bool
}

// Aggregation reduces per-review distances to the mean distance subtracted from 100.
type Aggregation interface {
	Name() string
	Mean(ds []ReviewDistance) float64
}

// AllReviewsMean divides by every review the user wrote, including thin-sample ones.
type AllReviewsMean struct{}

func (AllReviewsMean) Name() string { return "all" }

func (AllReviewsMean) Mean(ds []ReviewDistance) float64 {
	if len(ds) == 0 {
		return 0
	}
	var sum float64
	for _, d := range ds {
		sum += d.Distance
	}
	return sum / float64(len(ds))
}

// BandedReviewsMean divides only by reviews whose POI had a usable band.
type BandedReviewsMean struct{}

func (BandedReviewsMean) Name() string { return "banded" }

func (BandedReviewsMean) Mean(ds []ReviewDistance) float64 {
	var sum float64
	n := 0
	for _, d := range ds {
		if !d.Banded {
			continue
		}
		sum += d.Distance
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func AggregationByName(name string) (Aggregation, error) {
	switch name {
	case "", "all":
		return AllReviewsMean{}, nil
	case "banded":
		return BandedReviewsMean{}, nil
	}
	return nil, fmt.Errorf("unknown score aggregation %q", name)
}
