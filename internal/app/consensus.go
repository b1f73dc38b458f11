package app

import "math"

// MinBandSample is the number of ratings a POI needs before its trust band is used.
const MinBandSample = 4

// Band is the consensus of a POI's ratings: population mean and standard deviation.
// Ratings inside [Mean-StdDev, Mean+StdDev] are expected; anything outside is an outlier.
type Band struct {
	Mean   float64
	StdDev float64
	N      int
}

func NewBand(ratings []float64) Band {
	n := len(ratings)
	if n == 0 {
		return Band{}
	}
	var sum float64
	for _, r := range ratings {
		sum += r
	}
	mean := sum / float64(n)

	var sq float64
	for _, r := range ratings {
		d := r - mean
		sq += d * d
	}
	if math.IsInf(sum, 0) || math.IsInf(sq, 0) {
		return scaledBand(ratings)
	}
	return Band{Mean: mean, StdDev: math.Sqrt(sq / float64(n)), N: n}
}

// scaledBand computes the same statistics on ratings divided by their largest
// magnitude, for samples whose sums overflow float64.
func scaledBand(ratings []float64) Band {
	n := float64(len(ratings))
	var scale float64
	for _, r := range ratings {
		scale = max(scale, math.Abs(r))
	}

	var sum float64
	for _, r := range ratings {
		sum += r / scale
	}
	mean := sum / n

	var sq float64
	for _, r := range ratings {
		d := r/scale - mean
		sq += d * d
	}
	return Band{Mean: mean * scale, StdDev: math.Sqrt(sq/n) * scale, N: len(ratings)}
}

// Valid reports whether the sample is large enough to judge outliers.
func (b Band) Valid() bool { return b.N >= MinBandSample }

func (b Band) Low() float64  { return b.Mean - b.StdDev }
func (b Band) High() float64 { return b.Mean + b.StdDev }

// Distance is how far v falls outside the band; 0 inside it or when the band is not valid.
func (b Band) Distance(v float64) float64 {
	if !b.Valid() {
		return 0
	}
	if d := math.Abs(v-b.Mean) - b.StdDev; d > 0 {
		return d
	}
	return 0
}
