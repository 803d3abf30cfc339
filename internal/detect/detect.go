package detect

import (
	"math"

	"turntable/internal/queue"
)

// Detection is one located subject in a frame.
type Detection struct {
	Box        queue.BoundingBox
	Confidence float64
}

// Sample pairs a video instant with the subject detected there, nil when the
// detector found nothing.
type Sample struct {
	Seconds   float64
	Detection *Detection
}

// Center returns the box centroid.
func (d *Detection) Center() (float64, float64) {
	return float64(d.Box.X1+d.Box.X2) / 2, float64(d.Box.Y1+d.Box.Y2) / 2
}

// selectPrimary picks the most prominent, best-framed subject: largest area
// weighted by how close the box center sits to the image center. Confidence
// already gated the candidates, so it does not enter the ranking.
func selectPrimary(candidates []Detection, frameWidth, frameHeight int) *Detection {
	if len(candidates) == 0 {
		return nil
	}
	cx := float64(frameWidth) / 2
	cy := float64(frameHeight) / 2
	maxDist := math.Hypot(cx, cy)

	best := -1
	bestScore := -1.0
	for i, cand := range candidates {
		bx, by := cand.Center()
		centrality := 1 - math.Hypot(bx-cx, by-cy)/maxDist
		if centrality < 0 {
			centrality = 0
		}
		score := float64(cand.Box.Area()) * centrality
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	picked := candidates[best]
	return &picked
}

// InterpolateAt produces a bounding box for time t from the grid scan.
// With successful detections on both sides the box is linearly interpolated;
// with only one side inside maxGap seconds that box is reused as-is. The
// second return is false when no detection lies within the neighborhood and
// the caller should treat the instant as an exclusion candidate.
func InterpolateAt(samples []Sample, t, maxGap float64) (*Detection, bool) {
	var prev, next *Sample
	for i := range samples {
		s := &samples[i]
		if s.Detection == nil {
			continue
		}
		if s.Seconds <= t {
			prev = s
		} else {
			next = s
			break
		}
	}

	prevOK := prev != nil && t-prev.Seconds <= maxGap
	nextOK := next != nil && next.Seconds-t <= maxGap

	switch {
	case prevOK && nextOK:
		span := next.Seconds - prev.Seconds
		if span <= 0 {
			d := *prev.Detection
			return &d, true
		}
		frac := (t - prev.Seconds) / span
		return lerpDetection(prev.Detection, next.Detection, frac), true
	case prevOK:
		d := *prev.Detection
		return &d, true
	case nextOK:
		d := *next.Detection
		return &d, true
	default:
		return nil, false
	}
}

func lerpDetection(a, b *Detection, frac float64) *Detection {
	lerp := func(x, y int) int {
		return int(math.Round(float64(x) + frac*float64(y-x)))
	}
	return &Detection{
		Box: queue.BoundingBox{
			X1: lerp(a.Box.X1, b.Box.X1),
			Y1: lerp(a.Box.Y1, b.Box.Y1),
			X2: lerp(a.Box.X2, b.Box.X2),
			Y2: lerp(a.Box.Y2, b.Box.Y2),
		},
		Confidence: math.Min(a.Confidence, b.Confidence),
	}
}
