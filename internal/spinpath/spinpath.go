package spinpath

import (
	"math"

	"turntable/internal/detect"
)

// Point is one instant on the estimated rotation path.
type Point struct {
	Seconds      float64
	AngleDegrees float64
	Obstructed   bool
}

// Path is the monotonic angle-over-time estimate for one video. Degraded
// means the subject could not be tracked and angles are a uniform-time
// assumption rather than a measurement.
type Path struct {
	Points          []Point
	CoverageDegrees float64
	DurationSeconds float64
	Degraded        bool
}

// Build estimates cumulative rotation from the horizontal drift of the
// tracked box center: a full walk-around sweeps the center across the frame
// in proportion to the arc walked. Samples without a detection contribute no
// drift and are flagged obstructed; their angles are interpolated in time.
// Fewer than two detections, or zero net drift, yields a degraded path.
func Build(samples []detect.Sample, frameWidth int) Path {
	duration := 0.0
	if len(samples) > 0 {
		duration = samples[len(samples)-1].Seconds
	}

	detected := make([]int, 0, len(samples))
	for i, sample := range samples {
		if sample.Detection != nil {
			detected = append(detected, i)
		}
	}
	if len(detected) < 2 || frameWidth <= 0 {
		return degradedPath(samples, duration)
	}

	// Signed cumulative drift at each detected sample.
	cum := make([]float64, len(detected))
	for k := 1; k < len(detected); k++ {
		prev := samples[detected[k-1]]
		curr := samples[detected[k]]
		px, _ := prev.Detection.Center()
		cx, _ := curr.Detection.Center()
		cum[k] = cum[k-1] + (cx-px)/float64(frameWidth)*360
	}

	last := cum[len(cum)-1]
	if last == 0 {
		return degradedPath(samples, duration)
	}
	sign := 1.0
	if last < 0 {
		sign = -1.0
	}

	// Orient so angles increase, then clamp out local backtracking.
	angles := make([]float64, len(detected))
	maxAngle := 0.0
	for k := range cum {
		angle := cum[k] * sign
		if angle < maxAngle {
			angle = maxAngle
		}
		angles[k] = angle
		maxAngle = angle
	}

	points := make([]Point, len(samples))
	for i, sample := range samples {
		points[i] = Point{
			Seconds:      sample.Seconds,
			AngleDegrees: interpolateAngle(samples, detected, angles, i),
			Obstructed:   sample.Detection == nil,
		}
	}

	return Path{
		Points:          points,
		CoverageDegrees: maxAngle,
		DurationSeconds: duration,
	}
}

func degradedPath(samples []detect.Sample, duration float64) Path {
	points := make([]Point, len(samples))
	for i, sample := range samples {
		angle := 0.0
		if duration > 0 {
			angle = sample.Seconds / duration * 360
		}
		points[i] = Point{Seconds: sample.Seconds, AngleDegrees: angle, Obstructed: sample.Detection == nil}
	}
	return Path{
		Points:          points,
		CoverageDegrees: 360,
		DurationSeconds: duration,
		Degraded:        true,
	}
}

// interpolateAngle fills the angle for sample i from the surrounding
// detected samples; before the first or after the last it clamps.
func interpolateAngle(samples []detect.Sample, detected []int, angles []float64, i int) float64 {
	first := detected[0]
	last := detected[len(detected)-1]
	if i <= first {
		return angles[0]
	}
	if i >= last {
		return angles[len(angles)-1]
	}
	for k := 1; k < len(detected); k++ {
		if detected[k] < i {
			continue
		}
		lo, hi := detected[k-1], detected[k]
		if hi == i {
			return angles[k]
		}
		span := samples[hi].Seconds - samples[lo].Seconds
		if span <= 0 {
			return angles[k-1]
		}
		frac := (samples[i].Seconds - samples[lo].Seconds) / span
		return angles[k-1] + frac*(angles[k]-angles[k-1])
	}
	return angles[len(angles)-1]
}

// Instant is one selected video instant for a target spin angle.
type Instant struct {
	Index         int
	TargetAngle   float64
	Seconds       float64
	AngleDegrees  float64
	LowConfidence bool
	DuplicateOf   *int
}

// Select picks frameCount instants at equal angular steps along the path.
//
// When coverage reaches coverageFullDegrees the path is normalized to a full
// turn and every target gets its closest instant. Below that the result is a
// partial arc: targets inside the arc select normally, targets beyond it
// duplicate the nearest covered instant. A target landing on an obstructed
// instant moves to the nearest unobstructed one within toleranceDegrees, or
// stays put flagged low-confidence.
func Select(path Path, frameCount int, coverageFullDegrees, toleranceDegrees float64) []Instant {
	if frameCount <= 0 || len(path.Points) == 0 {
		return nil
	}

	full := path.Degraded || path.CoverageDegrees >= coverageFullDegrees
	scale := 1.0
	if full && path.CoverageDegrees > 0 {
		scale = 360 / path.CoverageDegrees
	}

	normalized := make([]Point, len(path.Points))
	maxAngle := 0.0
	for i, point := range path.Points {
		normalized[i] = point
		normalized[i].AngleDegrees = point.AngleDegrees * scale
		if normalized[i].AngleDegrees > maxAngle {
			maxAngle = normalized[i].AngleDegrees
		}
	}

	instants := make([]Instant, 0, frameCount)
	step := 360.0 / float64(frameCount)
	for k := 0; k < frameCount; k++ {
		target := float64(k) * step

		if !full && target > maxAngle {
			// Beyond the covered arc: duplicate the nearest covered frame.
			source := len(instants) - 1
			if source < 0 {
				source = 0
			}
			dup := instants[source]
			sourceIndex := dup.Index
			if dup.DuplicateOf != nil {
				sourceIndex = *dup.DuplicateOf
			}
			instants = append(instants, Instant{
				Index:        k,
				TargetAngle:  target,
				Seconds:      dup.Seconds,
				AngleDegrees: dup.AngleDegrees,
				DuplicateOf:  &sourceIndex,
			})
			continue
		}

		best := closestPoint(normalized, target)
		chosen := normalized[best]
		low := false
		if chosen.Obstructed {
			if alt, ok := nearestUnobstructed(normalized, target, toleranceDegrees); ok {
				chosen = normalized[alt]
			} else {
				low = true
			}
		}
		instants = append(instants, Instant{
			Index:         k,
			TargetAngle:   target,
			Seconds:       chosen.Seconds,
			AngleDegrees:  chosen.AngleDegrees,
			LowConfidence: low,
		})
	}
	return instants
}

func closestPoint(points []Point, target float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, point := range points {
		dist := math.Abs(point.AngleDegrees - target)
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return best
}

func nearestUnobstructed(points []Point, target, tolerance float64) (int, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, point := range points {
		if point.Obstructed {
			continue
		}
		dist := math.Abs(point.AngleDegrees - target)
		if dist <= tolerance && dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return best, best >= 0
}
