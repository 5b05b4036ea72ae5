package motion

import "math"

// Extractor reduces raw motion-vector frames to FrameMetric values.
//
// It keeps a magnitude scratch buffer that is reused across calls so the
// per-frame path does not allocate once the buffer has grown to the grid size.
// An Extractor is not safe for concurrent use; it belongs to the analysis
// goroutine.
type Extractor struct {
	blockThreshold float64
	magnitudes     []float64
}

// NewExtractor creates an extractor. expectedBlocks pre-sizes the scratch
// buffer and may be zero.
func NewExtractor(blockThreshold float64, expectedBlocks int) *Extractor {
	if expectedBlocks < 0 {
		expectedBlocks = 0
	}
	return &Extractor{
		blockThreshold: blockThreshold,
		magnitudes:     make([]float64, 0, expectedBlocks),
	}
}

// Extract computes the metrics of frame. It returns false for frames without a
// usable timestamp; those are skipped rather than recorded at time zero.
func (e *Extractor) Extract(frame Frame) (Measurement, bool) {
	if !frame.HasTimestamp || frame.Timestamp < 0 {
		return Measurement{}, false
	}

	n := len(frame.Blocks)
	if cap(e.magnitudes) < n {
		e.magnitudes = make([]float64, n)
	}
	mags := e.magnitudes[:n]

	var sad uint64
	for i, b := range frame.Blocks {
		x, y := float64(b.X), float64(b.Y)
		mags[i] = math.Sqrt(x*x + y*y)
		sad += uint64(b.SAD)
	}

	var maxMag, sum float64
	active := 0
	for _, m := range mags {
		sum += m
		if m > maxMag {
			maxMag = m
		}
		if m > e.blockThreshold {
			active++
		}
	}

	return Measurement{
		FrameMetric: FrameMetric{
			Timestamp:      frame.Timestamp,
			MaxBlockMotion: saturate(math.Round(maxMag)),
			MotionSum:      saturate(math.Round(sum)),
			SADSum:         saturate(float64(sad)),
		},
		ActiveBlocks: active,
	}, true
}

func saturate(v float64) uint32 {
	switch {
	case v <= 0:
		return 0
	case v >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(v)
}
