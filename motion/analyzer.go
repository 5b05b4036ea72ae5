package motion

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Analyzer is the per-frame entry point called from the encoder callback.
// It extracts metrics, stores them in the window and evaluates the trigger.
// It never performs I/O or waits on the session controller.
type Analyzer struct {
	extractor *Extractor
	evaluator *Evaluator
	window    *Window
	logger    *zap.Logger

	logInterval uint64
	frames      atomic.Uint64
	skipped     atomic.Uint64
	triggered   atomic.Uint64
}

// AnalyzerStats are running counters of the analysis path.
type AnalyzerStats struct {
	FramesAnalyzed  uint64 `json:"frames_analyzed"`
	FramesSkipped   uint64 `json:"frames_skipped"`
	FramesTriggered uint64 `json:"frames_triggered"`
}

// NewAnalyzer wires an evaluator and window together. The extractor counts
// active blocks with the evaluator's per-block threshold; expectedBlocks
// pre-sizes its scratch buffer. Every logInterval frames a debug line with
// the latest metrics is written; zero disables it.
func NewAnalyzer(evaluator *Evaluator, window *Window, expectedBlocks, logInterval int, logger *zap.Logger) *Analyzer {
	if logInterval < 0 {
		logInterval = 0
	}
	return &Analyzer{
		extractor:   NewExtractor(evaluator.Thresholds().PerBlock, expectedBlocks),
		evaluator:   evaluator,
		window:      window,
		logger:      logger,
		logInterval: uint64(logInterval),
	}
}

// Analyze processes one frame. The metric is appended before the trigger is
// raised, so a controller that observes the trigger also sees the frame.
func (a *Analyzer) Analyze(frame Frame) {
	m, ok := a.extractor.Extract(frame)
	if !ok {
		a.skipped.Add(1)
		return
	}

	a.window.Append(m.FrameMetric)
	if a.evaluator.Evaluate(m) {
		a.triggered.Add(1)
	}

	n := a.frames.Add(1)
	if a.logInterval > 0 && n%a.logInterval == 0 {
		a.logger.Debug("Frame analyzed",
			zap.Uint64("frame_count", n),
			zap.Int64("timestamp", m.Timestamp),
			zap.Uint32("max_block_motion", m.MaxBlockMotion),
			zap.Uint32("motion_sum", m.MotionSum),
			zap.Uint32("sad_sum", m.SADSum),
			zap.Int("active_blocks", m.ActiveBlocks))
	}
}

// GetStats returns the analysis counters.
func (a *Analyzer) GetStats() AnalyzerStats {
	return AnalyzerStats{
		FramesAnalyzed:  a.frames.Load(),
		FramesSkipped:   a.skipped.Load(),
		FramesTriggered: a.triggered.Load(),
	}
}
