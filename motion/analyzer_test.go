package motion

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

func newTestAnalyzer(t *testing.T, preFrames int, th Thresholds) (*Analyzer, *Trigger, *Window) {
	trigger := NewTrigger()
	window := NewWindow(preFrames)
	a := NewAnalyzer(NewEvaluator(th, trigger), window, 16, 10, zaptest.NewLogger(t))
	return a, trigger, window
}

// quietFrame has a motion sum of 4 spread over four blocks of magnitude 1.
func quietFrame(ts int64) Frame {
	return frameOf(ts, Block{X: 1}, Block{Y: 1}, Block{X: -1}, Block{Y: -1, SAD: 3})
}

// TestAnalyzerPreRollScenario feeds a 10 fps stream below threshold, then a
// frame just above the per-frame threshold
func TestAnalyzerPreRollScenario(t *testing.T) {
	th := Thresholds{PerBlock: 50, NumBlocks: 10, PerFrame: 200}
	a, trigger, window := newTestAnalyzer(t, 100, th)

	const frameInterval = 100_000 // 10 fps in microseconds
	ts := int64(1_700_000_000_000_000)
	for i := 0; i < 150; i++ {
		a.Analyze(quietFrame(ts))
		ts += frameInterval
	}
	if trigger.IsSet() {
		t.Fatal("trigger set by frames below both thresholds")
	}

	// motion_sum = per_frame_threshold + 1
	a.Analyze(frameOf(ts, Block{X: 201}))
	set, at := trigger.Status()
	if !set {
		t.Fatal("trigger not set by frame above threshold")
	}
	if at != ts {
		t.Errorf("trigger time = %d, want %d", at, ts)
	}

	if n := window.Begin(); n != 100 {
		t.Errorf("active list length = %d, want 100", n)
	}
	stats := window.Take()
	if stats[len(stats)-1].Timestamp != ts {
		t.Errorf("last pre-roll record = %d, want triggering frame %d", stats[len(stats)-1].Timestamp, ts)
	}

	got := a.GetStats()
	if got.FramesAnalyzed != 151 {
		t.Errorf("FramesAnalyzed = %d, want 151", got.FramesAnalyzed)
	}
	if got.FramesTriggered != 1 {
		t.Errorf("FramesTriggered = %d, want 1", got.FramesTriggered)
	}
}

// TestAnalyzerSkipsUntimedFrames verifies skipped frames leave no trace
func TestAnalyzerSkipsUntimedFrames(t *testing.T) {
	a, trigger, window := newTestAnalyzer(t, 10, Thresholds{PerBlock: 1, NumBlocks: 1, PerFrame: 1})

	frame := frameOf(0, Block{X: 100, Y: 100})
	frame.HasTimestamp = false
	a.Analyze(frame)

	if trigger.IsSet() {
		t.Error("untimed frame raised the trigger")
	}
	if window.Len() != 0 {
		t.Errorf("window holds %d records, want 0", window.Len())
	}
	if got := a.GetStats().FramesSkipped; got != 1 {
		t.Errorf("FramesSkipped = %d, want 1", got)
	}
}

// TestAnalyzerAppendsWhileRecording verifies frames flow into the active list
func TestAnalyzerAppendsWhileRecording(t *testing.T) {
	a, _, window := newTestAnalyzer(t, 10, Thresholds{PerBlock: 50, NumBlocks: 10, PerFrame: 1000})

	a.Analyze(quietFrame(1))
	window.Begin()
	a.Analyze(quietFrame(2))
	a.Analyze(quietFrame(3))

	if got := window.Take(); len(got) != 3 {
		t.Errorf("session holds %d records, want 3", len(got))
	}
}

// TestAnalyzerPerBlockThreshold checks that the per-block threshold of the
// evaluator's configuration decides which blocks count toward NumBlocks
func TestAnalyzerPerBlockThreshold(t *testing.T) {
	// Two blocks of magnitude 10, far below the per-frame threshold.
	frame := frameOf(1, Block{X: 10}, Block{Y: 10}, Block{})

	cases := []struct {
		perBlock float64
		want     bool
	}{
		{perBlock: 5, want: true},
		{perBlock: 50, want: false},
	}
	for _, tc := range cases {
		a, trigger, _ := newTestAnalyzer(t, 10, Thresholds{PerBlock: tc.perBlock, NumBlocks: 2, PerFrame: 1 << 20})
		a.Analyze(frame)
		if got := trigger.IsSet(); got != tc.want {
			t.Errorf("PerBlock %v: trigger set = %v, want %v", tc.perBlock, got, tc.want)
		}
	}
}
