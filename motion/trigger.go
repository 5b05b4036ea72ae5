package motion

import (
	"context"
	"sync"
	"time"
)

// Trigger is a level-set motion flag shared by the analysis goroutine, which
// sets it, and the session controller, which acknowledges and clears it.
// The evaluator never clears the flag; a drop in motion leaves a pending
// trigger in place until the controller has seen it.
type Trigger struct {
	mu     sync.Mutex
	set    bool
	setAt  int64
	notify chan struct{}
}

// NewTrigger returns a cleared trigger.
func NewTrigger() *Trigger {
	return &Trigger{notify: make(chan struct{}, 1)}
}

// Set raises the flag. timestamp is the frame time that caused it and is only
// recorded on the cleared-to-set transition.
func (t *Trigger) Set(timestamp int64) {
	t.mu.Lock()
	if !t.set {
		t.set = true
		t.setAt = timestamp
	}
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

// IsSet reports whether the flag is raised.
func (t *Trigger) IsSet() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set
}

// Status returns the flag and the frame time at which it was last raised.
func (t *Trigger) Status() (bool, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.set, t.setAt
}

// Acknowledge clears the flag and reports whether it was set, along with the
// frame time that raised it. Check and clear happen atomically so a Set racing
// with the acknowledgement is never lost.
func (t *Trigger) Acknowledge() (bool, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	was, at := t.set, t.setAt
	t.set = false
	return was, at
}

// Clear drops the flag without reporting it.
func (t *Trigger) Clear() {
	t.Acknowledge()
}

// Wait blocks until the flag is set, the timeout elapses or ctx is done.
// It returns whether the flag is set.
func (t *Trigger) Wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if t.IsSet() {
			return true
		}
		select {
		case <-t.notify:
			// stale notifications after a Clear fall through to the re-check
		case <-timer.C:
			return t.IsSet()
		case <-ctx.Done():
			return false
		}
	}
}

// Evaluator applies Thresholds to measurements and raises a Trigger.
type Evaluator struct {
	thresholds Thresholds
	trigger    *Trigger
}

// NewEvaluator creates an evaluator that raises trigger.
func NewEvaluator(thresholds Thresholds, trigger *Trigger) *Evaluator {
	return &Evaluator{thresholds: thresholds, trigger: trigger}
}

// Thresholds returns the evaluator's configuration.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate raises the trigger if either the block-count rule or the frame-sum
// rule fires, and reports whether one did. It never clears the trigger.
func (e *Evaluator) Evaluate(m Measurement) bool {
	if !e.Fires(m) {
		return false
	}
	e.trigger.Set(m.Timestamp)
	return true
}

// Fires reports whether m meets either threshold rule.
func (e *Evaluator) Fires(m Measurement) bool {
	return m.ActiveBlocks >= e.thresholds.NumBlocks || m.MotionSum >= e.thresholds.PerFrame
}
