package motion

import "sync"

type windowMode int

const (
	windowIdle windowMode = iota
	windowRecording
)

// Window holds per-frame statistics around a capture.
//
// While idle, metrics go into a fixed-capacity pre-roll ring and the oldest
// record is dropped on overflow. Begin copies the ring, oldest first, into a
// fresh active list and empties the ring; appends then grow the active list
// until Take hands it to the caller. A single mutex guards every operation.
type Window struct {
	mu   sync.Mutex
	mode windowMode

	ring []FrameMetric
	head int // index of the oldest record
	size int

	active []FrameMetric
}

// NewWindow creates a window whose pre-roll ring holds preFrames records.
func NewWindow(preFrames int) *Window {
	if preFrames < 1 {
		preFrames = 1
	}
	return &Window{ring: make([]FrameMetric, preFrames)}
}

// Capacity returns the pre-roll ring size.
func (w *Window) Capacity() int {
	return len(w.ring)
}

// Append stores m in whichever store is authoritative for the current mode.
func (w *Window) Append(m FrameMetric) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mode == windowRecording {
		w.active = append(w.active, m)
		return
	}

	capacity := len(w.ring)
	if w.size < capacity {
		w.ring[(w.head+w.size)%capacity] = m
		w.size++
		return
	}
	w.ring[w.head] = m
	w.head = (w.head + 1) % capacity
}

// Begin switches to recording. The active list starts as a copy of the ring
// contents in chronological order, and the ring is emptied. It returns the
// active list length. Calling Begin while already recording changes nothing.
func (w *Window) Begin() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mode == windowRecording {
		return len(w.active)
	}
	w.active = w.ringLocked()
	w.resetRingLocked()
	w.mode = windowRecording
	return len(w.active)
}

// Take switches back to idle and returns the active list. The window keeps no
// reference to the returned slice. Take while idle returns nil and empties the
// ring.
func (w *Window) Take() []FrameMetric {
	w.mu.Lock()
	defer w.mu.Unlock()

	taken := w.active
	w.active = nil
	w.mode = windowIdle
	w.resetRingLocked()
	return taken
}

// Clear drops all statistics and returns to idle.
func (w *Window) Clear() {
	w.Take()
}

// Recording reports whether appends go to the active list.
func (w *Window) Recording() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode == windowRecording
}

// PreRoll returns a copy of the ring contents, oldest first.
func (w *Window) PreRoll() []FrameMetric {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ringLocked()
}

// Len returns the number of records in the authoritative store.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode == windowRecording {
		return len(w.active)
	}
	return w.size
}

func (w *Window) ringLocked() []FrameMetric {
	out := make([]FrameMetric, w.size)
	capacity := len(w.ring)
	for i := 0; i < w.size; i++ {
		out[i] = w.ring[(w.head+i)%capacity]
	}
	return out
}

func (w *Window) resetRingLocked() {
	w.head = 0
	w.size = 0
}
