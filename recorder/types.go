package recorder

import (
	"errors"
	"fmt"
	"time"

	"pi-motion-recorder/motion"
)

// NamePattern is the default layout for capture names.
const NamePattern = "2006-01-02T15-04-05"

// ErrAlreadyRunning is returned by Run when the controller loop is active.
var ErrAlreadyRunning = errors.New("controller already running")

// CaptureInfo summarizes one completed capture.
type CaptureInfo struct {
	Name          string  `json:"name"`
	StartTime     int64   `json:"start_time"` // microseconds since Unix epoch, UTC
	LengthSeconds float64 `json:"length_seconds"`
	MaxMotion     uint32  `json:"max_motion"`
	MaxSAD        uint32  `json:"max_sad"`
}

// Capture is handed to consumers as one unit: the summary and the per-frame
// statistics it was computed from.
type Capture struct {
	Info  CaptureInfo
	Stats []motion.FrameMetric
}

// VideoSink persists the encoder's buffered bitstream. The controller never
// touches the bytes itself.
type VideoSink interface {
	// Open creates the output for a new capture.
	Open(name string) (VideoFile, error)
}

// VideoFile is one open capture output.
type VideoFile interface {
	// Flush appends everything buffered since the last flush. With keyframe
	// set, output starts at the oldest buffered key frame header.
	Flush(keyframe bool) error
	Close() error
}

// Config holds the session timing parameters.
type Config struct {
	// SecondsPre is the pre-roll length. The idle trigger wait uses it as its
	// timeout and recording ticks run every SecondsPre/2.
	SecondsPre time.Duration
	// SecondsPost is how long a capture continues after the last motion.
	SecondsPost time.Duration
	// MaxRecordingTime caps a single capture.
	MaxRecordingTime time.Duration
	// Warmup delays the first trigger wait and is followed by a reset of the
	// trigger and statistics.
	Warmup time.Duration
	// QueueSize bounds the delivery queue.
	QueueSize int
	// NamePattern is a time layout for capture names.
	NamePattern string
}

func (c Config) validate() error {
	switch {
	case c.SecondsPre <= 0:
		return fmt.Errorf("seconds_pre must be positive, got %v", c.SecondsPre)
	case c.SecondsPost <= 0:
		return fmt.Errorf("seconds_post must be positive, got %v", c.SecondsPost)
	case c.MaxRecordingTime <= 0:
		return fmt.Errorf("max_recording_time must be positive, got %v", c.MaxRecordingTime)
	case c.Warmup < 0:
		return fmt.Errorf("warmup must not be negative, got %v", c.Warmup)
	}
	return nil
}

// State is the controller's session state.
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StopReason says why a recording tick ended the session.
type StopReason int

const (
	StopNone StopReason = iota
	StopInactive
	StopMaxDuration
)

func (r StopReason) String() string {
	switch r {
	case StopNone:
		return "none"
	case StopInactive:
		return "inactive"
	case StopMaxDuration:
		return "max_duration"
	default:
		return fmt.Sprintf("StopReason(%d)", int(r))
	}
}

// summarize builds the capture summary. An empty stats list yields zero
// motion and SAD.
func summarize(name string, startTime, endTime int64, stats []motion.FrameMetric) CaptureInfo {
	info := CaptureInfo{
		Name:          name,
		StartTime:     startTime,
		LengthSeconds: float64(endTime-startTime) / 1e6,
	}
	for _, m := range stats {
		if m.MotionSum > info.MaxMotion {
			info.MaxMotion = m.MotionSum
		}
		if m.SADSum > info.MaxSAD {
			info.MaxSAD = m.SADSum
		}
	}
	return info
}
