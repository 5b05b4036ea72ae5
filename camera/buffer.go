package camera

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pi-motion-recorder/recorder"

	"go.uber.org/zap"
)

type bufferedUnit struct {
	data     NALUnit
	received time.Time
}

// CircularBuffer keeps the most recent encoder output in memory so a capture
// can start with video from before the trigger. It is the recorder's VideoSink.
type CircularBuffer struct {
	dir       string
	retention time.Duration
	maxBytes  int
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	units   []bufferedUnit
	size    int
	evicted uint64
	written uint64
}

// NewCircularBuffer creates a buffer retaining retention worth of units, at most
// maxBytes, and writing capture files into dir.
func NewCircularBuffer(dir string, retention time.Duration, maxBytes int, logger *zap.Logger) (*CircularBuffer, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %v", retention)
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max bytes must be positive, got %d", maxBytes)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory: %w", err)
	}
	return &CircularBuffer{
		dir:       dir,
		retention: retention,
		maxBytes:  maxBytes,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Write stores a copy of unit, evicting the oldest units past the retention
// time or the byte cap.
func (b *CircularBuffer) Write(unit NALUnit) {
	data := make(NALUnit, len(unit))
	copy(data, unit)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.units = append(b.units, bufferedUnit{data: data, received: now})
	b.size += len(data)

	cutoff := now.Add(-b.retention)
	drop := 0
	size := b.size
	for drop < len(b.units)-1 {
		u := b.units[drop]
		if size <= b.maxBytes && !u.received.Before(cutoff) {
			break
		}
		size -= len(u.data)
		drop++
	}
	if drop > 0 {
		b.evicted += uint64(drop)
		b.size = size
		n := copy(b.units, b.units[drop:])
		clear(b.units[n:])
		b.units = b.units[:n]
	}
}

// drain removes every buffered unit and returns the ones to write. With
// fromKeyframe set the result starts at the oldest SPS; ok is false when
// there is none and nothing is returned.
func (b *CircularBuffer) drain(fromKeyframe bool) (units []NALUnit, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if fromKeyframe {
		start = -1
		for i, u := range b.units {
			if u.data.IsSPS() {
				start = i
				break
			}
		}
	}

	if start >= 0 {
		units = make([]NALUnit, 0, len(b.units)-start)
		for _, u := range b.units[start:] {
			units = append(units, u.data)
		}
	}

	clear(b.units)
	b.units = b.units[:0]
	b.size = 0
	return units, start >= 0
}

// Open creates <dir>/<name>.h264 for a new capture.
func (b *CircularBuffer) Open(name string) (recorder.VideoFile, error) {
	path := filepath.Join(b.dir, name+".h264")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create video file: %w", err)
	}
	b.logger.Debug("Video file opened", zap.String("path", path))
	return &videoFile{
		buffer: b,
		file:   f,
		w:      bufio.NewWriterSize(f, 256*1024),
	}, nil
}

// GetStats returns buffer statistics
func (b *CircularBuffer) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"units":         len(b.units),
		"bytes":         b.size,
		"max_bytes":     b.maxBytes,
		"evicted_units": b.evicted,
		"written_bytes": b.written,
	}
}

type videoFile struct {
	buffer *CircularBuffer
	file   *os.File
	w      *bufio.Writer
	// needKeyframe stays set until a flush found an SPS to start from.
	needKeyframe bool
	written      int
}

func (v *videoFile) Flush(keyframe bool) error {
	if keyframe {
		v.needKeyframe = true
	}

	units, ok := v.buffer.drain(v.needKeyframe)
	if v.needKeyframe && !ok {
		v.buffer.logger.Warn("No key frame buffered, skipping flush", zap.String("file", v.file.Name()))
		return nil
	}
	v.needKeyframe = false

	n := 0
	for _, u := range units {
		if _, err := v.w.Write(u); err != nil {
			return fmt.Errorf("failed to write video data: %w", err)
		}
		n += len(u)
	}
	if err := v.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush video data: %w", err)
	}

	v.written += n
	v.buffer.mu.Lock()
	v.buffer.written += uint64(n)
	v.buffer.mu.Unlock()
	return nil
}

func (v *videoFile) Close() error {
	flushErr := v.w.Flush()
	if err := v.file.Close(); err != nil {
		return fmt.Errorf("failed to close video file: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("failed to flush video data: %w", flushErr)
	}
	v.buffer.logger.Debug("Video file closed",
		zap.String("path", v.file.Name()),
		zap.Int("bytes", v.written))
	return nil
}
