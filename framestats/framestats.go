// Package framestats reads and writes per-frame motion statistics files.
//
// Layout, little-endian:
//
//	header  {version u32, count u32}
//	record  {timestamp u64, max_block_motion u32, motion_sum u32, sad_sum u32} x count
package framestats

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"pi-motion-recorder/motion"
)

const (
	// Version is the only file version this package reads and writes.
	Version uint32 = 2

	HeaderSize = 8
	RecordSize = 20
)

var (
	// ErrVersionMismatch is returned when a file has a different version.
	ErrVersionMismatch = errors.New("unexpected frame stats version")
	// ErrTruncated is returned when a file ends before its declared count.
	ErrTruncated = errors.New("frame stats truncated")
)

// Encode serializes records into the versioned binary layout.
func Encode(records []motion.FrameMetric) []byte {
	buf := make([]byte, HeaderSize+RecordSize*len(records))
	binary.LittleEndian.PutUint32(buf[0:4], Version)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(records)))

	off := HeaderSize
	for _, r := range records {
		binary.LittleEndian.PutUint64(buf[off:], uint64(r.Timestamp))
		binary.LittleEndian.PutUint32(buf[off+8:], r.MaxBlockMotion)
		binary.LittleEndian.PutUint32(buf[off+12:], r.MotionSum)
		binary.LittleEndian.PutUint32(buf[off+16:], r.SADSum)
		off += RecordSize
	}
	return buf
}

// Decode parses data produced by Encode.
//
// Errors are diagnostics, not failures: a version mismatch returns an empty
// slice with ErrVersionMismatch, and input that ends early returns every
// complete record read so far with ErrTruncated.
func Decode(data []byte) ([]motion.FrameMetric, error) {
	records := []motion.FrameMetric{}
	if len(data) < HeaderSize {
		return records, fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncated, HeaderSize, len(data))
	}

	version := binary.LittleEndian.Uint32(data[0:4])
	if version != Version {
		return records, fmt.Errorf("%w: expected %d, got %d", ErrVersionMismatch, Version, version)
	}
	// The count stays unsigned until clamped: on 32-bit targets a large
	// value would wrap negative as int.
	count := uint64(binary.LittleEndian.Uint32(data[4:8]))

	body := data[HeaderSize:]
	available := uint64(len(body) / RecordSize)
	n := int(min(count, available))

	records = make([]motion.FrameMetric, 0, n)
	for i := 0; i < n; i++ {
		r := body[i*RecordSize:]
		records = append(records, motion.FrameMetric{
			Timestamp:      int64(binary.LittleEndian.Uint64(r[0:8])),
			MaxBlockMotion: binary.LittleEndian.Uint32(r[8:12]),
			MotionSum:      binary.LittleEndian.Uint32(r[12:16]),
			SADSum:         binary.LittleEndian.Uint32(r[16:20]),
		})
	}

	if uint64(n) < count {
		return records, fmt.Errorf("%w: read %d of %d records", ErrTruncated, n, count)
	}
	return records, nil
}

// WriteFile encodes records to path.
func WriteFile(path string, records []motion.FrameMetric) error {
	if err := os.WriteFile(path, Encode(records), 0644); err != nil {
		return fmt.Errorf("failed to write frame stats: %w", err)
	}
	return nil
}

// ReadFile decodes the stats file at path. See Decode for the partial-result
// semantics; an error opening the file returns nil records.
func ReadFile(path string) ([]motion.FrameMetric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame stats: %w", err)
	}
	records, err := Decode(data)
	if err != nil {
		return records, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}
