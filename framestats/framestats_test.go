package framestats

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pi-motion-recorder/motion"
)

var sample = []motion.FrameMetric{
	{Timestamp: 1_700_000_000_000_000, MaxBlockMotion: 12, MotionSum: 340, SADSum: 90_000},
	{Timestamp: 1_700_000_000_100_000, MaxBlockMotion: 0, MotionSum: 0, SADSum: 0},
	{Timestamp: 1_700_000_000_200_000, MaxBlockMotion: 4_294_967_295, MotionSum: 4_294_967_295, SADSum: 1},
}

func TestRoundTrip(t *testing.T) {
	got, err := Decode(Encode(sample))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(sample, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeLayout(t *testing.T) {
	data := Encode(sample[:1])

	if len(data) != HeaderSize+RecordSize {
		t.Fatalf("encoded length = %d, want %d", len(data), HeaderSize+RecordSize)
	}
	if v := binary.LittleEndian.Uint32(data[0:4]); v != Version {
		t.Errorf("version = %d, want %d", v, Version)
	}
	if c := binary.LittleEndian.Uint32(data[4:8]); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}
	if ts := binary.LittleEndian.Uint64(data[8:16]); ts != uint64(sample[0].Timestamp) {
		t.Errorf("timestamp = %d, want %d", ts, sample[0].Timestamp)
	}
	if sad := binary.LittleEndian.Uint32(data[24:28]); sad != sample[0].SADSum {
		t.Errorf("sad_sum = %d, want %d", sad, sample[0].SADSum)
	}
}

func TestDecodeVersionMismatch(t *testing.T) {
	data := Encode(sample)
	binary.LittleEndian.PutUint32(data[0:4], 1)

	got, err := Decode(data)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("records = %v, want empty non-nil slice", got)
	}
}

func TestDecodeTruncated(t *testing.T) {
	data := Encode(sample)

	// Cut the last record in half.
	got, err := Decode(data[:len(data)-RecordSize/2])
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if diff := cmp.Diff(sample[:2], got); diff != "" {
		t.Errorf("partial records mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeHugeCount(t *testing.T) {
	data := Encode(sample[:1])
	binary.LittleEndian.PutUint32(data[4:8], 0x80000001)

	got, err := Decode(data)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if diff := cmp.Diff(sample[:1], got); diff != "" {
		t.Errorf("partial records mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeShortHeader(t *testing.T) {
	got, err := Decode([]byte{2, 0, 0})
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if len(got) != 0 {
		t.Errorf("records = %v, want empty", got)
	}
}

func TestDecodeEmpty(t *testing.T) {
	got, err := Decode(Encode(nil))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("records = %v, want empty", got)
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2024-05-01T10-00-00.bin")

	if err := WriteFile(path, sample); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if diff := cmp.Diff(sample, got); diff != "" {
		t.Errorf("file round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFileTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.bin")
	data := Encode(sample)
	if err := os.WriteFile(path, data[:HeaderSize+RecordSize], 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFile(path)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
	if len(got) != 1 {
		t.Errorf("read %d records, want 1", len(got))
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Error("expected error for missing file")
	}
}
