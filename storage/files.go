package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"pi-motion-recorder/recorder"
)

// WriteCaptureInfo stores info as JSON at path.
func WriteCaptureInfo(path string, info recorder.CaptureInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to encode capture info: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write capture info: %w", err)
	}
	return nil
}

// ReadCaptureInfo loads a CaptureInfo written by WriteCaptureInfo. A missing
// file is not an error and yields nil.
func ReadCaptureInfo(path string) (*recorder.CaptureInfo, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read capture info: %w", err)
	}

	var info recorder.CaptureInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode capture info %s: %w", path, err)
	}
	return &info, nil
}
