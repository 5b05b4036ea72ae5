package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pi-motion-recorder/framestats"
	"pi-motion-recorder/motion"
	"pi-motion-recorder/recorder"

	"go.uber.org/zap"
)

// ErrInvalidName rejects capture names that would escape the staging directory.
var ErrInvalidName = errors.New("invalid capture name")

// File extensions of the artifacts kept per capture.
const (
	VideoExt = ".h264"
	InfoExt  = ".json"
	StatsExt = ".bin"
)

// Store persists completed captures into the staging directory and the catalog.
type Store struct {
	dir     string
	catalog *Catalog
	logger  *zap.Logger
}

// NewStore creates the staging directory if needed.
func NewStore(dir string, catalog *Catalog, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &Store{dir: dir, catalog: catalog, logger: logger}, nil
}

// Save writes <name>.json and <name>.bin next to the video and indexes the capture.
func (s *Store) Save(ctx context.Context, c recorder.Capture) error {
	name := c.Info.Name
	infoPath, err := s.Path(name, InfoExt)
	if err != nil {
		return err
	}
	statsPath, err := s.Path(name, StatsExt)
	if err != nil {
		return err
	}

	if err := WriteCaptureInfo(infoPath, c.Info); err != nil {
		return err
	}
	if err := framestats.WriteFile(statsPath, c.Stats); err != nil {
		return fmt.Errorf("failed to write frame stats: %w", err)
	}

	id, err := s.catalog.Record(ctx, c.Info, len(c.Stats))
	if err != nil {
		return err
	}

	s.logger.Info("Capture saved",
		zap.String("name", name),
		zap.String("id", id),
		zap.Int("frames", len(c.Stats)),
		zap.Float64("length_seconds", c.Info.LengthSeconds))
	return nil
}

// Info reads the stored summary of a capture, nil if there is none.
func (s *Store) Info(name string) (*recorder.CaptureInfo, error) {
	path, err := s.Path(name, InfoExt)
	if err != nil {
		return nil, err
	}
	return ReadCaptureInfo(path)
}

// Stats decodes the stored frame statistics of a capture. Like
// framestats.Decode, it may return records together with an error.
func (s *Store) Stats(name string) ([]motion.FrameMetric, error) {
	path, err := s.Path(name, StatsExt)
	if err != nil {
		return nil, err
	}
	return framestats.ReadFile(path)
}

// Catalog returns the capture index.
func (s *Store) Catalog() *Catalog {
	return s.catalog
}

// Path returns the staging path of a capture artifact.
func (s *Store) Path(name, ext string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name+ext), nil
}
