package recorder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pi-motion-recorder/motion"
)

// Controller runs capture sessions. It waits for the motion trigger while
// idle, opens a capture at the sink when it fires, extends the capture while
// motion keeps being observed, and delivers a Capture once it stops.
type Controller struct {
	config  Config
	trigger *motion.Trigger
	window  *motion.Window
	sink    VideoSink
	logger  *zap.Logger
	now     func() time.Time

	captures chan Capture
	running  atomic.Bool

	mu       sync.RWMutex
	state    State
	session  *session
	lastInfo *CaptureInfo

	completed atomic.Uint64
	abandoned atomic.Uint64
	failed    atomic.Uint64
}

// session is the state of the capture in progress.
type session struct {
	name       string
	startTime  int64 // microseconds, UTC
	startedAt  time.Time
	lastMotion time.Time
	file       VideoFile
}

// NewController validates cfg and creates an idle controller.
func NewController(cfg Config, trigger *motion.Trigger, window *motion.Window, sink VideoSink, logger *zap.Logger) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid recorder config: %w", err)
	}
	if cfg.NamePattern == "" {
		cfg.NamePattern = NamePattern
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}

	return &Controller{
		config:   cfg,
		trigger:  trigger,
		window:   window,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		captures: make(chan Capture, cfg.QueueSize),
	}, nil
}

// Captures returns the delivery queue. It is closed when Run returns.
func (c *Controller) Captures() <-chan Capture {
	return c.captures
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run is the session loop. It blocks until ctx is done; a capture in progress
// at that point is closed at the sink and discarded.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)
	defer close(c.captures)

	c.logger.Info("Capture controller started",
		zap.Duration("seconds_pre", c.config.SecondsPre),
		zap.Duration("seconds_post", c.config.SecondsPost),
		zap.Duration("max_recording_time", c.config.MaxRecordingTime))

	if c.config.Warmup > 0 {
		c.logger.Info("Waiting for camera to warm up", zap.Duration("warmup", c.config.Warmup))
		if !sleep(ctx, c.config.Warmup) {
			return nil
		}
		c.trigger.Clear()
		c.window.Clear()
	}

	for ctx.Err() == nil {
		if !c.trigger.Wait(ctx, c.config.SecondsPre) {
			continue
		}
		c.record(ctx)

		// let the pre-roll buffers refill before the next capture
		sleep(ctx, c.tickInterval())
	}

	c.logger.Info("Capture controller stopped")
	return nil
}

func (c *Controller) tickInterval() time.Duration {
	return c.config.SecondsPre / 2
}

// record drives one session from start to delivery.
func (c *Controller) record(ctx context.Context) {
	if err := c.begin(c.now()); err != nil {
		c.logger.Error("Could not start capture", zap.Error(err))
		return
	}

	for {
		if !sleep(ctx, c.tickInterval()) {
			c.abandon(ctx.Err())
			return
		}
		reason, err := c.tick(c.now())
		if err != nil {
			c.abandon(err)
			return
		}
		if reason != StopNone {
			c.logger.Info("Capture stopping", zap.Stringer("reason", reason))
			break
		}
	}

	capture, err := c.finish(c.now())
	if err != nil {
		c.logger.Error("Could not finish capture", zap.Error(err))
		return
	}

	select {
	case c.captures <- capture:
	case <-ctx.Done():
		c.logger.Warn("Capture not delivered, shutting down", zap.String("name", capture.Info.Name))
	}
}

// begin moves Idle to Recording: it acknowledges the trigger, switches the
// window to recording, opens the capture output and flushes the full
// pre-roll into it starting at a key frame.
func (c *Controller) begin(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return fmt.Errorf("cannot start capture in state %s", c.state)
	}

	_, triggeredAt := c.trigger.Acknowledge()
	preFrames := c.window.Begin()

	if triggeredAt <= 0 {
		triggeredAt = now.UnixMicro()
	}
	s := &session{
		name:       now.Format(c.config.NamePattern),
		startTime:  triggeredAt - c.config.SecondsPre.Microseconds(),
		startedAt:  now,
		lastMotion: now,
	}

	file, err := c.sink.Open(s.name)
	if err != nil {
		c.window.Take()
		c.failed.Add(1)
		return fmt.Errorf("failed to open capture %s: %w", s.name, err)
	}
	if err := file.Flush(true); err != nil {
		file.Close()
		c.window.Take()
		c.failed.Add(1)
		return fmt.Errorf("failed to write pre-roll for %s: %w", s.name, err)
	}
	s.file = file

	c.session = s
	c.state = StateRecording

	c.logger.Info("Started capture",
		zap.String("name", s.name),
		zap.Int64("start_time", s.startTime),
		zap.Int("pre_frames", preFrames))
	return nil
}

// tick runs one recording cadence step. A raised trigger is acknowledged and
// refreshes the last-motion time; the sink is flushed; then the inactivity
// and duration limits are checked.
func (c *Controller) tick(now time.Time) (StopReason, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if c.state != StateRecording || s == nil {
		return StopNone, fmt.Errorf("no capture in progress")
	}

	if seen, _ := c.trigger.Acknowledge(); seen {
		s.lastMotion = now
	}

	if err := s.file.Flush(false); err != nil {
		return StopNone, fmt.Errorf("failed to append to capture %s: %w", s.name, err)
	}

	switch {
	case now.Sub(s.lastMotion) > c.config.SecondsPost:
		return StopInactive, nil
	case now.Sub(s.startedAt) > c.config.MaxRecordingTime:
		return StopMaxDuration, nil
	}
	return StopNone, nil
}

// finish moves Recording to Idle and builds the capture from the window's
// statistics.
func (c *Controller) finish(now time.Time) (Capture, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if c.state != StateRecording || s == nil {
		return Capture{}, fmt.Errorf("no capture in progress")
	}

	c.session = nil
	c.state = StateIdle

	if err := s.file.Close(); err != nil {
		c.window.Take()
		c.abandoned.Add(1)
		return Capture{}, fmt.Errorf("failed to close capture %s: %w", s.name, err)
	}

	stats := c.window.Take()
	info := summarize(s.name, s.startTime, now.UnixMicro(), stats)
	c.lastInfo = &info
	c.completed.Add(1)

	c.logger.Info("Finished capture",
		zap.String("name", info.Name),
		zap.Float64("length_seconds", info.LengthSeconds),
		zap.Uint32("max_motion", info.MaxMotion),
		zap.Uint32("max_sad", info.MaxSAD),
		zap.Int("frames", len(stats)))

	return Capture{Info: info, Stats: stats}, nil
}

// abandon drops the capture in progress without delivering anything.
func (c *Controller) abandon(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return
	}
	c.session = nil
	c.state = StateIdle

	if err := s.file.Close(); err != nil {
		c.logger.Warn("Error closing abandoned capture", zap.String("name", s.name), zap.Error(err))
	}
	c.window.Take()
	c.abandoned.Add(1)

	c.logger.Error("Abandoned capture", zap.String("name", s.name), zap.Error(cause))
}

// GetStats returns the controller status for the web API.
func (c *Controller) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := map[string]interface{}{
		"state":              c.state.String(),
		"running":            c.running.Load(),
		"captures_completed": c.completed.Load(),
		"captures_abandoned": c.abandoned.Load(),
		"captures_failed":    c.failed.Load(),
		"queued":             len(c.captures),
	}
	if c.session != nil {
		stats["current"] = map[string]interface{}{
			"name":        c.session.name,
			"start_time":  c.session.startTime,
			"last_motion": c.session.lastMotion.UTC().Format(time.RFC3339),
		}
	}
	if c.lastInfo != nil {
		stats["last_capture"] = *c.lastInfo
	}
	return stats
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
