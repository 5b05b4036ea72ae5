package camera

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pi-motion-recorder/config"
	"pi-motion-recorder/motion"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestCapture(t *testing.T, cfg *config.Config, handler FrameHandler) *Capture {
	t.Helper()
	buf, err := NewCircularBuffer(t.TempDir(), 11*time.Second, 1<<20, zaptest.NewLogger(t))
	require.NoError(t, err)
	return NewCapture(cfg, buf, handler, zaptest.NewLogger(t))
}

func TestBuildArgs(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Width = 1280
	cfg.Camera.Height = 960
	cfg.Camera.HFlip = true
	cfg.Motion.SecondsPre = 10
	cfg.Camera.FrameRate = 10

	c := newTestCapture(t, cfg, func(motion.Frame) {})
	args := c.buildArgs()

	want := []string{
		"-t", "0",
		"-w", "1280",
		"-h", "960",
		"-fps", "10",
		"-b", "2000000",
		"-pf", "high",
		"-lev", "4.1",
		"-g", "50",
		"-ih",
		"-n",
		"-md", "4",
		"-hf",
		"-o", "-", "-x", "/dev/fd/3",
	}
	assert.Equal(t, want, args)
}

func TestIntraPeriodFloor(t *testing.T) {
	cfg := config.Default()
	cfg.Motion.SecondsPre = 1
	cfg.Camera.FrameRate = 1

	c := newTestCapture(t, cfg, func(motion.Frame) {})
	assert.Equal(t, 1, c.intraPeriod)
}

func TestPumpBitstreamFillsBuffer(t *testing.T) {
	c := newTestCapture(t, config.Default(), func(motion.Frame) {})

	var stream bytes.Buffer
	stream.Write(nal(0x67, 1))
	stream.Write(nal(0x68, 2))
	stream.Write(nal(0x65, 3))
	c.pumpBitstream(&stream)

	assert.Equal(t, uint64(3), c.units.Load())
	assert.Equal(t, 3, c.buffer.GetStats()["units"])
}

func TestPumpVectorsDeliversFrames(t *testing.T) {
	var mu sync.Mutex
	var sums []int
	c := newTestCapture(t, config.Default(), func(f motion.Frame) {
		mu.Lock()
		defer mu.Unlock()
		sum := 0
		for _, b := range f.Blocks {
			sum += int(b.X)
		}
		sums = append(sums, sum)
	})

	grid := []motion.Block{{X: 1}, {X: 2}, {X: 3}}
	stream := append(encodeBlocks(grid), encodeBlocks(grid)...)
	vectors, err := NewVectorReader(bytes.NewReader(stream), 32, 16, func() int64 { return 42 })
	require.NoError(t, err)

	c.pumpVectors(vectors)

	assert.Equal(t, []int{6, 6}, sums)
	assert.Equal(t, uint64(2), c.frames.Load())
}

func TestStartMissingCommand(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Command = "/nonexistent/raspivid"

	c := newTestCapture(t, cfg, func(motion.Frame) {})
	assert.Error(t, c.Start())
	assert.False(t, c.IsRunning())
	assert.NoError(t, c.Stop())
}

func TestCaptureGetStats(t *testing.T) {
	c := newTestCapture(t, config.Default(), func(motion.Frame) {})
	stats := c.GetStats()
	assert.Equal(t, false, stats["running"])
	assert.Equal(t, 50, stats["intra_period"])
	assert.Contains(t, stats, "buffer")
}

func TestPumpBitstreamOversizedUnit(t *testing.T) {
	c := newTestCapture(t, config.Default(), func(motion.Frame) {})
	c.maxUnitSize = 16
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.ctx, c.cancel = ctx, cancel

	var stream bytes.Buffer
	stream.Write(nal(0x67, 1))
	stream.Write(nal(0x65, make([]byte, 64)...))
	stream.Write(nal(0x68, 2))
	c.pumpBitstream(&stream)

	assert.Equal(t, uint64(1), c.units.Load())
	assert.ErrorIs(t, c.BitstreamErr(), bufio.ErrTooLong)
	assert.Error(t, ctx.Err(), "camera process context not cancelled")
	assert.Equal(t, bufio.ErrTooLong.Error(), c.GetStats()["bitstream_error"])
}

func TestPumpBitstreamStoppingKeepsNoError(t *testing.T) {
	c := newTestCapture(t, config.Default(), func(motion.Frame) {})
	c.maxUnitSize = 16
	c.stopRequested.Store(true)

	c.pumpBitstream(bytes.NewReader(nal(0x65, make([]byte, 64)...)))

	assert.NoError(t, c.BitstreamErr())
	assert.Equal(t, "", c.GetStats()["bitstream_error"])
}

func TestDrainStderr(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := newTestCapture(t, config.Default(), func(motion.Frame) {})
	c.logger = zap.New(core)

	c.drainStderr(strings.NewReader("mmal: camera not detected\nmmal: main: Failed to create camera component\n"))

	entries := logs.FilterMessage("camera_stderr").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "mmal: camera not detected", entries[0].ContextMap()["line"])
}
