package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"pi-motion-recorder/config"
	"pi-motion-recorder/motion"

	"go.uber.org/zap"
)

// FrameHandler receives each decoded motion frame on the vector goroutine.
type FrameHandler func(motion.Frame)

// Capture runs the camera encoder process. Its stdout carries the H.264
// bitstream, which goes to the circular buffer, and fd 3 carries the inline
// motion vectors, which go to the frame handler.
type Capture struct {
	config      config.CameraConfig
	intraPeriod int
	maxUnitSize int
	buffer      *CircularBuffer
	handler     FrameHandler
	logger      *zap.Logger

	cmd     *exec.Cmd
	stdout  io.ReadCloser
	vectors *os.File
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	isRunning bool
	mu        sync.RWMutex

	stopRequested atomic.Bool
	units         atomic.Uint64
	frames        atomic.Uint64

	errMu        sync.Mutex
	bitstreamErr error
}

// NewCapture creates a capture for the configured camera. The key frame
// interval is half the pre-roll so the buffer always holds a stream header.
func NewCapture(cfg *config.Config, buffer *CircularBuffer, handler FrameHandler, logger *zap.Logger) *Capture {
	intra := cfg.Motion.SecondsPre * cfg.Camera.FrameRate / 2
	if intra < 1 {
		intra = 1
	}
	return &Capture{
		config:      cfg.Camera,
		intraPeriod: intra,
		maxUnitSize: cfg.Limits.MaxVideoBufferMB * 1024 * 1024,
		buffer:      buffer,
		handler:     handler,
		logger:      logger,
	}
}

// Start launches the encoder process and the goroutines reading its outputs.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isRunning {
		return fmt.Errorf("capture already running")
	}

	vectorsRead, vectorsWrite, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create motion vector pipe: %w", err)
	}
	vectors, err := NewVectorReader(vectorsRead, c.config.Width, c.config.Height, func() int64 {
		return time.Now().UnixMicro()
	})
	if err != nil {
		vectorsRead.Close()
		vectorsWrite.Close()
		return err
	}

	c.stopRequested.Store(false)
	c.setBitstreamErr(nil)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	args := c.buildArgs()
	c.cmd = exec.CommandContext(c.ctx, c.config.Command, args...)
	c.cmd.ExtraFiles = []*os.File{vectorsWrite} // fd 3 in the child

	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		vectorsRead.Close()
		vectorsWrite.Close()
		return fmt.Errorf("failed to get stdout pipe from %s: %w", c.config.Command, err)
	}
	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		vectorsRead.Close()
		vectorsWrite.Close()
		return fmt.Errorf("failed to get stderr pipe from %s: %w", c.config.Command, err)
	}

	c.logger.Info("Starting camera process",
		zap.String("command", c.config.Command),
		zap.Strings("args", args))

	if err := c.cmd.Start(); err != nil {
		vectorsRead.Close()
		vectorsWrite.Close()
		c.cancel()
		return fmt.Errorf("failed to start %s: %w", c.config.Command, err)
	}
	// The child holds its own copy; closing ours lets the reader see EOF.
	vectorsWrite.Close()

	c.stdout = stdout
	c.vectors = vectorsRead
	c.isRunning = true

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		c.drainStderr(stderr)
	}()
	go func() {
		defer c.wg.Done()
		c.pumpBitstream(stdout)
	}()
	go func() {
		defer c.wg.Done()
		c.pumpVectors(vectors)
	}()
	go c.monitorProcess()

	c.logger.Info("Camera capture started")
	return nil
}

// buildArgs constructs the raspivid command line
func (c *Capture) buildArgs() []string {
	args := []string{
		"-t", "0",
		"-w", strconv.Itoa(c.config.Width),
		"-h", strconv.Itoa(c.config.Height),
		"-fps", strconv.Itoa(c.config.FrameRate),
		"-b", strconv.Itoa(c.config.BitRate),
		"-pf", "high",
		"-lev", "4.1",
		"-g", strconv.Itoa(c.intraPeriod),
		"-ih", // stream headers before every key frame
		"-n",
	}
	if c.config.SensorMode > 0 {
		args = append(args, "-md", strconv.Itoa(c.config.SensorMode))
	}
	if c.config.HFlip {
		args = append(args, "-hf")
	}
	if c.config.VFlip {
		args = append(args, "-vf")
	}
	return append(args, "-o", "-", "-x", "/dev/fd/3")
}

// pumpBitstream splits the encoder output into NAL units for the buffer
func (c *Capture) pumpBitstream(r io.Reader) {
	c.logger.Info("Bitstream loop started")
	defer c.logger.Info("Bitstream loop stopped")

	scanner := NewNALScanner(r, c.maxUnitSize)
	for scanner.Scan() {
		c.buffer.Write(NALUnit(scanner.Bytes()))
		c.units.Add(1)
	}
	if err := scanner.Err(); err != nil && !c.stopping() {
		// Nothing can be recorded without a bitstream; end the process too.
		c.logger.Error("Error reading bitstream, stopping camera process", zap.Error(err))
		c.setBitstreamErr(err)
		if c.cancel != nil {
			c.cancel()
		}
	}
}

// drainStderr logs the encoder's diagnostics until the pipe closes
func (c *Capture) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		c.logger.Warn("camera_stderr", zap.String("line", scanner.Text()))
	}
}

func (c *Capture) setBitstreamErr(err error) {
	c.errMu.Lock()
	c.bitstreamErr = err
	c.errMu.Unlock()
}

// BitstreamErr returns the error that ended the last bitstream loop, if any.
func (c *Capture) BitstreamErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.bitstreamErr
}

// pumpVectors decodes motion frames and hands them to the analyzer
func (c *Capture) pumpVectors(vectors *VectorReader) {
	c.logger.Info("Motion vector loop started", zap.Int("frame_bytes", vectors.FrameBytes()))
	defer c.logger.Info("Motion vector loop stopped")

	for {
		frame, err := vectors.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				c.logger.Info("Motion vector stream reached EOF")
			} else if !c.stopping() {
				c.logger.Error("Error reading motion vectors", zap.Error(err))
			}
			return
		}
		c.frames.Add(1)
		c.handler(frame)
	}
}

func (c *Capture) stopping() bool {
	return c.stopRequested.Load()
}

// monitorProcess monitors the camera process
func (c *Capture) monitorProcess() {
	// Wait closes the stdout pipe, so let the readers drain first.
	c.wg.Wait()
	err := c.cmd.Wait()

	c.mu.Lock()
	c.isRunning = false
	c.mu.Unlock()

	if c.stopping() {
		c.logger.Info("Camera process stopped on request")
		return
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		c.logger.Error("Camera process exited with an error",
			zap.Error(err),
			zap.Int("exit_code", exitErr.ExitCode()))
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			c.logger.Error("Camera process was terminated by a signal",
				zap.String("signal", ws.Signal().String()))
		}
	case err != nil:
		c.logger.Error("Error waiting for camera process", zap.Error(err))
	default:
		c.logger.Info("Camera process finished successfully")
	}
}

// Stop stops video capture
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isRunning {
		return nil
	}

	c.logger.Info("Stopping camera capture")
	c.stopLocked()
	return nil
}

func (c *Capture) stopLocked() {
	c.isRunning = false
	c.stopRequested.Store(true)

	// Interrupt first so raspivid can finish its last frame.
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Signal(syscall.SIGINT)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("Camera process did not exit within timeout, killing it")
		if c.cancel != nil {
			c.cancel()
		}
		if c.vectors != nil {
			_ = c.vectors.Close()
		}
		if c.stdout != nil {
			_ = c.stdout.Close()
		}
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Info("Camera capture stopped")
}

// IsRunning returns whether capture is currently running
func (c *Capture) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isRunning
}

// GetStats returns capture statistics
func (c *Capture) GetStats() map[string]interface{} {
	c.mu.RLock()
	running := c.isRunning
	c.mu.RUnlock()

	bitstreamErr := ""
	if err := c.BitstreamErr(); err != nil {
		bitstreamErr = err.Error()
	}

	return map[string]interface{}{
		"running":         running,
		"width":           c.config.Width,
		"height":          c.config.Height,
		"frame_rate":      c.config.FrameRate,
		"intra_period":    c.intraPeriod,
		"nal_units":       c.units.Load(),
		"frames":          c.frames.Load(),
		"buffer":          c.buffer.GetStats(),
		"bitstream_error": bitstreamErr,
	}
}
