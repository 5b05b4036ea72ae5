package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"pi-motion-recorder/camera"
	"pi-motion-recorder/config"
	"pi-motion-recorder/motion"
	"pi-motion-recorder/recorder"
	"pi-motion-recorder/storage"
	"pi-motion-recorder/web"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultConfigPath = "config.toml"
	AppName           = "Pi Motion Recorder"
	AppVersion        = "1.0.0"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger

	// Motion pipeline
	trigger    *motion.Trigger
	window     *motion.Window
	analyzer   *motion.Analyzer
	controller *recorder.Controller

	// Collaborators
	buffer    *camera.CircularBuffer
	capture   *camera.Capture
	catalog   *storage.Catalog
	store     *storage.Store
	hub       *web.Hub
	webServer *web.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	// Parse command line flags
	var (
		configPath = flag.String("config", DefaultConfigPath, "Path to configuration file")
		logLevel   = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		version    = flag.Bool("version", false, "Show version information")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *help {
		fmt.Printf("%s v%s\n\n", AppName, AppVersion)
		fmt.Println("Records H.264 video with pre-roll whenever the encoder's motion vectors show activity")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	logger, err := createLogger(*logLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Pi Motion Recorder",
		zap.String("version", AppVersion),
		zap.String("go_version", runtime.Version()),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.Int("web_port", cfg.Server.WebPort),
		zap.Int("seconds_pre", cfg.Motion.SecondsPre),
		zap.Int("seconds_post", cfg.Motion.SecondsPost),
		zap.Int("pre_frames", cfg.PreFrames()),
		zap.String("staging_dir", cfg.Storage.StagingDir))

	app, err := NewApplication(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create application", zap.Error(err))
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop(context.Background())
		logger.Fatal("Failed to start application", zap.Error(err))
	}

	sig := <-signalCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Timeouts.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Shutdown complete")
}

// NewApplication builds the motion pipeline and its collaborators
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	a.trigger = motion.NewTrigger()
	a.window = motion.NewWindow(cfg.PreFrames())
	gridBlocks := (cfg.Camera.Width/16 + 1) * (cfg.Camera.Height / 16)
	evaluator := motion.NewEvaluator(motion.Thresholds{
		PerBlock:  cfg.Motion.PerBlockThreshold,
		NumBlocks: cfg.Motion.NumThresholdBlocks,
		PerFrame:  uint32(cfg.Motion.PerFrameThreshold),
	}, a.trigger)
	a.analyzer = motion.NewAnalyzer(evaluator, a.window, gridBlocks, cfg.Logging.FrameLogInterval, logger.Named("motion"))

	retention := time.Duration(cfg.Motion.SecondsPre+1) * time.Second
	buffer, err := camera.NewCircularBuffer(cfg.Storage.StagingDir, retention, cfg.VideoBufferBytes(), logger.Named("buffer"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create video buffer: %w", err)
	}
	a.buffer = buffer

	a.controller, err = recorder.NewController(recorder.Config{
		SecondsPre:       cfg.Motion.SecondsPreDuration(),
		SecondsPost:      cfg.Motion.SecondsPostDuration(),
		MaxRecordingTime: cfg.Motion.MaxRecordingDuration(),
		Warmup:           time.Duration(cfg.Timeouts.WarmupMs) * time.Millisecond,
		QueueSize:        cfg.Buffers.CaptureQueueSize,
		NamePattern:      cfg.Storage.NamePattern,
	}, a.trigger, a.window, buffer, logger.Named("recorder"))
	if err != nil {
		cancel()
		return nil, err
	}

	a.capture = camera.NewCapture(cfg, buffer, a.analyzer.Analyze, logger.Named("camera"))

	a.catalog, err = storage.OpenCatalog(cfg.Storage.CatalogPath)
	if err != nil {
		cancel()
		return nil, err
	}
	a.store, err = storage.NewStore(cfg.Storage.StagingDir, a.catalog, logger.Named("storage"))
	if err != nil {
		a.catalog.Close()
		cancel()
		return nil, err
	}

	a.hub = web.NewHub(cfg.Server.AllowedOrigins, cfg.Buffers.WebSocketSendBuffer, logger.Named("feed"))
	a.webServer = web.NewServer(cfg, a.store, a.hub, logger.Named("web"))

	handlers := a.webServer.Handlers()
	handlers.AddStatusSource("recorder", func() interface{} { return a.controller.GetStats() })
	handlers.AddStatusSource("analyzer", func() interface{} { return a.analyzer.GetStats() })
	handlers.AddStatusSource("camera", func() interface{} { return a.capture.GetStats() })

	return a, nil
}

// Start starts all application components
func (a *Application) Start() error {
	a.logger.Info("Starting application components")

	if err := a.webServer.Start(); err != nil {
		return fmt.Errorf("failed to start web server: %w", err)
	}

	a.wg.Add(2)
	go a.deliverCaptures()
	go func() {
		defer a.wg.Done()
		if err := a.controller.Run(a.ctx); err != nil {
			a.logger.Error("Capture controller failed", zap.Error(err))
		}
	}()

	if err := a.capture.Start(); err != nil {
		return fmt.Errorf("failed to start camera: %w", err)
	}

	a.logger.Info("Application started successfully",
		zap.String("web_address", a.webServer.Addr()))
	return nil
}

// deliverCaptures persists and announces each completed capture until the
// controller closes its queue.
func (a *Application) deliverCaptures() {
	defer a.wg.Done()

	for c := range a.controller.Captures() {
		// Queued captures are still saved during shutdown.
		if err := a.store.Save(context.Background(), c); err != nil {
			a.logger.Error("Failed to save capture", zap.String("name", c.Info.Name), zap.Error(err))
			continue
		}
		a.hub.Publish(c.Info)
	}
}

// Stop gracefully stops all application components
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("Stopping application")

	if err := a.capture.Stop(); err != nil {
		a.logger.Error("Error stopping camera", zap.Error(err))
	}

	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("Capture pipeline stopped")
	case <-ctx.Done():
		a.logger.Warn("Shutdown timeout reached, forcing exit")
	}

	httpTimeout := time.Duration(a.config.Timeouts.HTTPShutdownTimeout) * time.Second
	if err := a.webServer.Stop(httpTimeout); err != nil {
		a.logger.Error("Error stopping web server", zap.Error(err))
	}

	if err := a.catalog.Close(); err != nil {
		return fmt.Errorf("failed to close catalog: %w", err)
	}
	return nil
}

// createLogger creates a structured logger
func createLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	// Prepare log directory and file path
	const logDir = "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	ts := time.Now().Format("20060102-150405")
	logFile := filepath.Join(logDir, fmt.Sprintf("pi-motion-recorder-%s.log", ts))

	// Clean up old logs (keep last 20 files)
	files, _ := filepath.Glob(filepath.Join(logDir, "pi-motion-recorder-*.log"))
	if len(files) > 20 {
		sort.Strings(files) // lexicographic order matches timestamp
		for _, f := range files[:len(files)-20] {
			_ = os.Remove(f)
		}
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout", logFile},
		ErrorOutputPaths: []string{"stderr", logFile},
	}

	return config.Build()
}
