package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the application configuration
type Config struct {
	Camera   CameraConfig  `toml:"camera" json:"camera"`
	Motion   MotionConfig  `toml:"motion" json:"motion"`
	Storage  StorageConfig `toml:"storage" json:"storage"`
	Server   ServerConfig  `toml:"server" json:"server"`
	Buffers  BufferConfig  `toml:"buffers" json:"buffers"`
	Timeouts TimeoutConfig `toml:"timeouts" json:"timeouts"`
	Logging  LoggingConfig `toml:"logging" json:"logging"`
	Limits   LimitConfig   `toml:"limits" json:"limits"`
}

// CameraConfig holds camera and encoder settings
type CameraConfig struct {
	Command    string `toml:"command" json:"command"`
	Width      int    `toml:"width" json:"width"`
	Height     int    `toml:"height" json:"height"`
	FrameRate  int    `toml:"frame_rate" json:"frame_rate"`
	BitRate    int    `toml:"bit_rate" json:"bit_rate"`
	SensorMode int    `toml:"sensor_mode" json:"sensor_mode"`
	HFlip      bool   `toml:"hflip" json:"hflip"`
	VFlip      bool   `toml:"vflip" json:"vflip"`
}

// MotionConfig holds trigger thresholds and capture timing
type MotionConfig struct {
	SecondsPre         int     `toml:"seconds_pre" json:"seconds_pre"`
	SecondsPost        int     `toml:"seconds_post" json:"seconds_post"`
	MaxRecordingTime   int     `toml:"max_recording_time" json:"max_recording_time"` // seconds
	PerBlockThreshold  float64 `toml:"per_block_threshold" json:"per_block_threshold"`
	NumThresholdBlocks int     `toml:"num_threshold_blocks" json:"num_threshold_blocks"`
	PerFrameThreshold  int     `toml:"per_frame_threshold" json:"per_frame_threshold"`
}

// StorageConfig holds capture output locations
type StorageConfig struct {
	StagingDir  string `toml:"staging_dir" json:"staging_dir"`
	CatalogPath string `toml:"catalog_path" json:"catalog_path"`
	NamePattern string `toml:"name_pattern" json:"name_pattern"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	WebPort        int      `toml:"web_port" json:"web_port"`
	BindIP         string   `toml:"bind_ip" json:"bind_ip"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"` // WebSocket origins, "*" for any
}

// BufferConfig holds buffer size settings for channels
type BufferConfig struct {
	CaptureQueueSize    int `toml:"capture_queue_size" json:"capture_queue_size"`
	WebSocketSendBuffer int `toml:"websocket_send_buffer" json:"websocket_send_buffer"`
}

// TimeoutConfig holds timeout and delay settings
type TimeoutConfig struct {
	WarmupMs            int `toml:"warmup_ms" json:"warmup_ms"`
	ShutdownTimeout     int `toml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds"`
	HTTPShutdownTimeout int `toml:"http_shutdown_timeout_seconds" json:"http_shutdown_timeout_seconds"`
}

// LoggingConfig holds logging interval settings
type LoggingConfig struct {
	FrameLogInterval int `toml:"frame_log_interval" json:"frame_log_interval"`
}

// LimitConfig holds resource limit settings
type LimitConfig struct {
	MaxVideoBufferMB int `toml:"max_video_buffer_mb" json:"max_video_buffer_mb"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Command:    "raspivid",
			Width:      1640,
			Height:     1232,
			FrameRate:  10,
			BitRate:    2000000,
			SensorMode: 4,
		},
		Motion: MotionConfig{
			SecondsPre:         10,
			SecondsPost:        60,
			MaxRecordingTime:   600,
			PerBlockThreshold:  10,
			NumThresholdBlocks: 20,
			PerFrameThreshold:  2000,
		},
		Storage: StorageConfig{
			StagingDir:  "captures",
			CatalogPath: "captures/catalog.db",
			NamePattern: "2006-01-02T15-04-05",
		},
		Server: ServerConfig{
			WebPort:        8080,
			BindIP:         "0.0.0.0",
			AllowedOrigins: []string{"*"},
		},
		Buffers: BufferConfig{
			CaptureQueueSize:    16,
			WebSocketSendBuffer: 16,
		},
		Timeouts: TimeoutConfig{
			WarmupMs:            1000,
			ShutdownTimeout:     30,
			HTTPShutdownTimeout: 5,
		},
		Logging: LoggingConfig{
			FrameLogInterval: 100,
		},
		Limits: LimitConfig{
			MaxVideoBufferMB: 16,
		},
	}
}

// LoadConfig loads configuration from a TOML file and validates it
func LoadConfig(configPath string) (*Config, error) {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	config := Default()

	// Load from file if it exists
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
		logger.Info("Config loaded from file", zap.String("path", configPath))
	} else {
		logger.Info("Config file not found, using defaults", zap.String("path", configPath))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects non-positive thresholds, windows and camera geometry.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, v))
		}
	}

	positive("motion.seconds_pre", float64(c.Motion.SecondsPre))
	positive("motion.seconds_post", float64(c.Motion.SecondsPost))
	positive("motion.max_recording_time", float64(c.Motion.MaxRecordingTime))
	positive("motion.per_block_threshold", c.Motion.PerBlockThreshold)
	positive("motion.num_threshold_blocks", float64(c.Motion.NumThresholdBlocks))
	positive("motion.per_frame_threshold", float64(c.Motion.PerFrameThreshold))
	positive("camera.width", float64(c.Camera.Width))
	positive("camera.height", float64(c.Camera.Height))
	positive("camera.frame_rate", float64(c.Camera.FrameRate))
	positive("camera.bit_rate", float64(c.Camera.BitRate))

	if c.Storage.StagingDir == "" {
		errs = append(errs, errors.New("storage.staging_dir must be set"))
	}
	if c.Timeouts.WarmupMs < 0 {
		errs = append(errs, fmt.Errorf("timeouts.warmup_ms must not be negative, got %d", c.Timeouts.WarmupMs))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// PreFrames is the pre-roll length in frames.
func (c *Config) PreFrames() int {
	return c.Motion.SecondsPre * c.Camera.FrameRate
}

// VideoBufferBytes caps the bitstream buffer: twice the bytes the encoder
// produces over seconds_pre+1 seconds, but no more than max_video_buffer_mb.
func (c *Config) VideoBufferBytes() int {
	n := c.Camera.BitRate / 8 * (c.Motion.SecondsPre + 1) * 2
	if limit := c.Limits.MaxVideoBufferMB * 1024 * 1024; limit > 0 && n > limit {
		n = limit
	}
	return n
}

// SecondsPreDuration returns the pre-roll length as a duration.
func (m MotionConfig) SecondsPreDuration() time.Duration {
	return time.Duration(m.SecondsPre) * time.Second
}

// SecondsPostDuration returns the post-motion length as a duration.
func (m MotionConfig) SecondsPostDuration() time.Duration {
	return time.Duration(m.SecondsPost) * time.Second
}

// MaxRecordingDuration returns the recording cap as a duration.
func (m MotionConfig) MaxRecordingDuration() time.Duration {
	return time.Duration(m.MaxRecordingTime) * time.Second
}

// SaveConfig saves the current configuration to a file
func SaveConfig(config *Config, configPath string) error {
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
