package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"orionserver/internal/model"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

type Config struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	InstanceID   string `yaml:"instance_id"`
	LogDirectory string `yaml:"log_dir"`

	VisionMode     string `yaml:"vision_mode"`     // full | split
	ProcessingMode string `yaml:"processing_mode"` // queued | direct

	MaxMemoryFrames       int     `yaml:"max_memory_frames"`
	MemoryHealthCeiling   int     `yaml:"memory_health_ceiling"` // 0 = 2*max_memory_frames+1
	MemoryCleanupInterval int     `yaml:"memory_cleanup_interval_s"`
	EvictionWindow        float64 `yaml:"eviction_window_s"` // seconds of frame time
	ContextLimit          int     `yaml:"context_limit"`
	PromptContextLimit    int     `yaml:"prompt_context_limit"`
	QueueLimit            int     `yaml:"queue_limit"` // 0 = unbounded

	StageTimeout  int   `yaml:"stage_timeout_s"`
	ShutdownGrace int   `yaml:"shutdown_grace_s"`
	WriteTimeout  int   `yaml:"write_timeout_s"`
	ReadLimit     int64 `yaml:"read_limit_bytes"`

	LLMBaseURL string `yaml:"llm_base_url"`
	LLMModel   string `yaml:"llm_model"`
	LLMAPIKey  string `yaml:"llm_api_key"`
	VLMModel   string `yaml:"vlm_model"`

	DetectorModelPath  string  `yaml:"detector_model_path"`
	DetectorConfigPath string  `yaml:"detector_config_path"`
	DetectionThreshold float64 `yaml:"detection_threshold"`

	DatabasePath         string `yaml:"db_path"` // empty disables the archive
	ImageDirectory       string `yaml:"image_dir"`
	ArchiveFlushInterval int    `yaml:"archive_flush_interval_s"`
	ArchiveBufferLimit   int    `yaml:"archive_buffer_limit"`

	MQTTBroker string `yaml:"mqtt_broker"` // empty disables publishing
	MQTTTopic  string `yaml:"mqtt_topic"`

	CamerasPort int               `yaml:"cameras_port"` // UDP JPEG cameras, 0 = disabled
	CameraNames map[string]string `yaml:"camera_names"` // ip -> device id

	CameraFrameInterval int  `yaml:"camera_frame_interval"` // process every Nth UDP frame
	CameraMotionGate    bool `yaml:"camera_motion_gate"`    // skip UDP frames without motion
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Host:                  "0.0.0.0",
		Port:                  8000,
		InstanceID:            "orion",
		LogDirectory:          filepath.Join(".", "logs"),
		VisionMode:            string(model.VisionSplit),
		ProcessingMode:        string(model.ModeQueued),
		MaxMemoryFrames:       1000,
		MemoryCleanupInterval: 300,
		EvictionWindow:        5.0,
		ContextLimit:          5,
		PromptContextLimit:    10,
		QueueLimit:            0,
		StageTimeout:          30,
		ShutdownGrace:         5,
		WriteTimeout:          10,
		ReadLimit:             16 << 20,
		LLMBaseURL:            "http://localhost:11434/v1",
		LLMModel:              "gemma3:1b",
		VLMModel:              "llava",
		DetectionThreshold:    0.5,
		ImageDirectory:        filepath.Join(".", "images"),
		ArchiveFlushInterval:  30,
		ArchiveBufferLimit:    100,
		MQTTTopic:             "orion/results",
		CameraFrameInterval:   3,
	}
}

// Load builds the configuration from defaults, an optional .env file, an optional
// YAML file named by CONFIG_FILE (or configFile when non-empty) and environment variables.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	cfg := Default()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if cfg.MemoryHealthCeiling == 0 {
		// frames plus one analysis per frame
		cfg.MemoryHealthCeiling = 2*cfg.MaxMemoryFrames + 1
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv() {
	c.Host = getEnv("HOST", c.Host)
	c.Port = getEnvAsInt("PORT", c.Port)
	c.InstanceID = getEnv("INSTANCE_ID", c.InstanceID)
	c.LogDirectory = getEnv("LOG_DIR", c.LogDirectory)
	c.VisionMode = getEnv("VISION_MODE", c.VisionMode)
	c.ProcessingMode = getEnv("PROCESSING_MODE", c.ProcessingMode)
	c.MaxMemoryFrames = getEnvAsInt("MAX_MEMORY_FRAMES", c.MaxMemoryFrames)
	c.MemoryHealthCeiling = getEnvAsInt("MEMORY_HEALTH_CEILING", c.MemoryHealthCeiling)
	c.MemoryCleanupInterval = getEnvAsInt("MEMORY_CLEANUP_INTERVAL", c.MemoryCleanupInterval)
	c.EvictionWindow = getEnvAsFloat("EVICTION_WINDOW", c.EvictionWindow)
	c.ContextLimit = getEnvAsInt("CONTEXT_LIMIT", c.ContextLimit)
	c.PromptContextLimit = getEnvAsInt("PROMPT_CONTEXT_LIMIT", c.PromptContextLimit)
	c.QueueLimit = getEnvAsInt("QUEUE_LIMIT", c.QueueLimit)
	c.StageTimeout = getEnvAsInt("STAGE_TIMEOUT", c.StageTimeout)
	c.ShutdownGrace = getEnvAsInt("SHUTDOWN_GRACE", c.ShutdownGrace)
	c.WriteTimeout = getEnvAsInt("WRITE_TIMEOUT", c.WriteTimeout)
	c.ReadLimit = getEnvAsInt64("READ_LIMIT", c.ReadLimit)
	c.LLMBaseURL = getEnv("LLM_BASE_URL", c.LLMBaseURL)
	c.LLMModel = getEnv("LLM_MODEL", c.LLMModel)
	c.LLMAPIKey = getEnv("LLM_API_KEY", c.LLMAPIKey)
	c.VLMModel = getEnv("VLM_MODEL", c.VLMModel)
	c.DetectorModelPath = getEnv("DETECTOR_MODEL_PATH", c.DetectorModelPath)
	c.DetectorConfigPath = getEnv("DETECTOR_CONFIG_PATH", c.DetectorConfigPath)
	c.DetectionThreshold = getEnvAsFloat("DETECTION_THRESHOLD", c.DetectionThreshold)
	c.DatabasePath = getEnv("DB_PATH", c.DatabasePath)
	c.ImageDirectory = getEnv("IMAGE_DIR", c.ImageDirectory)
	c.ArchiveFlushInterval = getEnvAsInt("ARCHIVE_FLUSH_INTERVAL", c.ArchiveFlushInterval)
	c.ArchiveBufferLimit = getEnvAsInt("ARCHIVE_BUFFER_LIMIT", c.ArchiveBufferLimit)
	c.MQTTBroker = getEnv("MQTT_BROKER", c.MQTTBroker)
	c.MQTTTopic = getEnv("MQTT_TOPIC", c.MQTTTopic)
	c.CamerasPort = getEnvAsInt("CAMERAS_PORT", c.CamerasPort)
	c.CameraFrameInterval = getEnvAsInt("PROCESSING_INTERVAL", c.CameraFrameInterval)
	c.CameraMotionGate = getEnvAsBool("CAMERA_MOTION_GATE", c.CameraMotionGate)
	if names := parseCameraNames(os.Getenv("CAMERA_NAMES")); len(names) > 0 {
		c.CameraNames = names
	}
}

// parseCameraNames reads "ip=name,ip=name" pairs. Malformed pairs are skipped.
func parseCameraNames(raw string) map[string]string {
	names := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		ip, name, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || ip == "" || name == "" {
			continue
		}
		names[strings.TrimSpace(ip)] = strings.TrimSpace(name)
	}
	return names
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if _, err := model.ParseVisionMode(c.VisionMode); err != nil {
		return err
	}
	if _, err := model.ParseProcessingMode(c.ProcessingMode); err != nil {
		return err
	}
	if c.MaxMemoryFrames <= 0 {
		return fmt.Errorf("max_memory_frames must be positive, got %d", c.MaxMemoryFrames)
	}
	if c.MemoryHealthCeiling < 0 || (c.MemoryHealthCeiling > 0 && c.MemoryHealthCeiling <= c.MaxMemoryFrames) {
		return fmt.Errorf("memory_health_ceiling %d must exceed max_memory_frames %d", c.MemoryHealthCeiling, c.MaxMemoryFrames)
	}
	if c.ContextLimit <= 0 || c.PromptContextLimit <= 0 {
		return fmt.Errorf("context limits must be positive")
	}
	if c.EvictionWindow <= 0 {
		return fmt.Errorf("eviction_window_s must be positive")
	}
	if c.QueueLimit < 0 {
		return fmt.Errorf("queue_limit must not be negative")
	}
	if c.StageTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.CamerasPort < 0 || c.CamerasPort > 65535 {
		return fmt.Errorf("cameras_port %d out of range", c.CamerasPort)
	}
	if c.DetectionThreshold < 0 || c.DetectionThreshold > 1 {
		return fmt.Errorf("detection_threshold %v out of range", c.DetectionThreshold)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// VisionModeValue returns the parsed vision mode. Call after Validate.
func (c *Config) VisionModeValue() model.VisionMode {
	m, _ := model.ParseVisionMode(c.VisionMode)
	return m
}

// ProcessingModeValue returns the parsed initial processing mode. Call after Validate.
func (c *Config) ProcessingModeValue() model.ProcessingMode {
	m, _ := model.ParseProcessingMode(c.ProcessingMode)
	return m
}

func (c *Config) StageTimeoutDuration() time.Duration {
	return time.Duration(c.StageTimeout) * time.Second
}

func (c *Config) ShutdownGraceDuration() time.Duration {
	return time.Duration(c.ShutdownGrace) * time.Second
}

func (c *Config) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WriteTimeout) * time.Second
}

func (c *Config) CleanupIntervalDuration() time.Duration {
	return time.Duration(c.MemoryCleanupInterval) * time.Second
}

func (c *Config) ArchiveFlushDuration() time.Duration {
	return time.Duration(c.ArchiveFlushInterval) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
