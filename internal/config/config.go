package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	Password string

	CameraEnabled        bool
	CameraIndex          int
	CameraWidth          int
	CameraHeight         int
	ReconnectBackoff     time.Duration
	MaxReconnectAttempts int // 0 = retry forever
	StopTimeout          time.Duration

	ModelPath           string
	ConfidenceThreshold float64
	NMSThreshold        float64
	ModelInputSize      int

	StreamInterval time.Duration
	JPEGQuality    int

	UploadDirectory   string
	ResultsDirectory  string
	MaxUploadSize     int64
	ResultRetention   time.Duration // 0 keeps results forever
	MaxResultsDirSize int64         // bytes, 0 = unlimited
	CleanupInterval   time.Duration

	DatabasePath string
	LogDirectory string
	LogLevel     string
	StaticDir    string
}

// Load reads envFile (if it exists) into the process environment and builds
// the configuration from environment variables. Variables already present in
// the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Port:     getEnvAsInt("PORT", 5000),
		Password: getEnv("PASSWORD", ""),

		CameraEnabled:        getEnvAsBool("CAMERA_ENABLED", true),
		CameraIndex:          getEnvAsInt("CAMERA_INDEX", 0),
		CameraWidth:          getEnvAsInt("CAMERA_WIDTH", 0),
		CameraHeight:         getEnvAsInt("CAMERA_HEIGHT", 0),
		ReconnectBackoff:     getEnvAsDuration("CAMERA_RECONNECT_BACKOFF", time.Second),
		MaxReconnectAttempts: getEnvAsInt("CAMERA_MAX_RECONNECTS", 0),
		StopTimeout:          getEnvAsDuration("CAMERA_STOP_TIMEOUT", 5*time.Second),

		ModelPath:           getEnv("MODEL_PATH", "best.onnx"),
		ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.5),
		NMSThreshold:        getEnvAsFloat("NMS_THRESHOLD", 0.45),
		ModelInputSize:      getEnvAsInt("MODEL_INPUT_SIZE", 640),

		StreamInterval: getEnvAsDuration("STREAM_INTERVAL", 100*time.Millisecond),
		JPEGQuality:    getEnvAsInt("JPEG_QUALITY", 80),

		UploadDirectory:   getEnv("UPLOAD_DIR", filepath.Join(".", "static", "uploads")),
		ResultsDirectory:  getEnv("RESULTS_DIR", filepath.Join(".", "static", "results")),
		MaxUploadSize:     getEnvAsInt64("MAX_UPLOAD_SIZE", 16<<20),
		ResultRetention:   getEnvAsDuration("RESULT_RETENTION", 0),
		MaxResultsDirSize: getEnvAsInt64("MAX_RESULTS_DIR_SIZE", 2<<30),
		CleanupInterval:   getEnvAsDuration("CLEANUP_INTERVAL", 10*time.Minute),

		DatabasePath: getEnv("DB_PATH", filepath.Join(".", "data", "inspections.db")),
		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		StaticDir:    getEnv("STATIC_DIR", "static"),
	}

	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.CameraIndex < 0 {
		errs = append(errs, fmt.Errorf("invalid camera index %d", c.CameraIndex))
	}
	if c.ReconnectBackoff <= 0 {
		errs = append(errs, errors.New("camera reconnect backoff must be positive"))
	}
	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("camera max reconnects must not be negative"))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, errors.New("camera stop timeout must be positive"))
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence threshold %.2f outside [0,1]", c.ConfidenceThreshold))
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		errs = append(errs, fmt.Errorf("nms threshold %.2f outside [0,1]", c.NMSThreshold))
	}
	if c.ModelInputSize <= 0 || c.ModelInputSize%32 != 0 {
		errs = append(errs, fmt.Errorf("model input size %d must be a positive multiple of 32", c.ModelInputSize))
	}
	if c.StreamInterval <= 0 {
		errs = append(errs, errors.New("stream interval must be positive"))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg quality %d outside [1,100]", c.JPEGQuality))
	}
	if c.MaxUploadSize <= 0 {
		errs = append(errs, errors.New("max upload size must be positive"))
	}

	return errors.Join(errs...)
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("1s", "250ms") or plain seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
