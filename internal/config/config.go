package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the worker's settings, read from the environment.
type Config struct {
	ComfyURL       string
	InputDir       string
	InputSubdir    string
	VideoRefPrefix string
	OutputDir      string
	OutputExt      string

	Timeout      time.Duration
	PollInterval time.Duration
	SettleDelay  time.Duration

	LaunchCommand string
	ReadyTimeout  time.Duration

	WorkflowPath string

	Port string

	S3Bucket   string
	S3Prefix   string
	S3Endpoint string

	AMQPURL   string
	AMQPQueue string
}

// Load reads a .env file if one exists and then the process environment.
func Load() (*Config, bool, error) {
	// A missing .env is normal; variables may be set by the host.
	dotenv := godotenv.Load() == nil
	cfg, err := FromEnv(os.Getenv)
	return cfg, dotenv, err
}

// FromEnv builds a Config from getenv, applying defaults for unset variables.
func FromEnv(getenv func(string) string) (*Config, error) {
	str := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	var errs []string
	seconds := func(key string, def int) time.Duration {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return time.Duration(def) * time.Second
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be a positive number of seconds, got %q", key, v))
			return 0
		}
		return time.Duration(n) * time.Second
	}

	cfg := &Config{
		ComfyURL:       strings.TrimRight(str("COMFY_URL", "http://127.0.0.1:8188"), "/"),
		InputDir:       str("COMFY_INPUT_DIR", "/comfyui/input"),
		InputSubdir:    strings.Trim(str("COMFY_INPUT_SUBDIR", ""), "/"),
		VideoRefPrefix: strings.Trim(str("COMFY_VIDEO_REF_PREFIX", "input"), "/"),
		OutputDir:      str("COMFY_OUTPUT_DIR", "/comfyui/output"),
		OutputExt:      str("COMFY_OUTPUT_EXT", ".mp4"),
		Timeout:        seconds("FLASHVSR_TIMEOUT", 3600),
		PollInterval:   seconds("POLL_INTERVAL_SECONDS", 5),
		SettleDelay:    seconds("SETTLE_DELAY_SECONDS", 5),
		LaunchCommand:  str("COMFY_LAUNCH_CMD", ""),
		ReadyTimeout:   seconds("COMFY_READY_TIMEOUT", 300),
		WorkflowPath:   str("WORKFLOW_TEMPLATE_PATH", ""),
		Port:           str("PORT", "8080"),
		S3Bucket:       str("OUTPUT_S3_BUCKET", ""),
		S3Prefix:       str("OUTPUT_S3_PREFIX", ""),
		S3Endpoint:     str("OUTPUT_S3_ENDPOINT", ""),
		AMQPURL:        str("AMQP_URL", ""),
		AMQPQueue:      str("AMQP_QUEUE", "upscale_jobs"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}
