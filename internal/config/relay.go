package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golobby/config/v3"
	"github.com/golobby/config/v3/pkg/feeder"
	"github.com/joho/godotenv"

	"github.com/BioHazard786/carecall/internal/logging"
)

// Relay holds the relay server configuration.
type Relay struct {
	ListenAddr     string `yaml:"listen_addr" env:"CARECALL_LISTEN_ADDR"`
	AllowedOrigins string `yaml:"allowed_origins" env:"CARECALL_ALLOWED_ORIGINS"` // comma separated, "*" allows any
	LogLevel       string `yaml:"log_level" env:"CARECALL_LOG_LEVEL"`
	LogFormat      string `yaml:"log_format" env:"CARECALL_LOG_FORMAT"`

	SingleRoom  bool `yaml:"single_room" env:"CARECALL_SINGLE_ROOM"`
	Presence    bool `yaml:"presence" env:"CARECALL_PRESENCE"`
	MaxRoomSize int  `yaml:"max_room_size" env:"CARECALL_MAX_ROOM_SIZE"`

	MaxMessageBytes int64  `yaml:"max_message_bytes" env:"CARECALL_MAX_MESSAGE_BYTES"`
	SendQueueSize   int    `yaml:"send_queue_size" env:"CARECALL_SEND_QUEUE_SIZE"`
	PongWait        string `yaml:"pong_wait" env:"CARECALL_PONG_WAIT"`
	WriteWait       string `yaml:"write_wait" env:"CARECALL_WRITE_WAIT"`
	ShutdownTimeout string `yaml:"shutdown_timeout" env:"CARECALL_SHUTDOWN_TIMEOUT"`
}

// DefaultRelay returns the configuration used when nothing overrides it.
func DefaultRelay() *Relay {
	return &Relay{
		ListenAddr:      ":5000",
		AllowedOrigins:  "*",
		LogLevel:        "info",
		LogFormat:       "json",
		SingleRoom:      true,
		Presence:        true,
		MaxRoomSize:     0,
		MaxMessageBytes: 64 * 1024,
		SendQueueSize:   256,
		PongWait:        "60s",
		WriteWait:       "10s",
		ShutdownTimeout: "5s",
	}
}

// LoadOptions says where Load looks for configuration.
type LoadOptions struct {
	// File is an optional YAML file.
	File string
	// EnvFile is a dotenv file; a missing file is not an error. Defaults to ".env".
	EnvFile string
}

// Load reads configuration with the following priority:
// 1. Environment variables (including ones set by the dotenv file)
// 2. The YAML file, when given
// 3. Defaults
func Load(opts LoadOptions) (*Relay, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	cfg := DefaultRelay()

	c := config.New()
	if opts.File != "" {
		c.AddFeeder(feeder.Yaml{Path: opts.File})
	}
	c.AddFeeder(feeder.Env{})
	if err := c.AddStruct(cfg).Feed(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the relay cannot run with.
func (c *Relay) Validate() error {
	var errs []error

	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("log_format must be json or console, got %q", c.LogFormat))
	}
	if len(c.Origins()) == 0 {
		errs = append(errs, errors.New("allowed_origins must list at least one origin"))
	}
	if c.MaxRoomSize < 0 || c.MaxRoomSize == 1 {
		errs = append(errs, fmt.Errorf("max_room_size must be 0 (unlimited) or at least 2, got %d", c.MaxRoomSize))
	}
	if c.MaxMessageBytes < 1024 {
		errs = append(errs, fmt.Errorf("max_message_bytes must be at least 1024, got %d", c.MaxMessageBytes))
	}
	if c.SendQueueSize < 1 {
		errs = append(errs, fmt.Errorf("send_queue_size must be positive, got %d", c.SendQueueSize))
	}

	for name, value := range map[string]string{
		"pong_wait":        c.PongWait,
		"write_wait":       c.WriteWait,
		"shutdown_timeout": c.ShutdownTimeout,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, value))
		}
	}

	return errors.Join(errs...)
}

// Origins returns the allowed origins as a list.
func (c *Relay) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// PongWaitDuration, WriteWaitDuration and ShutdownTimeoutDuration assume Validate passed.
func (c *Relay) PongWaitDuration() time.Duration { return mustDuration(c.PongWait) }

func (c *Relay) WriteWaitDuration() time.Duration { return mustDuration(c.WriteWait) }

func (c *Relay) ShutdownTimeoutDuration() time.Duration { return mustDuration(c.ShutdownTimeout) }

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q: %v", s, err))
	}
	return d
}
