package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// maxGuardCapacity caps how many dismissed ids the client remembers.
const maxGuardCapacity = 100

// Environment overrides, applied after the file is read.
const (
	EnvJWTSecret  = "TRANSIT_SYNC_JWT_SECRET"
	EnvServerURL  = "TRANSIT_SYNC_SERVER_URL"
	EnvDBPassword = "TRANSIT_SYNC_DB_PASSWORD"
	EnvMQPassword = "TRANSIT_SYNC_RABBITMQ_PASSWORD"
)

type Config struct {
	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"database"`
	} `yaml:"database"`
	RabbitMQ struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"rabbitmq"`
	Relay struct {
		Port        int           `yaml:"port"`
		PollWait    time.Duration `yaml:"poll_wait"`
		SessionTTL  time.Duration `yaml:"session_ttl"`
		FreshWindow time.Duration `yaml:"fresh_window"`
		InstanceID  string        `yaml:"instance_id"`
	} `yaml:"relay"`
	JWT struct {
		SecretKey string        `yaml:"secret_key"`
		TTL       time.Duration `yaml:"ttl"`
	} `yaml:"jwt"`
	Client struct {
		ServerURL      string        `yaml:"server_url"`
		AckTimeout     time.Duration `yaml:"ack_timeout"`
		InitialBackoff time.Duration `yaml:"initial_backoff"`
		MaxBackoff     time.Duration `yaml:"max_backoff"`
		MaxAttempts    int           `yaml:"max_attempts"`
		StorePath      string        `yaml:"store_path"`
		GuardCapacity  int           `yaml:"guard_capacity"`
	} `yaml:"client"`
}

// LoadFromFile loads config from a YAML file to a Config struct, applies
// environment overrides and defaults, and validates ranges.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := parseYAML(file, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&cfg, os.Getenv)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvJWTSecret)); v != "" {
		cfg.JWT.SecretKey = v
	}
	if v := strings.TrimSpace(getenv(EnvServerURL)); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := getenv(EnvDBPassword); v != "" {
		cfg.Database.Password = v
	}
	if v := getenv(EnvMQPassword); v != "" {
		cfg.RabbitMQ.Password = v
	}
}

// applyDefaults sets safe defaults for some fields.
func applyDefaults(cfg *Config) {
	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}

	// Relay
	if cfg.Relay.Port == 0 {
		cfg.Relay.Port = 3000
	}
	if cfg.Relay.PollWait == 0 {
		cfg.Relay.PollWait = 25 * time.Second
	}
	if cfg.Relay.SessionTTL == 0 {
		cfg.Relay.SessionTTL = 2 * time.Minute
	}
	if cfg.Relay.FreshWindow == 0 {
		cfg.Relay.FreshWindow = 5 * time.Minute
	}

	// JWT
	if cfg.JWT.TTL == 0 {
		cfg.JWT.TTL = 24 * time.Hour
	}
	if cfg.JWT.SecretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			key = []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		cfg.JWT.SecretKey = base64.StdEncoding.EncodeToString(key)
	}

	// Client
	if cfg.Client.ServerURL == "" {
		cfg.Client.ServerURL = fmt.Sprintf("http://localhost:%d", cfg.Relay.Port)
	}
	if cfg.Client.AckTimeout == 0 {
		cfg.Client.AckTimeout = 10 * time.Second
	}
	if cfg.Client.InitialBackoff == 0 {
		cfg.Client.InitialBackoff = time.Second
	}
	if cfg.Client.MaxBackoff == 0 {
		cfg.Client.MaxBackoff = 30 * time.Second
	}
	if cfg.Client.MaxAttempts == 0 {
		cfg.Client.MaxAttempts = 5
	}
	if cfg.Client.GuardCapacity == 0 {
		cfg.Client.GuardCapacity = maxGuardCapacity
	}
}

// validate checks basic ranges shared by every mode.
func (c *Config) validate() error {
	var problems []string

	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		problems = append(problems, "database.port must be in 1..65535")
	}
	if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
		problems = append(problems, "rabbitmq.port must be in 1..65535")
	}
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		problems = append(problems, "relay.port must be in 1..65535")
	}
	if c.Relay.PollWait < 0 || c.Relay.SessionTTL < 0 || c.Relay.FreshWindow < 0 {
		problems = append(problems, "relay durations must be positive")
	}
	if c.Relay.SessionTTL > 0 && c.Relay.SessionTTL <= c.Relay.PollWait {
		problems = append(problems, "relay.session_ttl must exceed relay.poll_wait")
	}
	if c.JWT.TTL < 0 {
		problems = append(problems, "jwt.ttl must be positive")
	}
	if c.Client.AckTimeout < 0 || c.Client.InitialBackoff < 0 || c.Client.MaxBackoff < 0 {
		problems = append(problems, "client durations must be positive")
	}
	if c.Client.MaxBackoff < c.Client.InitialBackoff {
		problems = append(problems, "client.max_backoff must be >= client.initial_backoff")
	}
	if c.Client.MaxAttempts < 0 {
		problems = append(problems, "client.max_attempts must be positive")
	}
	if c.Client.GuardCapacity < 0 || c.Client.GuardCapacity > maxGuardCapacity {
		problems = append(problems, "client.guard_capacity must be in 1..100")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// ValidateRelay checks what relay-service mode needs on top of validate.
func (c *Config) ValidateRelay() error {
	var problems []string
	if c.Database.User == "" {
		problems = append(problems, "database.user is required")
	}
	if c.Database.Password == "" {
		problems = append(problems, "database.password is required")
	}
	if c.Database.Name == "" {
		problems = append(problems, "database.database is required")
	}
	if c.RabbitMQ.User == "" {
		problems = append(problems, "rabbitmq.user is required")
	}
	if c.RabbitMQ.Password == "" {
		problems = append(problems, "rabbitmq.password is required")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// ValidateClient checks what tracker-client mode needs on top of validate.
func (c *Config) ValidateClient() error {
	u, err := url.Parse(c.Client.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("client.server_url must be an http(s) URL, got %q", c.Client.ServerURL)
	}
	return nil
}

// DatabaseDSN returns the pgx connection string.
func (c *Config) DatabaseDSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Database.User, c.Database.Password),
		Host:   fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:   "/" + c.Database.Name,
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

// RabbitMQURL returns the AMQP connection URL.
func (c *Config) RabbitMQURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.RabbitMQ.User, c.RabbitMQ.Password),
		Host:   fmt.Sprintf("%s:%d", c.RabbitMQ.Host, c.RabbitMQ.Port),
		Path:   "/",
	}
	return u.String()
}

// WebsocketURL derives the relay websocket endpoint from the client server URL.
func (c *Config) WebsocketURL() string {
	s := strings.TrimRight(c.Client.ServerURL, "/")
	switch {
	case strings.HasPrefix(s, "https://"):
		s = "wss://" + strings.TrimPrefix(s, "https://")
	case strings.HasPrefix(s, "http://"):
		s = "ws://" + strings.TrimPrefix(s, "http://")
	}
	return s + "/ws"
}
