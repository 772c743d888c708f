// Package config loads service settings from a YAML file, a .env file and
// REWEAR_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all service settings.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
	Auth     AuthConfig     `yaml:"auth"`
	Swap     SwapConfig     `yaml:"swap"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	S3       S3Config       `yaml:"s3"`
	Upload   UploadConfig   `yaml:"upload"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// AdminConfig names the account created on first run.
type AdminConfig struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// AuthConfig holds the token secret. When empty, a secret is generated and
// kept in the database.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type SwapConfig struct {
	Expiry        time.Duration `yaml:"expiry"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// ApprovalPoints is awarded to an uploader when an item is approved.
	ApprovalPoints int `yaml:"approval_points"`
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// S3Config enables S3 image storage when Bucket is set.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PublicURL string `yaml:"public_url"`
}

type UploadConfig struct {
	MaxBytes     int64 `yaml:"max_bytes"`
	MaxDimension int   `yaml:"max_dimension"`
	JPEGQuality  int   `yaml:"jpeg_quality"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Database: DatabaseConfig{Path: "rewear.sqlite3"},
		Log:      LogConfig{Level: "info"},
		Admin:    AdminConfig{Name: "Admin", Email: "admin@rewear.local"},
		Swap: SwapConfig{
			Expiry:         7 * 24 * time.Hour,
			SweepInterval:  5 * time.Minute,
			ApprovalPoints: 10,
		},
		Kafka:  KafkaConfig{Topic: "rewear.swaps"},
		S3:     S3Config{Region: "us-east-1"},
		Upload: UploadConfig{MaxBytes: 10 << 20, MaxDimension: 1200, JPEGQuality: 85},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides settings from REWEAR_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup("REWEAR_" + name); ok {
			*dst = v
		}
	}
	var errs []error
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup("REWEAR_" + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("REWEAR_%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup("REWEAR_" + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("REWEAR_%s: %w", name, err))
				return
			}
			*dst = n
		}
	}

	str("ADDR", &c.Server.Addr)
	str("DB", &c.Database.Path)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)
	if v, ok := lookup("REWEAR_LOG_CONSOLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REWEAR_LOG_CONSOLE: %w", err))
		}
		c.Log.Console = b
	}
	str("ADMIN_NAME", &c.Admin.Name)
	str("ADMIN_EMAIL", &c.Admin.Email)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	dur("SWAP_EXPIRY", &c.Swap.Expiry)
	dur("SWEEP_INTERVAL", &c.Swap.SweepInterval)
	num("APPROVAL_POINTS", &c.Swap.ApprovalPoints)
	if v, ok := lookup("REWEAR_KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("S3_BUCKET", &c.S3.Bucket)
	str("S3_REGION", &c.S3.Region)
	str("S3_ENDPOINT", &c.S3.Endpoint)
	str("S3_ACCESS_KEY", &c.S3.AccessKey)
	str("S3_SECRET_KEY", &c.S3.SecretKey)
	str("S3_PUBLIC_URL", &c.S3.PublicURL)
	if v, ok := lookup("REWEAR_UPLOAD_MAX_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("REWEAR_UPLOAD_MAX_BYTES: %w", err))
		}
		c.Upload.MaxBytes = n
	}
	num("IMAGE_MAX_DIMENSION", &c.Upload.MaxDimension)
	num("JPEG_QUALITY", &c.Upload.JPEGQuality)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return errors.New("server address is required")
	case c.Database.Path == "":
		return errors.New("database path is required")
	case c.Swap.Expiry <= 0:
		return errors.New("swap expiry must be positive")
	case c.Swap.SweepInterval <= 0:
		return errors.New("sweep interval must be positive")
	case c.Swap.ApprovalPoints < 0:
		return errors.New("approval points cannot be negative")
	case c.Upload.MaxBytes <= 0:
		return errors.New("upload size limit must be positive")
	case len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "":
		return errors.New("kafka topic is required when brokers are set")
	}
	return nil
}
