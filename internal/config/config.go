package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds process configuration.
type Config struct {
	DatabaseURL    string
	HTTPAddr       string
	JWTSecret      string
	AuthDisabled   bool
	LogLevel       string
	DevMode        bool
	RequestTimeout time.Duration
	File           FileConfig
}

// FileConfig is the optional YAML file named by ALLOCATION_CONFIG.
type FileConfig struct {
	Schedule  ScheduleConfig `yaml:"schedule"`
	OACharges string         `yaml:"oa_charges"`
}

// ScheduleConfig controls the monthly calculation job. Cron takes a leading
// seconds field.
type ScheduleConfig struct {
	Cron      string        `yaml:"cron"`
	Companies []string      `yaml:"companies"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Enabled reports whether the monthly job should be registered.
func (s ScheduleConfig) Enabled() bool {
	return s.Cron != "" && len(s.Companies) > 0
}

// Load reads .env (if present), the environment and the optional YAML file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:    getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:       getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:      getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		AuthDisabled:   getenvBool("AUTH_DISABLED", false),
		LogLevel:       getenvDefault("LOG_LEVEL", "info"),
		DevMode:        getenvBool("DEV_MODE", false),
		RequestTimeout: getenvDuration("HTTP_REQUEST_TIMEOUT", 60*time.Second),
	}

	if path := os.Getenv("ALLOCATION_CONFIG"); path != "" {
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg.File = file
	}
	if cfg.File.Schedule.Cron == "" {
		cfg.File.Schedule.Cron = getenvDefault("ALLOCATION_SCHEDULE", "")
	}
	if len(cfg.File.Schedule.Companies) == 0 {
		cfg.File.Schedule.Companies = splitCSV(getenvDefault("ALLOCATION_COMPANIES", ""))
	}
	if cfg.File.Schedule.Timeout <= 0 {
		cfg.File.Schedule.Timeout = getenvDuration("ALLOCATION_JOB_TIMEOUT", 5*time.Minute)
	}
	if cfg.File.OACharges == "" {
		cfg.File.OACharges = getenvDefault("OA_CHARGES_FILE", "")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses the YAML config file at path.
func LoadFile(path string) (FileConfig, error) {
	var file FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return file, err
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, err
	}
	file.Schedule.Companies = compact(file.Schedule.Companies)
	return file, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL or PG_DSN is required")
	}
	if c.JWTSecret == "" && !c.AuthDisabled {
		return errors.New("config: AUTH_JWT_SECRET is required unless AUTH_DISABLED=true")
	}
	if c.File.Schedule.Cron != "" && len(c.File.Schedule.Companies) == 0 {
		return errors.New("config: schedule needs at least one company")
	}
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	return compact(strings.Split(value, ","))
}

func compact(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
