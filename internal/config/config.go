// Package config loads server and client settings from defaults, an
// optional YAML file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// DefaultPath is read when CHATSYNC_CONFIG is unset
const DefaultPath = "chatsync.yaml"

type Config struct {
	Env            string   `yaml:"env"`
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	Store    string         `yaml:"store"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`

	Auth   AuthConfig   `yaml:"auth"`
	Limits LimitsConfig `yaml:"limits"`

	Client ClientConfig `yaml:"client"`
}

type PostgresConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type LimitsConfig struct {
	Conversation int `yaml:"conversation"`
	Participant  int `yaml:"participant"`
	Reconcile    int `yaml:"reconcile_concurrency"`
}

// ClientConfig is read by chatctl
type ClientConfig struct {
	ServerURL string `yaml:"server_url"`
	Token     string `yaml:"token"`
}

// DefaultConfig returns the built-in settings
func DefaultConfig() *Config {
	return &Config{
		Env:            "development",
		Port:           "8080",
		AllowedOrigins: []string{"http://localhost:3000"},
		Store:          StoreMemory,
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Limits: LimitsConfig{
			Conversation: 100,
			Participant:  500,
			Reconcile:    4,
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:8080",
		},
	}
}

// Load reads path (missing files are fine), then .env, then the environment
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// .env is optional
	_ = godotenv.Load()

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the config file location from CHATSYNC_CONFIG or DefaultPath
func Path() string {
	if p := os.Getenv("CHATSYNC_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

func (c *Config) applyEnvOverrides() error {
	setString(&c.Env, "ENV")
	setString(&c.Port, "PORT")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}

	setString(&c.Store, "STORE")
	setString(&c.Postgres.URL, "DATABASE_URL")
	setString(&c.Postgres.Host, "DB_HOST")
	setString(&c.Postgres.Port, "DB_PORT")
	setString(&c.Postgres.Name, "DB_NAME")
	setString(&c.Postgres.User, "DB_USER")
	setString(&c.Postgres.Password, "DB_PASSWORD")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	if err := setInt(&c.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}

	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	setString(&c.Auth.Issuer, "JWT_ISSUER")

	if err := setInt(&c.Limits.Conversation, "PAGE_LIMIT"); err != nil {
		return err
	}

	setString(&c.Client.ServerURL, "CHATSYNC_SERVER")
	setString(&c.Client.Token, "CHATSYNC_TOKEN")
	return nil
}

// DatabaseURL returns the postgres URL, building it from the DB_* parts
// when no URL is set
func (c *Config) DatabaseURL() string {
	if c.Postgres.URL != "" {
		return c.Postgres.URL
	}
	p := c.Postgres
	port := p.Port
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", p.User, p.Password, p.Host, port, p.Name)
}

// Validate checks the server settings
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.Store {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if c.Postgres.URL == "" && (c.Postgres.Host == "" || c.Postgres.Name == "" || c.Postgres.User == "") {
			errs = append(errs, errors.New("database connection details missing: set DATABASE_URL or DB_HOST, DB_NAME and DB_USER"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store %q", c.Store))
	}
	if c.Limits.Conversation <= 0 || c.Limits.Participant <= 0 {
		errs = append(errs, errors.New("limits must be positive"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether Env is production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
