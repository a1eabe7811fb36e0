// Package config loads service settings from a YAML or TOML file, a .env
// file and the environment, in increasing order of precedence.
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
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Db      DbConfig      `yaml:"db" toml:"db"`
	Redis   RedisConfig   `yaml:"redis" toml:"redis"`
	Sandbox SandboxConfig `yaml:"sandbox" toml:"sandbox"`
	Workers WorkerConfig  `yaml:"workers" toml:"workers"`
	Limits  LimitConfig   `yaml:"limits" toml:"limits"`
	Catalog CatalogConfig `yaml:"catalog" toml:"catalog"`
	Log     LogConfig     `yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Port         string `yaml:"port" toml:"port"`
	ReadTimeout  int    `yaml:"readTimeout" toml:"read_timeout"`   // seconds
	WriteTimeout int    `yaml:"writeTimeout" toml:"write_timeout"` // seconds
	IdleTimeout  int    `yaml:"idleTimeout" toml:"idle_timeout"`   // seconds
	Mode         string `yaml:"mode" toml:"mode"`                  // gin mode
}

type DbConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	Name     string `yaml:"name" toml:"name"`
	SSLMode  string `yaml:"sslMode" toml:"ssl_mode"`
	MaxConns int32  `yaml:"maxConns" toml:"max_conns"`
	LogQuery bool   `yaml:"logQueries" toml:"log_queries"`
}

// RedisConfig enables the verdict cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	TTL      int    `yaml:"ttl" toml:"ttl"` // seconds
}

type SandboxConfig struct {
	MemoryMB       int64             `yaml:"memoryMB" toml:"memory_mb"`
	CPUFraction    float64           `yaml:"cpuFraction" toml:"cpu_fraction"`
	MaxProcesses   int64             `yaml:"maxProcesses" toml:"max_processes"`
	Timeout        int               `yaml:"timeout" toml:"timeout"`               // seconds
	CompileTimeout int               `yaml:"compileTimeout" toml:"compile_timeout"` // seconds
	OutputLimitMB  int               `yaml:"outputLimitMB" toml:"output_limit_mb"`
	PullImages     bool              `yaml:"pullImages" toml:"pull_images"`
	Images         map[string]string `yaml:"images" toml:"images"`
}

type WorkerConfig struct {
	Count         int `yaml:"count" toml:"count"`
	QueueCapacity int `yaml:"queueCapacity" toml:"queue_capacity"`
}

type LimitConfig struct {
	GlobalRPS        float64 `yaml:"globalRPS" toml:"global_rps"`
	ExecutePerMinute int     `yaml:"executePerMinute" toml:"execute_per_minute"`
	APIPerMinute     int     `yaml:"apiPerMinute" toml:"api_per_minute"`
	MaxConcurrent    int     `yaml:"maxConcurrent" toml:"max_concurrent"`
}

// CatalogConfig selects where problems are read from: "file" or "postgres".
type CatalogConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Dir     string `yaml:"dir" toml:"dir"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // "console" or "json"
}

// Default returns a configuration that runs with the flat-file catalog and
// no cache.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "3001",
			ReadTimeout:  10,
			WriteTimeout: 60,
			IdleTimeout:  120,
			Mode:         "release",
		},
		Db: DbConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "codemare",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Redis: RedisConfig{TTL: 600},
		Sandbox: SandboxConfig{
			MemoryMB:       256,
			CPUFraction:    0.5,
			MaxProcesses:   50,
			Timeout:        10,
			CompileTimeout: 15,
			OutputLimitMB:  10,
		},
		Workers: WorkerConfig{Count: 5, QueueCapacity: 100},
		Limits: LimitConfig{
			GlobalRPS:        100,
			ExecutePerMinute: 10,
			APIPerMinute:     100,
			MaxConcurrent:    20,
		},
		Catalog: CatalogConfig{Backend: "file", Dir: "data/problems"},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// LoadConfig reads .env, then the file named by CONFIG_PATH (or
// DefaultPath), then environment overrides.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return Load(path)
}

// Load builds a Config from defaults, the file at path if it exists, and the
// environment.
func Load(path string) (*Config, error) {
	conf := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config file failed: %w", err)
	default:
		if err := decode(path, data, conf); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func decode(path string, data []byte, conf *Config) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, conf)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, conf)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func applyEnv(conf *Config) error {
	str := map[string]*string{
		"PORT":           &conf.Server.Port,
		"GIN_MODE":       &conf.Server.Mode,
		"DB_HOST":        &conf.Db.Host,
		"DB_USER":        &conf.Db.User,
		"DB_PASS":        &conf.Db.Password,
		"DB_NAME":        &conf.Db.Name,
		"DB_SSLMODE":     &conf.Db.SSLMode,
		"REDIS_ADDR":     &conf.Redis.Addr,
		"REDIS_PASSWORD": &conf.Redis.Password,
		"CATALOG":        &conf.Catalog.Backend,
		"CATALOG_DIR":    &conf.Catalog.Dir,
		"LOG_LEVEL":      &conf.Log.Level,
		"LOG_FORMAT":     &conf.Log.Format,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DB_PORT":         &conf.Db.Port,
		"WORKERS":         &conf.Workers.Count,
		"QUEUE_CAPACITY":  &conf.Workers.QueueCapacity,
		"SANDBOX_TIMEOUT": &conf.Sandbox.Timeout,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Sandbox.MemoryMB <= 0 {
		errs = append(errs, errors.New("sandbox memory must be positive"))
	}
	if c.Sandbox.CPUFraction <= 0 {
		errs = append(errs, errors.New("sandbox cpu fraction must be positive"))
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, errors.New("sandbox timeout must be positive"))
	}
	if c.Workers.Count <= 0 || c.Workers.QueueCapacity <= 0 {
		errs = append(errs, errors.New("worker count and queue capacity must be positive"))
	}
	switch c.Catalog.Backend {
	case "file":
		if c.Catalog.Dir == "" {
			errs = append(errs, errors.New("catalog dir is required for the file backend"))
		}
	case "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown catalog backend %q", c.Catalog.Backend))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// SandboxTimeout is the wall-clock limit of one invocation.
func (c *Config) SandboxTimeout() time.Duration {
	return time.Duration(c.Sandbox.Timeout) * time.Second
}
