package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lazypower/marksweep/internal/gc"
	"gopkg.in/yaml.v3"
)

// Config holds all marksweep configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Heap     HeapConfig     `yaml:"heap"`
	Sessions SessionsConfig `yaml:"sessions"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type HeapConfig struct {
	StackCapacity    int `yaml:"stack_capacity"`
	InitialThreshold int `yaml:"initial_threshold"`
	MaxObjects       int `yaml:"max_objects"` // 0 = unbounded
}

type SessionsConfig struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Heap: HeapConfig{
			StackCapacity:    gc.DefaultStackCapacity,
			InitialThreshold: gc.DefaultInitialThreshold,
		},
		Sessions: SessionsConfig{
			IdleTimeout:  30 * time.Minute,
			ReapInterval: time.Minute,
		},
	}
}

// DefaultPath returns the default config path: ~/.marksweep/config.yaml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".marksweep", "config.yaml"), nil
}

// Load reads a YAML config file over the defaults. A missing file is not an
// error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Heap.StackCapacity < 1 {
		return fmt.Errorf("heap.stack_capacity must be positive, got %d", c.Heap.StackCapacity)
	}
	if c.Heap.InitialThreshold < 1 {
		return fmt.Errorf("heap.initial_threshold must be positive, got %d", c.Heap.InitialThreshold)
	}
	if c.Heap.MaxObjects < 0 {
		return fmt.Errorf("heap.max_objects must not be negative, got %d", c.Heap.MaxObjects)
	}
	if c.Sessions.IdleTimeout < 0 || c.Sessions.ReapInterval < 0 {
		return fmt.Errorf("sessions durations must not be negative")
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// GC converts the heap section into collector settings.
func (h HeapConfig) GC() gc.Config {
	return gc.Config{
		StackCapacity:    h.StackCapacity,
		InitialThreshold: h.InitialThreshold,
		MaxObjects:       h.MaxObjects,
	}
}
