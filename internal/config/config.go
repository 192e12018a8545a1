// internal/config/config.go
//
// This package handles configuration and the .codeforge directory structure.
// Every project served by codeforge gets a .codeforge/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".codeforge"

	// DefaultHost is the loopback interface the worker listens on.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the TCP port for the wire protocol listener.
	DefaultPort = 1895
	// DefaultStatusPort is the HTTP port for the read-only status API.
	DefaultStatusPort = 1896
	// DefaultMaxFrameBytes caps a single wire frame payload.
	DefaultMaxFrameBytes = 16 << 20

	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o"
	defaultTemperature = 0.7
	defaultTopP        = 0.9
	defaultMaxAttempts = 3
	defaultLanguage    = "Rust"
	defaultExtension   = ".rs"
)

const defaultProjectConfigYAML = `# codeforge project configuration
version: 1

# OpenAI-compatible chat completions backend. The API key is read from
# OPENAI_API_KEY (environment or .codeforge/.env), never from this file.
llm:
  base_url: https://api.openai.com/v1
  model: gpt-4o
  temperature: 0.7
  top_p: 0.9

generation:
  # Total backend calls per generation when the reply cannot be parsed.
  max_attempts: 3
  # 0 leaves concurrent generations unbounded.
  max_in_flight: 0
  # Start CodeGen jobs as soon as the execution plan lands.
  auto_start: false
  language: Rust
  extension: .rs

server:
  host: 127.0.0.1
  port: 1895
  max_frame_bytes: 16777216

status:
  enabled: false
  host: 127.0.0.1
  port: 1896
`

// LLMConfig selects the generation backend.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
}

// GenerationConfig tunes the worker and planner.
type GenerationConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	MaxInFlight int    `yaml:"max_in_flight"`
	AutoStart   bool   `yaml:"auto_start"`
	Language    string `yaml:"language"`
	Extension   string `yaml:"extension"`
}

// ServerConfig configures the wire protocol listener.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	MaxFrameBytes int    `yaml:"max_frame_bytes"`
}

// StatusConfig configures the optional HTTP status API.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ProjectConfig models .codeforge/config.yaml.
type ProjectConfig struct {
	Version    int              `yaml:"version"`
	LLM        LLMConfig        `yaml:"llm"`
	Generation GenerationConfig `yaml:"generation"`
	Server     ServerConfig     `yaml:"server"`
	Status     StatusConfig     `yaml:"status"`
}

// Config holds the runtime configuration for codeforge.
type Config struct {
	// ProjectDir is the directory codeforge was started from
	ProjectDir string

	// ForgeDir is ProjectDir/.codeforge
	ForgeDir string

	// APIKey is only ever sourced from the environment
	APIKey string

	Project ProjectConfig
}

// InitDir creates the .codeforge directory structure in the given project directory.
//
// Structure created:
// .codeforge/
// ├── config.yaml
// ├── logs/       <- codeforge.log and jobs.log
// └── providers/  <- Go scripts describing Custom interfaces
func InitDir(projectDir string) error {
	forgeDir := filepath.Join(projectDir, Dir)
	dirs := []string{
		filepath.Join(forgeDir, "logs"),
		filepath.Join(forgeDir, "providers"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(forgeDir, "config.yaml"))
}

// Load reads .codeforge/config.yaml (if any), then .env files, then applies
// environment overrides. Values already present in the process environment
// win over .env entries.
func Load(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir: projectDir,
		ForgeDir:   filepath.Join(projectDir, Dir),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.loadDotEnv(); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	cfg.Project.normalize()
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.ForgeDir, "logs")
}

// ProvidersDir returns the directory scanned for Go-script context providers
func (c *Config) ProvidersDir() string {
	return filepath.Join(c.ForgeDir, "providers")
}

// JournalPath returns the job lifecycle log file
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "jobs.log")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ForgeDir, "config.yaml")
}

// ServerAddress returns the wire listener address in host:port form.
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Project.Server.Host, strconv.Itoa(c.Project.Server.Port))
}

// StatusAddress returns the status API address in host:port form.
func (c *Config) StatusAddress() string {
	return net.JoinHostPort(c.Project.Status.Host, strconv.Itoa(c.Project.Status.Port))
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	// Keys absent from the file keep their defaults.
	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func (c *Config) loadDotEnv() error {
	var files []string
	for _, candidate := range []string{
		filepath.Join(c.ForgeDir, ".env"),
		filepath.Join(c.ProjectDir, ".env"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			files = append(files, candidate)
		}
	}
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	p := &c.Project
	if value := strings.TrimSpace(os.Getenv("CODEFORGE_BASE_URL")); value != "" {
		p.LLM.BaseURL = value
	}
	if value := strings.TrimSpace(os.Getenv("CODEFORGE_MODEL")); value != "" {
		p.LLM.Model = value
	}
	if host := strings.TrimSpace(os.Getenv("CODEFORGE_HOST")); host != "" {
		p.Server.Host = host
	}
	if port, ok := envPort("CODEFORGE_PORT"); ok {
		p.Server.Port = port
	}
	if value := strings.TrimSpace(os.Getenv("CODEFORGE_STATUS_ENABLED")); value != "" {
		if enabled, err := strconv.ParseBool(value); err == nil {
			p.Status.Enabled = enabled
		}
	}
	if port, ok := envPort("CODEFORGE_STATUS_PORT"); ok {
		p.Status.Port = port
	}
}

func envPort(key string) (int, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || !isValidPort(parsed) {
		return 0, false
	}
	return parsed, true
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		LLM: LLMConfig{
			BaseURL:     defaultBaseURL,
			Model:       defaultModel,
			Temperature: defaultTemperature,
			TopP:        defaultTopP,
		},
		Generation: GenerationConfig{
			MaxAttempts: defaultMaxAttempts,
			Language:    defaultLanguage,
			Extension:   defaultExtension,
		},
		Server: ServerConfig{
			Host:          DefaultHost,
			Port:          DefaultPort,
			MaxFrameBytes: DefaultMaxFrameBytes,
		},
		Status: StatusConfig{
			Host: DefaultHost,
			Port: DefaultStatusPort,
		},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Generation.MaxAttempts == 0 {
		pc.Generation.MaxAttempts = defaultMaxAttempts
	}
	if pc.Server.MaxFrameBytes == 0 {
		pc.Server.MaxFrameBytes = DefaultMaxFrameBytes
	}
}

func (pc *ProjectConfig) normalize() {
	pc.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(pc.LLM.BaseURL), "/")
	if pc.LLM.BaseURL == "" {
		pc.LLM.BaseURL = defaultBaseURL
	}
	pc.LLM.Model = strings.TrimSpace(pc.LLM.Model)
	if pc.LLM.Model == "" {
		pc.LLM.Model = defaultModel
	}
	pc.Generation.Language = strings.TrimSpace(pc.Generation.Language)
	if pc.Generation.Language == "" {
		pc.Generation.Language = defaultLanguage
	}
	ext := strings.TrimSpace(pc.Generation.Extension)
	if ext == "" {
		ext = defaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	pc.Generation.Extension = ext
	pc.Server.Host = strings.TrimSpace(pc.Server.Host)
	if pc.Server.Host == "" {
		pc.Server.Host = DefaultHost
	}
	pc.Status.Host = strings.TrimSpace(pc.Status.Host)
	if pc.Status.Host == "" {
		pc.Status.Host = DefaultHost
	}
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.LLM.Temperature < 0 || pc.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if pc.LLM.TopP <= 0 || pc.LLM.TopP > 1 {
		return fmt.Errorf("llm.top_p must be in (0, 1]")
	}
	if pc.Generation.MaxAttempts < 1 {
		return fmt.Errorf("generation.max_attempts must be >= 1")
	}
	if pc.Generation.MaxInFlight < 0 {
		return fmt.Errorf("generation.max_in_flight must be >= 0")
	}
	if !isValidPort(pc.Server.Port) {
		return fmt.Errorf("server.port %d is out of range", pc.Server.Port)
	}
	if pc.Server.MaxFrameBytes < 1 {
		return fmt.Errorf("server.max_frame_bytes must be positive")
	}
	if !isValidPort(pc.Status.Port) {
		return fmt.Errorf("status.port %d is out of range", pc.Status.Port)
	}
	return nil
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

// Save writes the project config back to .codeforge/config.yaml.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.ForgeDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure codeforge dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
