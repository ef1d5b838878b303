package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAppURL                   = "https://github.com/eduia/tutor"
	DefaultAppTitle                 = "EduIA"
	DefaultGeminiModel              = "gemini-2.5-flash"
	DefaultGeminiTemperature        = 0.7
	DefaultOpenRouterModel          = "google/gemini-2.5-flash"
	DefaultOpenRouterReasoningModel = "google/gemini-2.5-pro"
	DefaultLogLevel                 = "warn"
)

// credentialEnvVars are consulted in order when api_key is not configured.
var credentialEnvVars = []string{"EDUIA_API_KEY", "API_KEY", "OPENROUTER_API_KEY", "GEMINI_API_KEY"}

type Config struct {
	APIKey       string           `mapstructure:"api_key" yaml:"api_key,omitempty"`
	AppURL       string           `mapstructure:"app_url" yaml:"app_url"`
	AppTitle     string           `mapstructure:"app_title" yaml:"app_title"`
	Gemini       GeminiConfig     `mapstructure:"gemini" yaml:"gemini"`
	OpenRouter   OpenRouterConfig `mapstructure:"openrouter" yaml:"openrouter"`
	PersonasFile string           `mapstructure:"personas_file" yaml:"personas_file,omitempty"`
	LogLevel     string           `mapstructure:"log_level" yaml:"log_level"`
}

type GeminiConfig struct {
	Model       string  `mapstructure:"model" yaml:"model"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature"`
	Search      bool    `mapstructure:"search" yaml:"search"`
}

type OpenRouterConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Model          string `mapstructure:"model" yaml:"model"`
	ReasoningModel string `mapstructure:"reasoning_model" yaml:"reasoning_model"`
	Stream         bool   `mapstructure:"stream" yaml:"stream"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		AppURL:   DefaultAppURL,
		AppTitle: DefaultAppTitle,
		Gemini: GeminiConfig{
			Model:       DefaultGeminiModel,
			Temperature: DefaultGeminiTemperature,
			Search:      true,
		},
		OpenRouter: OpenRouterConfig{
			Model:          DefaultOpenRouterModel,
			ReasoningModel: DefaultOpenRouterReasoningModel,
			Stream:         true,
		},
		LogLevel: DefaultLogLevel,
	}
}

// Load reads config.yaml from the user config directory or the working
// directory. A missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads the config at path, or searches the default locations when
// path is empty.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EDUIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := configDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	// Read config file (optional - won't error if missing)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	key, err := ResolveValue(context.Background(), "api_key", cfg.APIKey)
	if err != nil {
		return nil, err
	}
	cfg.APIKey = key
	if cfg.APIKey == "" {
		cfg.APIKey = credentialFromEnv()
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("api_key", "")
	v.SetDefault("app_url", d.AppURL)
	v.SetDefault("app_title", d.AppTitle)
	v.SetDefault("gemini.model", d.Gemini.Model)
	v.SetDefault("gemini.temperature", d.Gemini.Temperature)
	v.SetDefault("gemini.search", d.Gemini.Search)
	v.SetDefault("openrouter.base_url", "")
	v.SetDefault("openrouter.model", d.OpenRouter.Model)
	v.SetDefault("openrouter.reasoning_model", d.OpenRouter.ReasoningModel)
	v.SetDefault("openrouter.stream", d.OpenRouter.Stream)
	v.SetDefault("personas_file", "")
	v.SetDefault("log_level", d.LogLevel)
}

func credentialFromEnv() string {
	for _, name := range credentialEnvVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// Credential returns the resolved API key, or "" when none was found.
func (c *Config) Credential() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.APIKey)
}

func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "eduia"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config dir: %w", err)
	}
	return filepath.Join(dir, "eduia"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Save writes the config to the default location.
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes cfg as YAML to path.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
