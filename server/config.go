package server

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the service configuration with declarative defaults.
type Config struct {
	Addr     string `yaml:"addr" default:":8080" validate:"required"`
	FlowsDir string `yaml:"flows_dir" default:"flows" validate:"required"`

	OpenAI struct {
		Model     string `yaml:"model" default:"gpt-4o-mini" validate:"required"`
		APIKeyEnv string `yaml:"api_key_env" default:"OPENAI_API_KEY" validate:"required"`
	} `yaml:"openai"`
}

// LoadConfig reads an optional YAML config file, applies struct-tag
// defaults, and validates the result. An empty path yields the defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("error unmarshalling config: %w", err)
		}
	}

	if err := defaults.Set(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}
