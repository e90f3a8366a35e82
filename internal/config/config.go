package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models tempora.yml.
type Config struct {
	Admin struct {
		Account string `yaml:"account"`
	} `yaml:"admin"`
	Trigger struct {
		// Strict makes triggers verify the referenced schedule: it must
		// exist, belong to the caller, be enabled and match the trigger
		// parameters. Off by default.
		Strict bool `yaml:"strict"`
	} `yaml:"trigger"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		// AllowInsecureHeader accepts a bare X-Account-Id header in place
		// of a token. Local development only.
		AllowInsecureHeader bool `yaml:"allow_insecure_header"`
	} `yaml:"auth"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Webhook is a subscriber notified of matching events.
type Webhook struct {
	URL   string   `yaml:"url"`
	Types []string `yaml:"types"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	cfg, err := FromFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config %s not found; create it or run tempora init", path)
	}
	return cfg, err
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return cfg, err
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Admin.Account == "" {
		return fmt.Errorf("config.admin.account is required")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Default returns the default Config for an admin account.
func Default(adminAccount string) *Config {
	var cfg Config
	cfg.Admin.Account = adminAccount
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(adminAccount string) string {
	return fmt.Sprintf(defaultTemplate, adminAccount)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "tempora.yml")
}

const defaultTemplate = `admin:
  account: %s

trigger:
  strict: false

auth:
  jwt_secret: ""
  allow_insecure_header: true
`
