package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models stratline.yml.
type Config struct {
	Organization struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"organization"`
	Progress struct {
		// Weight credited to an in_progress action when rolling a
		// project's percentage up from its actions. achieved is always
		// 100; not_started and at_risk are always 0.
		InProgressWeight int `yaml:"in_progress_weight"`
	} `yaml:"progress"`
	Colors struct {
		Palette []string `yaml:"palette"`
	} `yaml:"colors"`
	Auth struct {
		TokenTTLHours int  `yaml:"token_ttl_hours"`
		AllowLegacy   bool `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// WebhookConfig names an HTTP endpoint that receives activity events. An
// empty Events list means every event type.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Organization.ID == "" {
		return fmt.Errorf("config.organization.id is required")
	}
	if c.Progress.InProgressWeight < 0 || c.Progress.InProgressWeight > 100 {
		return fmt.Errorf("config.progress.in_progress_weight must be between 0 and 100")
	}
	for _, color := range c.Colors.Palette {
		if !strings.HasPrefix(color, "#") || (len(color) != 7 && len(color) != 4) {
			return fmt.Errorf("config.colors.palette entry %q is not a hex color", color)
		}
	}
	if c.Auth.TokenTTLHours < 0 {
		return fmt.Errorf("config.auth.token_ttl_hours must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// InProgressWeight returns the configured partial weight, defaulting to the
// midpoint when the config omits it.
func (c *Config) InProgressWeight() int {
	if c == nil || c.Progress.InProgressWeight == 0 {
		return 50
	}
	return c.Progress.InProgressWeight
}

// TokenTTLHours returns the JWT lifetime, defaulting to 72 hours.
func (c *Config) TokenTTLHours() int {
	if c == nil || c.Auth.TokenTTLHours == 0 {
		return 72
	}
	return c.Auth.TokenTTLHours
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stratline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an organization.
func Default(orgID string) *Config {
	var cfg Config
	cfg.Organization.ID = orgID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, orgID))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `organization:
  id: %s
  name: ""

progress:
  in_progress_weight: 50

colors:
  palette:
    - "#2563eb"
    - "#16a34a"
    - "#d97706"
    - "#dc2626"
    - "#7c3aed"
    - "#0891b2"

auth:
  token_ttl_hours: 72
  allow_legacy_actor_header: false
`
