package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"verdict/internal/domain"
)

// Config models verdict.yml.
type Config struct {
	Project struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"project" json:"project"`
	AutoExecution AutoExecution   `yaml:"auto_execution" json:"auto_execution"`
	Webhooks      []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// AutoExecution is the per-user policy gating unattended approvals. It is
// treated as an immutable snapshot for the duration of one batch run.
type AutoExecution struct {
	Enabled            bool                  `yaml:"enabled" json:"enabled"`
	MaxRiskLevel       domain.RiskLevel      `yaml:"max_risk_level" json:"max_risk_level"`
	AllowedTypes       []domain.DecisionType `yaml:"allowed_types" json:"allowed_types"`
	ExcludedImportance []domain.Importance   `yaml:"excluded_importance" json:"excluded_importance"`
	SendNotification   bool                  `yaml:"send_notification" json:"send_notification"`
	BatchLimit         int                   `yaml:"batch_limit" json:"batch_limit"`
}

// DefaultBatchLimit bounds one auto-execution sweep.
const DefaultBatchLimit = 50

// TypeAllowed reports whether t is in the allowed-types set.
func (a AutoExecution) TypeAllowed(t domain.DecisionType) bool {
	for _, k := range a.AllowedTypes {
		if k == t {
			return true
		}
	}
	return false
}

// ImportanceExcluded reports whether i always requires a human.
func (a AutoExecution) ImportanceExcluded(i domain.Importance) bool {
	for _, k := range a.ExcludedImportance {
		if k == i {
			return true
		}
	}
	return false
}

// Limit returns the effective batch cap.
func (a AutoExecution) Limit() int {
	if a.BatchLimit > 0 {
		return a.BatchLimit
	}
	return DefaultBatchLimit
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with vd config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure. The max risk level
// is capped at medium: auto-execution must never reach high or critical by
// configuration.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	a := c.AutoExecution
	if a.MaxRiskLevel != domain.RiskLow && a.MaxRiskLevel != domain.RiskMedium {
		return fmt.Errorf("config.auto_execution.max_risk_level must be low or medium, got %q", a.MaxRiskLevel)
	}
	for _, t := range a.AllowedTypes {
		if !t.Known() {
			return fmt.Errorf("config.auto_execution.allowed_types contains unknown type %q", t)
		}
	}
	for _, i := range a.ExcludedImportance {
		if !i.Known() {
			return fmt.Errorf("config.auto_execution.excluded_importance contains unknown importance %q", i)
		}
	}
	if a.BatchLimit < 0 {
		return fmt.Errorf("config.auto_execution.batch_limit must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "verdict.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project. The defaults are
// conservative: only low-risk types, high and critical importance excluded.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
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

const defaultTemplate = `project:
  id: %s

auto_execution:
  enabled: true
  max_risk_level: low
  allowed_types: [feature, priority]
  excluded_importance: [high, critical]
  send_notification: true
  batch_limit: 50
`
