package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"shopflow/internal/domain"
)

// Config models shopflow.yml: the workflow template seeded into new
// projects plus server-side webhook targets.
type Config struct {
	Workflow struct {
		Statuses    []StatusTemplate     `yaml:"statuses"`
		Transitions []TransitionTemplate `yaml:"transitions"`
	} `yaml:"workflow"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

// StatusTemplate describes one status seeded when a project is created.
type StatusTemplate struct {
	Name      string `yaml:"name"`
	Color     string `yaml:"color"`
	IsInitial bool   `yaml:"is_initial"`
	IsFinal   bool   `yaml:"is_final"`
	IsSystem  bool   `yaml:"is_system"`
}

// TransitionTemplate describes one transition seeded when a project is
// created. From/To reference status template names.
type TransitionTemplate struct {
	From               string        `yaml:"from"`
	To                 string        `yaml:"to"`
	Name               string        `yaml:"name"`
	Permission         string        `yaml:"permission"` // open | roles | users
	Roles              []domain.Role `yaml:"roles,omitempty"`
	Users              []string      `yaml:"users,omitempty"`
	Bidirectional      bool          `yaml:"bidirectional"`
	RequiresAttachment bool          `yaml:"requires_attachment"`
	RequiredApprovals  int           `yaml:"required_approvals"`
	RequiredApprovers  []string      `yaml:"required_approvers,omitempty"`
	Auto               bool          `yaml:"auto"`
	Priority           int           `yaml:"priority"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Actions        []string `yaml:"actions,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// Validate ensures the template is internally consistent.
func (c *Config) Validate() error {
	if len(c.Workflow.Statuses) == 0 {
		return fmt.Errorf("workflow.statuses is required")
	}
	names := map[string]bool{}
	initials := 0
	for _, s := range c.Workflow.Statuses {
		if s.Name == "" {
			return fmt.Errorf("workflow.statuses contains an unnamed status")
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate status name %q", s.Name)
		}
		names[s.Name] = true
		if s.IsInitial {
			initials++
		}
	}
	if initials != 1 {
		return fmt.Errorf("workflow.statuses must have exactly one initial status, found %d", initials)
	}
	for _, t := range c.Workflow.Transitions {
		if !names[t.From] {
			return fmt.Errorf("transition %q references unknown from-status %q", t.Name, t.From)
		}
		if !names[t.To] {
			return fmt.Errorf("transition %q references unknown to-status %q", t.Name, t.To)
		}
		switch t.Permission {
		case "", string(domain.PermissionOpen):
		case string(domain.PermissionRoles):
			for _, r := range t.Roles {
				if !domain.ValidRole(r) {
					return fmt.Errorf("transition %q has unknown role %q", t.Name, r)
				}
			}
		case string(domain.PermissionUsers):
		default:
			return fmt.Errorf("transition %q has unknown permission kind %q", t.Name, t.Permission)
		}
		if t.RequiredApprovals < 0 {
			return fmt.Errorf("transition %q has negative required_approvals", t.Name)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "shopflow.yml")
}

// Load reads config from the workspace, falling back to the embedded
// default template when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in workflow template.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default template invalid: %v", err))
	}
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

const defaultTemplate = `workflow:
  statuses:
    - name: Backlog
      color: "#94a3b8"
      is_initial: true
    - name: In Progress
      color: "#3b82f6"
    - name: In Review
      color: "#f59e0b"
    - name: Done
      color: "#10b981"
      is_final: true
      is_system: true
    - name: Cancelled
      color: "#ef4444"
      is_final: true
      is_system: true

  transitions:
    - from: Backlog
      to: In Progress
      name: Start work
      permission: open
    - from: In Progress
      to: In Review
      name: Submit for review
      permission: open
      bidirectional: true
    - from: In Review
      to: Done
      name: Approve and close
      permission: roles
      roles: [owner, admin]
    - from: In Progress
      to: Cancelled
      name: Cancel
      permission: roles
      roles: [owner, admin]
`
