package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultTemplateIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default template: %v", err)
	}
	if len(cfg.Workflow.Statuses) != 5 {
		t.Fatalf("default has %d statuses, want 5", len(cfg.Workflow.Statuses))
	}
	if len(cfg.Workflow.Transitions) != 4 {
		t.Fatalf("default has %d transitions, want 4", len(cfg.Workflow.Transitions))
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Workflow.Statuses) == 0 {
		t.Fatal("expected the embedded default template")
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	raw := `workflow:
  statuses:
    - name: Queued
      is_initial: true
    - name: Shipped
      is_final: true
  transitions:
    - from: Queued
      to: Shipped
      name: Ship
      permission: open
`
	if err := os.WriteFile(filepath.Join(dir, "shopflow.yml"), []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Workflow.Statuses) != 2 || cfg.Workflow.Statuses[0].Name != "Queued" {
		t.Fatalf("loaded statuses = %+v", cfg.Workflow.Statuses)
	}
}

func TestValidateRejectsBadTemplates(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no statuses",
			yaml: "workflow:\n  statuses: []\n",
			want: "statuses is required",
		},
		{
			name: "no initial status",
			yaml: "workflow:\n  statuses:\n    - name: A\n    - name: B\n",
			want: "exactly one initial",
		},
		{
			name: "two initial statuses",
			yaml: "workflow:\n  statuses:\n    - name: A\n      is_initial: true\n    - name: B\n      is_initial: true\n",
			want: "exactly one initial",
		},
		{
			name: "duplicate status name",
			yaml: "workflow:\n  statuses:\n    - name: A\n      is_initial: true\n    - name: A\n",
			want: "duplicate status name",
		},
		{
			name: "transition to unknown status",
			yaml: "workflow:\n  statuses:\n    - name: A\n      is_initial: true\n  transitions:\n    - from: A\n      to: Missing\n      name: Go\n",
			want: "unknown to-status",
		},
		{
			name: "unknown permission kind",
			yaml: "workflow:\n  statuses:\n    - name: A\n      is_initial: true\n    - name: B\n  transitions:\n    - from: A\n      to: B\n      name: Go\n      permission: everyone\n",
			want: "unknown permission kind",
		},
		{
			name: "unknown role",
			yaml: "workflow:\n  statuses:\n    - name: A\n      is_initial: true\n    - name: B\n  transitions:\n    - from: A\n      to: B\n      name: Go\n      permission: roles\n      roles: [superuser]\n",
			want: "unknown role",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
