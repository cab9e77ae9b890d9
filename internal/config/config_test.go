package config

import (
	"strings"
	"testing"

	"verdict/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default("proj-1")
	if cfg.Project.ID != "proj-1" {
		t.Fatalf("project id = %q", cfg.Project.ID)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	a := cfg.AutoExecution
	if !a.Enabled {
		t.Fatal("expected auto-execution enabled by default")
	}
	if a.MaxRiskLevel != domain.RiskLow {
		t.Fatalf("max risk level = %q, want low", a.MaxRiskLevel)
	}
	if !a.TypeAllowed(domain.TypeFeature) || !a.TypeAllowed(domain.TypePriority) {
		t.Fatal("feature and priority should be allowed by default")
	}
	if a.TypeAllowed(domain.TypeTechnical) {
		t.Fatal("technical should not be allowed by default")
	}
	if !a.ImportanceExcluded(domain.ImportanceHigh) || !a.ImportanceExcluded(domain.ImportanceCritical) {
		t.Fatal("high and critical importance should be excluded by default")
	}
	if a.Limit() != DefaultBatchLimit {
		t.Fatalf("limit = %d, want %d", a.Limit(), DefaultBatchLimit)
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`project:
  id: demo
auto_execution:
  enabled: true
  max_risk_level: medium
  allowed_types: [feature, design]
  excluded_importance: [critical]
  batch_limit: 10
`))
	if err != nil {
		t.Fatalf("FromYAML: %v", err)
	}
	if cfg.AutoExecution.MaxRiskLevel != domain.RiskMedium {
		t.Fatalf("max risk level = %q", cfg.AutoExecution.MaxRiskLevel)
	}
	if cfg.AutoExecution.Limit() != 10 {
		t.Fatalf("limit = %d", cfg.AutoExecution.Limit())
	}
	if cfg.AutoExecution.ImportanceExcluded(domain.ImportanceHigh) {
		t.Fatal("high should not be excluded here")
	}
}

func TestValidateRejectsHighRiskCap(t *testing.T) {
	cfg := Default("demo")
	cfg.AutoExecution.MaxRiskLevel = domain.RiskHigh
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for max_risk_level high")
	}
	if !strings.Contains(err.Error(), "max_risk_level") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	cfg := Default("demo")
	cfg.AutoExecution.AllowedTypes = append(cfg.AutoExecution.AllowedTypes, domain.DecisionType("bogus"))
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown type")
	}

	cfg = Default("demo")
	cfg.AutoExecution.ExcludedImportance = []domain.Importance{"sometimes"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown importance")
	}

	cfg = Default("demo")
	cfg.Project.ID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing project id")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault("demo")))
	if err != nil {
		t.Fatalf("generated default does not parse: %v", err)
	}
	if cfg.Project.ID != "demo" {
		t.Fatalf("project id = %q", cfg.Project.ID)
	}
}
