package policy_test

import (
	"testing"

	"verdict/internal/config"
	"verdict/internal/domain"
	"verdict/internal/policy"
)

func decision(typ domain.DecisionType, imp domain.Importance) domain.Decision {
	return domain.Decision{
		ID:         "d-1",
		UserID:     "user-1",
		ProjectID:  "proj-1",
		Title:      "test decision",
		Type:       typ,
		Importance: imp,
		Status:     domain.StatusProposed,
	}
}

func withRisks(d domain.Decision, risksJSON string) domain.Decision {
	d.RisksJSON = &risksJSON
	return d
}

func defaultPolicy() config.AutoExecution {
	return config.Default("proj-1").AutoExecution
}

func TestAssessImportanceMapsToRisk(t *testing.T) {
	cases := []struct {
		imp  domain.Importance
		want domain.RiskLevel
	}{
		{domain.ImportanceLow, domain.RiskLow},
		{domain.ImportanceMedium, domain.RiskMedium},
		{domain.ImportanceHigh, domain.RiskHigh},
		{domain.ImportanceCritical, domain.RiskCritical},
	}
	for _, c := range cases {
		got := policy.Assess(decision(domain.TypeFeature, c.imp))
		if got.Level != c.want {
			t.Errorf("importance %s: got %s, want %s", c.imp, got.Level, c.want)
		}
	}
}

func TestAssessHighImportanceNeverLowRisk(t *testing.T) {
	for _, imp := range []domain.Importance{domain.ImportanceHigh, domain.ImportanceCritical} {
		for _, typ := range domain.DecisionTypes {
			a := policy.Assess(decision(typ, imp))
			if a.Level == domain.RiskLow || a.Level == domain.RiskMedium {
				t.Errorf("type=%s importance=%s assessed below high: %s", typ, imp, a.Level)
			}
		}
	}
}

func TestAssessRisksEscalate(t *testing.T) {
	d := withRisks(decision(domain.TypeFeature, domain.ImportanceLow), `[{"description":"might regress","severity":"low"}]`)
	a := policy.Assess(d)
	if a.Level != domain.RiskMedium {
		t.Fatalf("expected medium after escalation, got %s", a.Level)
	}
	if a.RequiresConfirmation {
		t.Fatalf("low-severity risk should not force confirmation")
	}
}

func TestAssessHighSeverityRiskForcesConfirmation(t *testing.T) {
	d := withRisks(decision(domain.TypeFeature, domain.ImportanceLow), `[{"description":"data loss","severity":"high"}]`)
	a := policy.Assess(d)
	if !a.RequiresConfirmation {
		t.Fatalf("expected confirmation for high-severity risk")
	}
}

func TestAssessUnknownValuesFailSafe(t *testing.T) {
	a := policy.Assess(decision(domain.TypeFeature, "urgent"))
	if a.Level != domain.RiskHigh || !a.RequiresConfirmation {
		t.Fatalf("unknown importance: got %+v", a)
	}
	a = policy.Assess(decision("experiment", domain.ImportanceLow))
	if a.Level != domain.RiskHigh || !a.RequiresConfirmation {
		t.Fatalf("unknown type: got %+v", a)
	}
}

func TestAssessNonLowRiskTypeEscalates(t *testing.T) {
	a := policy.Assess(decision(domain.TypeDesign, domain.ImportanceLow))
	if a.Level != domain.RiskMedium {
		t.Fatalf("design type should escalate one tier, got %s", a.Level)
	}
}

func TestEvaluateDisabledDeniesEverything(t *testing.T) {
	cfg := defaultPolicy()
	cfg.Enabled = false
	for _, typ := range domain.DecisionTypes {
		for _, imp := range []domain.Importance{domain.ImportanceLow, domain.ImportanceMedium, domain.ImportanceHigh, domain.ImportanceCritical} {
			v := policy.Evaluate(decision(typ, imp), cfg)
			if v.Allowed || v.Reason != policy.ReasonDisabled {
				t.Fatalf("type=%s importance=%s: got %+v", typ, imp, v)
			}
		}
	}
}

func TestEvaluateTypeCheckFiresBeforeRisk(t *testing.T) {
	// design is not in the default allowed set AND critical importance
	// would also fail the risk check; the type reason must win.
	cfg := defaultPolicy()
	cfg.ExcludedImportance = nil
	v := policy.Evaluate(decision(domain.TypeDesign, domain.ImportanceCritical), cfg)
	if v.Allowed {
		t.Fatalf("expected denial")
	}
	if v.Reason != policy.ReasonTypeNotAllowed {
		t.Fatalf("expected %q to fire first, got %q", policy.ReasonTypeNotAllowed, v.Reason)
	}
}

func TestEvaluateExcludedImportance(t *testing.T) {
	v := policy.Evaluate(decision(domain.TypeFeature, domain.ImportanceCritical), defaultPolicy())
	if v.Allowed || v.Reason != policy.ReasonImportanceReview {
		t.Fatalf("got %+v", v)
	}
}

func TestEvaluateRiskThreshold(t *testing.T) {
	cfg := defaultPolicy()
	// medium importance is not excluded by default, but exceeds max_risk_level low
	v := policy.Evaluate(decision(domain.TypeFeature, domain.ImportanceMedium), cfg)
	if v.Allowed || v.Reason != policy.ReasonRiskExceeds {
		t.Fatalf("got %+v", v)
	}
	cfg.MaxRiskLevel = domain.RiskMedium
	v = policy.Evaluate(decision(domain.TypeFeature, domain.ImportanceMedium), cfg)
	if !v.Allowed {
		t.Fatalf("medium risk under medium threshold should pass, got %+v", v)
	}
}

func TestEvaluateConfirmationOverride(t *testing.T) {
	cfg := defaultPolicy()
	cfg.MaxRiskLevel = domain.RiskMedium
	d := withRisks(decision(domain.TypeFeature, domain.ImportanceLow), `[{"description":"security exposure","severity":"high"}]`)
	v := policy.Evaluate(d, cfg)
	if v.Allowed || v.Reason != policy.ReasonNeedsConfirmation {
		t.Fatalf("got %+v", v)
	}
}

func TestEvaluateAllowsLowRiskFeature(t *testing.T) {
	v := policy.Evaluate(decision(domain.TypeFeature, domain.ImportanceLow), defaultPolicy())
	if !v.Allowed {
		t.Fatalf("expected allow, got %+v", v)
	}
	if v.Reason != "" {
		t.Fatalf("allowed verdict should carry no reason, got %q", v.Reason)
	}
}
