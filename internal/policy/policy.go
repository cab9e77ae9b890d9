// Package policy holds the pure decision-gating logic: risk assessment and
// the auto-execution gate. Nothing here touches the database.
package policy

import (
	"encoding/json"

	"verdict/internal/config"
	"verdict/internal/domain"
)

// Assessment is the ephemeral result of scoring one decision. It is
// recomputed on demand and never persisted.
type Assessment struct {
	Level                domain.RiskLevel `json:"risk_level" enum:"low,medium,high,critical"`
	RequiresConfirmation bool             `json:"requires_confirmation"`
}

// lowRiskTypes are the decision types that do not escalate risk on their own.
var lowRiskTypes = map[domain.DecisionType]bool{
	domain.TypeFeature:   true,
	domain.TypePriority:  true,
	domain.TypeTechnical: true,
}

// Assess maps a decision to a risk assessment. The mapping:
//
//   - importance maps directly to the base tier (low..critical)
//   - a non-empty risks list escalates one tier
//   - a type outside the low-risk set escalates one tier
//   - any identified risk tagged high or critical forces confirmation
//   - an unknown importance or type yields high risk plus confirmation
//
// Deterministic over the decision's type, importance, and risks; never
// mutates its input.
func Assess(d domain.Decision) Assessment {
	if !d.Importance.Known() || !d.Type.Known() {
		return Assessment{Level: domain.RiskHigh, RequiresConfirmation: true}
	}
	level := domain.RiskLevel(d.Importance)
	risks := decodeRisks(d.RisksJSON)
	if len(risks) > 0 {
		level = level.Escalate()
	}
	if !lowRiskTypes[d.Type] {
		level = level.Escalate()
	}
	confirm := false
	for _, risk := range risks {
		if risk.Severity == domain.SeverityHigh || risk.Severity == domain.SeverityCritical {
			confirm = true
			break
		}
	}
	return Assessment{Level: level, RequiresConfirmation: confirm}
}

func decodeRisks(raw *string) []domain.IdentifiedRisk {
	if raw == nil || *raw == "" {
		return nil
	}
	var risks []domain.IdentifiedRisk
	if err := json.Unmarshal([]byte(*raw), &risks); err != nil {
		// Unreadable risk data is treated as one untyped risk: it
		// escalates the tier rather than vanishing.
		return []domain.IdentifiedRisk{{Description: "unparseable risks payload"}}
	}
	return risks
}

// Denial reasons, in check order. The ordering is part of the contract:
// audit entries and batch reports must be reproducible.
const (
	ReasonDisabled          = "auto-execution disabled"
	ReasonTypeNotAllowed    = "type not allowed"
	ReasonImportanceReview  = "importance requires review"
	ReasonRiskExceeds       = "risk exceeds threshold"
	ReasonNeedsConfirmation = "requires user confirmation"
)

// Verdict is the outcome of evaluating one decision against a policy.
type Verdict struct {
	Allowed    bool       `json:"allowed"`
	Reason     string     `json:"reason,omitempty"`
	Assessment Assessment `json:"assessment"`
}

// Evaluate decides whether a decision may execute without a human. The
// checks short-circuit in a fixed order so each denial carries exactly one
// reason.
func Evaluate(d domain.Decision, cfg config.AutoExecution) Verdict {
	assessment := Assess(d)
	v := Verdict{Assessment: assessment}
	switch {
	case !cfg.Enabled:
		v.Reason = ReasonDisabled
	case !cfg.TypeAllowed(d.Type):
		v.Reason = ReasonTypeNotAllowed
	case cfg.ImportanceExcluded(d.Importance):
		v.Reason = ReasonImportanceReview
	case assessment.Level.Exceeds(cfg.MaxRiskLevel):
		v.Reason = ReasonRiskExceeds
	case assessment.RequiresConfirmation:
		v.Reason = ReasonNeedsConfirmation
	default:
		v.Allowed = true
	}
	return v
}
