package domain

// DecisionType classifies what kind of change a decision proposes.
type DecisionType string

const (
	TypeFeature   DecisionType = "feature"
	TypeDesign    DecisionType = "design"
	TypePriority  DecisionType = "priority"
	TypeTechnical DecisionType = "technical"
	TypeOther     DecisionType = "other"
)

// DecisionTypes lists every known type in declaration order.
var DecisionTypes = []DecisionType{TypeFeature, TypeDesign, TypePriority, TypeTechnical, TypeOther}

// Known reports whether t is one of the closed set of decision types.
func (t DecisionType) Known() bool {
	for _, k := range DecisionTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Importance grades how much a decision matters.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceMedium   Importance = "medium"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// Rank returns the position of i on the ordered scale, or -1 if unknown.
func (i Importance) Rank() int {
	switch i {
	case ImportanceLow:
		return 0
	case ImportanceMedium:
		return 1
	case ImportanceHigh:
		return 2
	case ImportanceCritical:
		return 3
	}
	return -1
}

func (i Importance) Known() bool { return i.Rank() >= 0 }

// RiskLevel is the ordered classification used as the auto-execution
// threshold gate: low < medium < high < critical.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank returns the position of l on the ordered scale, or -1 if unknown.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return -1
}

// Exceeds reports whether l is strictly above max on the risk scale.
// An unknown level always exceeds.
func (l RiskLevel) Exceeds(max RiskLevel) bool {
	lr := l.Rank()
	if lr < 0 {
		return true
	}
	return lr > max.Rank()
}

// Escalate returns the next level up, saturating at critical.
func (l RiskLevel) Escalate() RiskLevel {
	switch l {
	case RiskLow:
		return RiskMedium
	case RiskMedium:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// DecisionStatus is the lifecycle position of a decision. Transitions only
// move forward: proposed -> approved -> implemented, proposed -> rejected,
// proposed/approved -> superseded.
type DecisionStatus string

const (
	StatusProposed    DecisionStatus = "proposed"
	StatusApproved    DecisionStatus = "approved"
	StatusRejected    DecisionStatus = "rejected"
	StatusImplemented DecisionStatus = "implemented"
	StatusSuperseded  DecisionStatus = "superseded"
)

// RiskSeverity tags an identified risk on a decision.
type RiskSeverity string

const (
	SeverityLow      RiskSeverity = "low"
	SeverityMedium   RiskSeverity = "medium"
	SeverityHigh     RiskSeverity = "high"
	SeverityCritical RiskSeverity = "critical"
)

// IdentifiedRisk is one entry in a decision's risks list.
type IdentifiedRisk struct {
	Description string       `json:"description"`
	Severity    RiskSeverity `json:"severity,omitempty"`
}

type Decision struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	ProjectID        string         `json:"project_id"`
	DiscussionID     *string        `json:"discussion_id,omitempty"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Type             DecisionType   `json:"type" enum:"feature,design,priority,technical,other"`
	Importance       Importance     `json:"importance" enum:"low,medium,high,critical"`
	Status           DecisionStatus `json:"status" enum:"proposed,approved,rejected,implemented,superseded"`
	Rationale        string         `json:"rationale,omitempty"`
	AlternativesJSON *string        `json:"alternatives_json,omitempty"`
	RisksJSON        *string        `json:"risks_json,omitempty"`
	TagsJSON         *string        `json:"tags_json,omitempty"`
	ProposedBy       string         `json:"proposed_by"`
	ApprovedBy       *string        `json:"approved_by,omitempty"`
	ApprovedAt       *string        `json:"approved_at,omitempty" format:"date-time"`
	ImplementedAt    *string        `json:"implemented_at,omitempty" format:"date-time"`
	SupersededBy     *string        `json:"superseded_by,omitempty"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	UpdatedAt        string         `json:"updated_at" format:"date-time"`
}

// Phase is a project's position in the fixed lifecycle sequence.
type Phase string

const (
	PhaseIdeation    Phase = "ideation"
	PhasePlanning    Phase = "planning"
	PhaseDesign      Phase = "design"
	PhaseDevelopment Phase = "development"
	PhaseTesting     Phase = "testing"
	PhaseLaunch      Phase = "launch"
	PhaseGrowth      Phase = "growth"
	PhaseMaintenance Phase = "maintenance"
)

// PhaseOrder is the linear lifecycle; maintenance is terminal.
var PhaseOrder = []Phase{
	PhaseIdeation, PhasePlanning, PhaseDesign, PhaseDevelopment,
	PhaseTesting, PhaseLaunch, PhaseGrowth, PhaseMaintenance,
}

// Next returns the successor phase, or false if p is terminal or unknown.
func (p Phase) Next() (Phase, bool) {
	for i, ph := range PhaseOrder {
		if ph == p && i+1 < len(PhaseOrder) {
			return PhaseOrder[i+1], true
		}
	}
	return "", false
}

func (p Phase) Known() bool {
	for _, ph := range PhaseOrder {
		if ph == p {
			return true
		}
	}
	return false
}

type Project struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Phase       Phase  `json:"phase" enum:"ideation,planning,design,development,testing,launch,growth,maintenance"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// ActionItemStatus is the lifecycle position of an action item.
type ActionItemStatus string

const (
	ItemPending    ActionItemStatus = "pending"
	ItemInProgress ActionItemStatus = "in_progress"
	ItemDone       ActionItemStatus = "done"
	ItemCancelled  ActionItemStatus = "cancelled"
)

type ActionItem struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"project_id"`
	UserID      string           `json:"user_id"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	Status      ActionItemStatus `json:"status" enum:"pending,in_progress,done,cancelled"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
	UpdatedAt   string           `json:"updated_at" format:"date-time"`
	CompletedAt *string          `json:"completed_at,omitempty" format:"date-time"`
}

type Notification struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Body        string  `json:"body,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	RelatedKind string  `json:"related_kind,omitempty"`
	RelatedID   string  `json:"related_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	ReadAt      *string `json:"read_at,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
