package server

import (
	"encoding/json"

	"verdict/internal/domain"
	"verdict/internal/engine"
	"verdict/internal/policy"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateDecisionRequest struct {
	ID           *string                 `json:"id,omitempty"`
	DiscussionID *string                 `json:"discussion_id,omitempty"`
	Title        string                  `json:"title"`
	Description  *string                 `json:"description,omitempty"`
	Type         string                  `json:"type,omitempty" enum:"feature,design,priority,technical,other"`
	Importance   string                  `json:"importance,omitempty" enum:"low,medium,high,critical"`
	Rationale    *string                 `json:"rationale,omitempty"`
	Alternatives []string                `json:"alternatives,omitempty"`
	Risks        []domain.IdentifiedRisk `json:"risks,omitempty"`
	Tags         []string                `json:"tags,omitempty"`
}

type SupersedeDecisionRequest struct {
	SupersededBy string `json:"superseded_by"`
}

type CreateActionItemRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

type SetActionItemStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,done,cancelled"`
}

type RunAutoExecutionRequest struct {
	ProjectID *string `json:"project_id,omitempty"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Phase       string `json:"phase" enum:"ideation,planning,design,development,testing,launch,growth,maintenance"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type DecisionResponse struct {
	ID            string                  `json:"id"`
	UserID        string                  `json:"user_id"`
	ProjectID     string                  `json:"project_id"`
	DiscussionID  *string                 `json:"discussion_id,omitempty"`
	Title         string                  `json:"title"`
	Description   string                  `json:"description,omitempty"`
	Type          string                  `json:"type" enum:"feature,design,priority,technical,other"`
	Importance    string                  `json:"importance" enum:"low,medium,high,critical"`
	Status        string                  `json:"status" enum:"proposed,approved,rejected,implemented,superseded"`
	Rationale     string                  `json:"rationale,omitempty"`
	Alternatives  []string                `json:"alternatives,omitempty"`
	Risks         []domain.IdentifiedRisk `json:"risks,omitempty"`
	Tags          []string                `json:"tags,omitempty"`
	ProposedBy    string                  `json:"proposed_by"`
	ApprovedBy    *string                 `json:"approved_by,omitempty"`
	ApprovedAt    *string                 `json:"approved_at,omitempty" format:"date-time"`
	ImplementedAt *string                 `json:"implemented_at,omitempty" format:"date-time"`
	SupersededBy  *string                 `json:"superseded_by,omitempty"`
	CreatedAt     string                  `json:"created_at" format:"date-time"`
	UpdatedAt     string                  `json:"updated_at" format:"date-time"`
}

type AssessmentResponse struct {
	DecisionID           string `json:"decision_id"`
	RiskLevel            string `json:"risk_level" enum:"low,medium,high,critical"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	AutoExecutable       bool   `json:"auto_executable"`
	Reason               string `json:"reason,omitempty"`
}

type ActionItemResponse struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	UserID      string  `json:"user_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"pending,in_progress,done,cancelled"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
}

type NotificationResponse struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Body        string  `json:"body,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	RelatedKind string  `json:"related_kind,omitempty"`
	RelatedID   string  `json:"related_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	ReadAt      *string `json:"read_at,omitempty" format:"date-time"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

type PhaseCheckResponse struct {
	ShouldTransition bool   `json:"should_transition"`
	CurrentPhase     string `json:"current_phase" enum:"ideation,planning,design,development,testing,launch,growth,maintenance"`
	NextPhase        string `json:"next_phase,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type paginatedDecisions struct {
	Items      []DecisionResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Mapping

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		UserID:      p.UserID,
		Name:        p.Name,
		Description: p.Description,
		Phase:       string(p.Phase),
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
	}
}

func decisionResponse(d domain.Decision) DecisionResponse {
	return DecisionResponse{
		ID:            d.ID,
		UserID:        d.UserID,
		ProjectID:     d.ProjectID,
		DiscussionID:  d.DiscussionID,
		Title:         d.Title,
		Description:   d.Description,
		Type:          string(d.Type),
		Importance:    string(d.Importance),
		Status:        string(d.Status),
		Rationale:     d.Rationale,
		Alternatives:  decodeStringSlice(d.AlternativesJSON),
		Risks:         decodeRiskSlice(d.RisksJSON),
		Tags:          decodeStringSlice(d.TagsJSON),
		ProposedBy:    d.ProposedBy,
		ApprovedBy:    d.ApprovedBy,
		ApprovedAt:    d.ApprovedAt,
		ImplementedAt: d.ImplementedAt,
		SupersededBy:  d.SupersededBy,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func assessmentResponse(d domain.Decision, v policy.Verdict) AssessmentResponse {
	return AssessmentResponse{
		DecisionID:           d.ID,
		RiskLevel:            string(v.Assessment.Level),
		RequiresConfirmation: v.Assessment.RequiresConfirmation,
		AutoExecutable:       v.Allowed,
		Reason:               v.Reason,
	}
}

func actionItemResponse(it domain.ActionItem) ActionItemResponse {
	return ActionItemResponse{
		ID:          it.ID,
		ProjectID:   it.ProjectID,
		UserID:      it.UserID,
		Title:       it.Title,
		Description: it.Description,
		Status:      string(it.Status),
		CreatedAt:   it.CreatedAt,
		UpdatedAt:   it.UpdatedAt,
		CompletedAt: it.CompletedAt,
	}
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:          n.ID,
		Type:        n.Type,
		Title:       n.Title,
		Body:        n.Body,
		Priority:    n.Priority,
		RelatedKind: n.RelatedKind,
		RelatedID:   n.RelatedID,
		CreatedAt:   n.CreatedAt,
		ReadAt:      n.ReadAt,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage([]byte(evt.Payload))
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func phaseCheckResponse(c engine.PhaseCheck) PhaseCheckResponse {
	return PhaseCheckResponse{
		ShouldTransition: c.ShouldTransition,
		CurrentPhase:     string(c.CurrentPhase),
		NextPhase:        string(c.NextPhase),
		Reason:           c.Reason,
	}
}

func decodeStringSlice(raw *string) []string {
	if raw == nil || *raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil
	}
	return out
}

func decodeRiskSlice(raw *string) []domain.IdentifiedRisk {
	if raw == nil || *raw == "" {
		return nil
	}
	var out []domain.IdentifiedRisk
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil
	}
	return out
}
