package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"verdict/internal/config"
	"verdict/internal/domain"
	"verdict/internal/events"
	"verdict/internal/policy"
	"verdict/internal/repo"
)

// AutoExecutor is the actor recorded on decisions approved without a human.
const AutoExecutor = "auto-executor"

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateProject initializes a project at the first lifecycle phase.
func (e Engine) CreateProject(ctx context.Context, id, userID, name, description, actorID string) (domain.Project, error) {
	if id == "" {
		return domain.Project{}, errors.New("project id is required")
	}
	if userID == "" {
		return domain.Project{}, errors.New("user is required")
	}
	if name == "" {
		name = id
	}
	p := domain.Project{
		ID:          id,
		UserID:      userID,
		Name:        name,
		Description: description,
		Phase:       domain.PhaseIdeation,
		Status:      "active",
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", p.ID, "project", p.ID, actorID, events.EventPayload{"phase": p.Phase}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// DecisionCreateOptions are parameters for proposing a decision.
type DecisionCreateOptions struct {
	ID           string
	UserID       string
	ProjectID    string
	DiscussionID string
	Title        string
	Description  string
	Type         domain.DecisionType
	Importance   domain.Importance
	Rationale    string
	Alternatives []string
	Risks        []domain.IdentifiedRisk
	Tags         []string
	ProposedBy   string
}

// CreateDecision records a proposed decision. Unknown type or importance
// values are stored as given; the risk assessor treats them as unknown and
// escalates, so nothing is rejected here that the policy can still gate.
func (e Engine) CreateDecision(ctx context.Context, opts DecisionCreateOptions) (domain.Decision, error) {
	if opts.Title == "" {
		return domain.Decision{}, errors.New("title is required")
	}
	if opts.UserID == "" {
		return domain.Decision{}, errors.New("user is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Decision{}, err
	}
	if opts.Type == "" {
		opts.Type = domain.TypeOther
	}
	if opts.Importance == "" {
		opts.Importance = domain.ImportanceMedium
	}
	if opts.ProposedBy == "" {
		opts.ProposedBy = opts.UserID
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	alternatives, err := marshalJSONList(opts.Alternatives)
	if err != nil {
		return domain.Decision{}, err
	}
	risks, err := marshalJSONList(opts.Risks)
	if err != nil {
		return domain.Decision{}, err
	}
	tags, err := marshalJSONList(opts.Tags)
	if err != nil {
		return domain.Decision{}, err
	}
	d := domain.Decision{
		ID:               id,
		UserID:           opts.UserID,
		ProjectID:        opts.ProjectID,
		DiscussionID:     optionalString(opts.DiscussionID),
		Title:            opts.Title,
		Description:      opts.Description,
		Type:             opts.Type,
		Importance:       opts.Importance,
		Status:           domain.StatusProposed,
		Rationale:        opts.Rationale,
		AlternativesJSON: alternatives,
		RisksJSON:        risks,
		TagsJSON:         tags,
		ProposedBy:       opts.ProposedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Decision{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDecision(ctx, tx, d); err != nil {
		return domain.Decision{}, err
	}
	if err := e.Events.Append(ctx, tx, "decision.proposed", d.ProjectID, "decision", d.ID, opts.ProposedBy, events.EventPayload{
		"title":      d.Title,
		"type":       d.Type,
		"importance": d.Importance,
	}); err != nil {
		return domain.Decision{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Decision{}, err
	}
	return d, nil
}

// ApproveDecision records a human approval: proposed -> approved.
func (e Engine) ApproveDecision(ctx context.Context, id, actorID string) (domain.Decision, error) {
	return e.transition(ctx, id, actorID, domain.StatusProposed, domain.StatusApproved, "decision.approved", func(now string) repo.DecisionTransitionFields {
		return repo.DecisionTransitionFields{UpdatedAt: now, ApprovedBy: &actorID}
	})
}

// RejectDecision records a human rejection: proposed -> rejected.
func (e Engine) RejectDecision(ctx context.Context, id, actorID string) (domain.Decision, error) {
	return e.transition(ctx, id, actorID, domain.StatusProposed, domain.StatusRejected, "decision.rejected", func(now string) repo.DecisionTransitionFields {
		return repo.DecisionTransitionFields{UpdatedAt: now}
	})
}

// ImplementDecision marks an approved decision as implemented.
func (e Engine) ImplementDecision(ctx context.Context, id, actorID string) (domain.Decision, error) {
	return e.transition(ctx, id, actorID, domain.StatusApproved, domain.StatusImplemented, "decision.implemented", func(now string) repo.DecisionTransitionFields {
		return repo.DecisionTransitionFields{UpdatedAt: now, ImplementedAt: &now}
	})
}

// SupersedeDecision replaces a proposed or approved decision with a
// successor. Implemented and rejected decisions are history and stay put.
func (e Engine) SupersedeDecision(ctx context.Context, id, successorID, actorID string) (domain.Decision, error) {
	if successorID == "" {
		return domain.Decision{}, errors.New("successor id is required")
	}
	if _, err := e.Repo.GetDecision(ctx, successorID); err != nil {
		return domain.Decision{}, fmt.Errorf("successor decision: %w", err)
	}
	d, err := e.Repo.GetDecision(ctx, id)
	if err != nil {
		return domain.Decision{}, err
	}
	if d.Status != domain.StatusProposed && d.Status != domain.StatusApproved {
		return d, fmt.Errorf("invalid decision status transition %s -> %s", d.Status, domain.StatusSuperseded)
	}
	return e.transition(ctx, id, actorID, d.Status, domain.StatusSuperseded, "decision.superseded", func(now string) repo.DecisionTransitionFields {
		return repo.DecisionTransitionFields{UpdatedAt: now, SupersededBy: &successorID}
	})
}

func (e Engine) transition(ctx context.Context, id, actorID string, from, to domain.DecisionStatus, evtType string, fields func(now string) repo.DecisionTransitionFields) (domain.Decision, error) {
	d, err := e.Repo.GetDecision(ctx, id)
	if err != nil {
		return domain.Decision{}, err
	}
	if d.Status != from {
		return d, fmt.Errorf("invalid decision status transition %s -> %s", d.Status, to)
	}
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionDecision(ctx, tx, id, from, to, fields(now))
	if err != nil {
		return d, err
	}
	if !ok {
		return d, fmt.Errorf("decision %s no longer %s", id, from)
	}
	if err := e.Events.Append(ctx, tx, evtType, d.ProjectID, "decision", d.ID, actorID, events.EventPayload{
		"from": d.Status,
		"to":   to,
	}); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return e.Repo.GetDecision(ctx, id)
}

func marshalJSONList[T any](in []T) (*string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// --- action items ---

type ActionItemCreateOptions struct {
	ID          string
	ProjectID   string
	UserID      string
	Title       string
	Description string
	ActorID     string
}

func (e Engine) CreateActionItem(ctx context.Context, opts ActionItemCreateOptions) (domain.ActionItem, error) {
	if opts.Title == "" {
		return domain.ActionItem{}, errors.New("title is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.ActionItem{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	it := domain.ActionItem{
		ID:          id,
		ProjectID:   opts.ProjectID,
		UserID:      opts.UserID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      domain.ItemPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertActionItem(ctx, tx, it); err != nil {
		return it, err
	}
	if err := e.Events.Append(ctx, tx, "action_item.created", it.ProjectID, "action_item", it.ID, opts.ActorID, events.EventPayload{"title": it.Title}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return it, nil
}

func ensureItemTransition(oldStatus, newStatus domain.ActionItemStatus) error {
	switch oldStatus {
	case domain.ItemPending:
		if newStatus == domain.ItemInProgress || newStatus == domain.ItemDone || newStatus == domain.ItemCancelled {
			return nil
		}
	case domain.ItemInProgress:
		if newStatus == domain.ItemDone || newStatus == domain.ItemCancelled {
			return nil
		}
	}
	return fmt.Errorf("invalid action item status transition %s -> %s", oldStatus, newStatus)
}

func (e Engine) SetActionItemStatus(ctx context.Context, id string, status domain.ActionItemStatus, actorID string) (domain.ActionItem, error) {
	it, err := e.Repo.GetActionItem(ctx, id)
	if err != nil {
		return it, err
	}
	if err := ensureItemTransition(it.Status, status); err != nil {
		return it, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	from := it.Status
	it.Status = status
	it.UpdatedAt = now
	if status == domain.ItemDone {
		it.CompletedAt = &now
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateActionItem(ctx, tx, it); err != nil {
		return it, err
	}
	if err := e.Events.Append(ctx, tx, "action_item.updated", it.ProjectID, "action_item", it.ID, actorID, events.EventPayload{
		"from": from,
		"to":   status,
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return it, nil
}

// --- phase transitions ---

// PhaseCheck is the read-only answer to "may this project advance?".
type PhaseCheck struct {
	ShouldTransition bool         `json:"should_transition"`
	CurrentPhase     domain.Phase `json:"current_phase"`
	NextPhase        domain.Phase `json:"next_phase,omitempty"`
	Reason           string       `json:"reason,omitempty"`
}

// CheckPhaseTransition decides whether a project may advance. It never
// mutates the project; AdvancePhase applies the result.
func (e Engine) CheckPhaseTransition(ctx context.Context, projectID string) (PhaseCheck, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return PhaseCheck{}, err
	}
	check := PhaseCheck{CurrentPhase: p.Phase}
	next, ok := p.Phase.Next()
	if !ok {
		check.Reason = "no next phase"
		return check, nil
	}
	openItems, err := e.Repo.CountOpenActionItems(ctx, projectID)
	if err != nil {
		return check, err
	}
	if openItems > 0 {
		check.Reason = fmt.Sprintf("%d action items outstanding", openItems)
		return check, nil
	}
	proposed, err := e.Repo.CountProposedDecisions(ctx, projectID)
	if err != nil {
		return check, err
	}
	if proposed > 0 {
		check.Reason = fmt.Sprintf("%d decisions awaiting approval", proposed)
		return check, nil
	}
	check.ShouldTransition = true
	check.NextPhase = next
	return check, nil
}

// AdvancePhase applies a passing phase check, moving the project one step
// forward in the lifecycle.
func (e Engine) AdvancePhase(ctx context.Context, projectID, actorID string) (domain.Project, PhaseCheck, error) {
	check, err := e.CheckPhaseTransition(ctx, projectID)
	if err != nil {
		return domain.Project{}, check, err
	}
	if !check.ShouldTransition {
		return domain.Project{}, check, fmt.Errorf("phase transition blocked: %s", check.Reason)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, check, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProjectPhase(ctx, tx, projectID, check.CurrentPhase, check.NextPhase); err != nil {
		return domain.Project{}, check, err
	}
	if err := e.Events.Append(ctx, tx, "project.phase_advanced", projectID, "project", projectID, actorID, events.EventPayload{
		"from": check.CurrentPhase,
		"to":   check.NextPhase,
	}); err != nil {
		return domain.Project{}, check, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, check, err
	}
	p, err := e.Repo.GetProject(ctx, projectID)
	return p, check, err
}

// --- api keys ---

// CreateAPIKey mints a random key for a user, storing only its hash. The
// plaintext key is returned once and cannot be recovered afterwards.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (string, domain.APIKey, error) {
	if userID == "" {
		return "", domain.APIKey{}, errors.New("user is required")
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", domain.APIKey{}, err
	}
	plaintext := "vd_" + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        uuid.New().String(),
		ActorID:   userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", key, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", key, err
	}
	if err := e.Events.Append(ctx, tx, "api_key.created", "", "api_key", key.ID, userID, events.EventPayload{"name": name}); err != nil {
		return "", key, err
	}
	if err := tx.Commit(); err != nil {
		return "", key, err
	}
	return plaintext, key, nil
}

// --- notifications ---

func (e Engine) notifyAutoApproval(ctx context.Context, d domain.Decision, assessment policy.Assessment) error {
	n := domain.Notification{
		ID:          uuid.New().String(),
		UserID:      d.UserID,
		Type:        "decision.auto_approved",
		Title:       fmt.Sprintf("Decision auto-approved: %s", d.Title),
		Body:        fmt.Sprintf("The %s decision %q was approved automatically (risk %s).", d.Type, d.Title, assessment.Level),
		Priority:    "normal",
		RelatedKind: "decision",
		RelatedID:   d.ID,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	return e.Repo.InsertNotification(ctx, n)
}
