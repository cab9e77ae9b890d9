package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"verdict/internal/config"
	"verdict/internal/domain"
	"verdict/internal/events"
	"verdict/internal/policy"
	"verdict/internal/repo"
)

// Outcome buckets one decision's result in a batch run. Policy denials and
// ineligible decisions are skips; only infrastructure errors are failures.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// ExecutionItem reports what happened to one decision.
type ExecutionItem struct {
	DecisionID string                `json:"decision_id"`
	Title      string                `json:"title"`
	Status     domain.DecisionStatus `json:"status"`
	Outcome    Outcome               `json:"outcome" enum:"executed,skipped,failed"`
	Reason     string                `json:"reason,omitempty"`
}

// BatchResult summarizes one auto-execution sweep. Remaining counts
// eligible decisions beyond the batch cap, left for the next run.
type BatchResult struct {
	Executed  int             `json:"executed"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Remaining int             `json:"remaining"`
	Items     []ExecutionItem `json:"items"`
}

// ExecuteDecision applies the auto-execution policy to a single decision
// and, when allowed, transitions it to approved with an atomic conditional
// write. Expected non-executions (not found, wrong state, policy denial,
// lost race with a human approval) come back as skipped items, not errors;
// the returned error is reserved for unexpected store failures on the
// initial load.
func (e Engine) ExecuteDecision(ctx context.Context, decisionID, userID string, cfg config.AutoExecution) (ExecutionItem, error) {
	item := ExecutionItem{DecisionID: decisionID, Outcome: OutcomeSkipped}
	d, err := e.Repo.GetDecision(ctx, decisionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			item.Reason = "decision not found"
			return item, nil
		}
		return item, err
	}
	item.Title = d.Title
	item.Status = d.Status
	if userID != "" && d.UserID != userID {
		item.Reason = "decision belongs to another user"
		return item, nil
	}
	if d.Status != domain.StatusProposed {
		item.Reason = fmt.Sprintf("decision is %s, not proposed", d.Status)
		return item, nil
	}
	verdict := policy.Evaluate(d, cfg)
	if !verdict.Allowed {
		item.Reason = verdict.Reason
		return item, nil
	}

	now := e.now().UTC().Format(time.RFC3339)
	approvedBy := AutoExecutor
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		item.Outcome = OutcomeFailed
		item.Reason = err.Error()
		return item, nil
	}
	defer tx.Rollback()
	ok, err := e.Repo.TransitionDecision(ctx, tx, d.ID, domain.StatusProposed, domain.StatusApproved, repo.DecisionTransitionFields{
		UpdatedAt:  now,
		ApprovedBy: &approvedBy,
	})
	if err != nil {
		item.Outcome = OutcomeFailed
		item.Reason = err.Error()
		return item, nil
	}
	if !ok {
		// A human approval won the race.
		item.Reason = "decision no longer proposed"
		return item, nil
	}
	if err := e.Events.Append(ctx, tx, "decision.auto_approved", d.ProjectID, "decision", d.ID, AutoExecutor, events.EventPayload{
		"title":      d.Title,
		"risk_level": verdict.Assessment.Level,
	}); err != nil {
		item.Outcome = OutcomeFailed
		item.Reason = err.Error()
		return item, nil
	}
	if err := tx.Commit(); err != nil {
		item.Outcome = OutcomeFailed
		item.Reason = err.Error()
		return item, nil
	}

	item.Outcome = OutcomeExecuted
	item.Status = domain.StatusApproved
	item.Reason = ""
	if cfg.SendNotification {
		// Best effort: the approval stands even if the notification
		// cannot be written.
		if err := e.notifyAutoApproval(ctx, d, verdict.Assessment); err != nil {
			log.Printf("autorun: notify user %s for decision %s failed: %v", d.UserID, d.ID, err)
		}
	}
	return item, nil
}

// RunAutoExecution sweeps a user's proposed decisions (optionally scoped to
// one project) through the auto-execution policy. Best effort: one
// decision's failure never blocks the rest, and the call itself only errors
// when the initial candidate query cannot run.
func (e Engine) RunAutoExecution(ctx context.Context, userID, projectID string, cfg config.AutoExecution) (BatchResult, error) {
	var res BatchResult
	if userID == "" {
		return res, errors.New("user is required")
	}
	filters := repo.PendingFilters{
		UserID:             userID,
		ProjectID:          projectID,
		AllowedTypes:       cfg.AllowedTypes,
		ExcludedImportance: cfg.ExcludedImportance,
	}
	total, err := e.Repo.CountPendingDecisions(ctx, filters)
	if err != nil {
		return res, err
	}
	pending, err := e.Repo.ListPendingDecisions(ctx, filters, cfg.Limit())
	if err != nil {
		return res, err
	}
	res.Remaining = total - len(pending)
	for _, d := range pending {
		item, err := e.ExecuteDecision(ctx, d.ID, userID, cfg)
		if err != nil {
			item = ExecutionItem{
				DecisionID: d.ID,
				Title:      d.Title,
				Status:     d.Status,
				Outcome:    OutcomeFailed,
				Reason:     err.Error(),
			}
		}
		switch item.Outcome {
		case OutcomeExecuted:
			res.Executed++
		case OutcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
		res.Items = append(res.Items, item)
	}
	e.recordBatch(ctx, userID, projectID, res)
	return res, nil
}

// recordBatch writes one audit event summarizing the sweep. Failures are
// logged only: the sweep already happened.
func (e Engine) recordBatch(ctx context.Context, userID, projectID string, res BatchResult) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("autorun: record batch for user %s failed: %v", userID, err)
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "autorun.completed", projectID, "user", userID, AutoExecutor, events.EventPayload{
		"executed":  res.Executed,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
		"remaining": res.Remaining,
	}); err != nil {
		log.Printf("autorun: record batch for user %s failed: %v", userID, err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("autorun: record batch for user %s failed: %v", userID, err)
	}
}
