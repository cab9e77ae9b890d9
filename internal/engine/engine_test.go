package engine_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"verdict/internal/config"
	"verdict/internal/db"
	"verdict/internal/domain"
	"verdict/internal/engine"
	"verdict/internal/migrate"
	"verdict/internal/policy"
)

type testEnv struct {
	Engine engine.Engine
	Cfg    *config.Config
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.CreateProject(ctx, "proj-1", "user-1", "Test Project", "", "tester"); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Cfg: cfg, Ctx: ctx}
}

func propose(t *testing.T, env testEnv, opts engine.DecisionCreateOptions) domain.Decision {
	t.Helper()
	if opts.UserID == "" {
		opts.UserID = "user-1"
	}
	if opts.ProjectID == "" {
		opts.ProjectID = "proj-1"
	}
	if opts.Title == "" {
		opts.Title = "a decision"
	}
	d, err := env.Engine.CreateDecision(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create decision: %v", err)
	}
	return d
}

func TestDecisionStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	d := propose(t, env, engine.DecisionCreateOptions{Type: domain.TypeFeature, Importance: domain.ImportanceLow})

	d, err := env.Engine.ApproveDecision(env.Ctx, d.ID, "tester")
	if err != nil || d.Status != domain.StatusApproved {
		t.Fatalf("approve: %v status=%s", err, d.Status)
	}
	if d.ApprovedBy == nil || *d.ApprovedBy != "tester" {
		t.Fatalf("expected approved_by tester, got %v", d.ApprovedBy)
	}
	if d.ApprovedAt == nil {
		t.Fatalf("expected approved_at set")
	}
	d, err = env.Engine.ImplementDecision(env.Ctx, d.ID, "tester")
	if err != nil || d.Status != domain.StatusImplemented {
		t.Fatalf("implement: %v status=%s", err, d.Status)
	}
	// backward transitions must error
	if _, err := env.Engine.ApproveDecision(env.Ctx, d.ID, "tester"); err == nil {
		t.Fatalf("expected transition error on re-approve")
	}
	if _, err := env.Engine.RejectDecision(env.Ctx, d.ID, "tester"); err == nil {
		t.Fatalf("expected transition error on reject after implement")
	}
}

func TestSupersedeDecision(t *testing.T) {
	env := newTestEnv(t)
	old := propose(t, env, engine.DecisionCreateOptions{Title: "old way"})
	successor := propose(t, env, engine.DecisionCreateOptions{Title: "new way"})

	d, err := env.Engine.SupersedeDecision(env.Ctx, old.ID, successor.ID, "tester")
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if d.Status != domain.StatusSuperseded {
		t.Fatalf("status=%s", d.Status)
	}
	if d.SupersededBy == nil || *d.SupersededBy != successor.ID {
		t.Fatalf("superseded_by=%v", d.SupersededBy)
	}
	// implemented decisions stay put
	impl := propose(t, env, engine.DecisionCreateOptions{Title: "shipped"})
	if _, err := env.Engine.ApproveDecision(env.Ctx, impl.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ImplementDecision(env.Ctx, impl.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SupersedeDecision(env.Ctx, impl.ID, successor.ID, "tester"); err == nil {
		t.Fatalf("expected error superseding implemented decision")
	}
}

func TestExecuteDecisionApprovesAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	d := propose(t, env, engine.DecisionCreateOptions{Type: domain.TypeFeature, Importance: domain.ImportanceLow})

	item, err := env.Engine.ExecuteDecision(env.Ctx, d.ID, "user-1", env.Cfg.AutoExecution)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if item.Outcome != engine.OutcomeExecuted {
		t.Fatalf("outcome=%s reason=%q", item.Outcome, item.Reason)
	}
	got, err := env.Engine.Repo.GetDecision(env.Ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusApproved {
		t.Fatalf("status=%s", got.Status)
	}
	if got.ApprovedBy == nil || *got.ApprovedBy != engine.AutoExecutor {
		t.Fatalf("approved_by=%v", got.ApprovedBy)
	}
	notifs, err := env.Engine.Repo.ListNotifications(env.Ctx, "user-1", false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(notifs) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifs))
	}
	if notifs[0].RelatedID != d.ID {
		t.Fatalf("notification related_id=%s", notifs[0].RelatedID)
	}
}

func TestExecuteDecisionDeniesExcludedImportance(t *testing.T) {
	env := newTestEnv(t)
	d := propose(t, env, engine.DecisionCreateOptions{Type: domain.TypeFeature, Importance: domain.ImportanceCritical})

	item, err := env.Engine.ExecuteDecision(env.Ctx, d.ID, "user-1", env.Cfg.AutoExecution)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if item.Outcome != engine.OutcomeSkipped || item.Reason != policy.ReasonImportanceReview {
		t.Fatalf("got outcome=%s reason=%q", item.Outcome, item.Reason)
	}
	got, _ := env.Engine.Repo.GetDecision(env.Ctx, d.ID)
	if got.Status != domain.StatusProposed {
		t.Fatalf("denied decision mutated: status=%s", got.Status)
	}
	notifs, _ := env.Engine.Repo.ListNotifications(env.Ctx, "user-1", false, 0)
	if len(notifs) != 0 {
		t.Fatalf("denied decision must not notify, got %d", len(notifs))
	}
}

func TestExecuteDecisionIdempotent(t *testing.T) {
	env := newTestEnv(t)
	d := propose(t, env, engine.DecisionCreateOptions{Type: domain.TypeFeature, Importance: domain.ImportanceLow})

	first, err := env.Engine.ExecuteDecision(env.Ctx, d.ID, "user-1", env.Cfg.AutoExecution)
	if err != nil || first.Outcome != engine.OutcomeExecuted {
		t.Fatalf("first: %v %+v", err, first)
	}
	second, err := env.Engine.ExecuteDecision(env.Ctx, d.ID, "user-1", env.Cfg.AutoExecution)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Outcome != engine.OutcomeSkipped {
		t.Fatalf("second run must skip, got %s", second.Outcome)
	}
	got, _ := env.Engine.Repo.GetDecision(env.Ctx, d.ID)
	if got.ApprovedBy == nil || *got.ApprovedBy != engine.AutoExecutor {
		t.Fatalf("approved_by changed: %v", got.ApprovedBy)
	}
}

func TestExecuteDecisionMissing(t *testing.T) {
	env := newTestEnv(t)
	item, err := env.Engine.ExecuteDecision(env.Ctx, "nope", "user-1", env.Cfg.AutoExecution)
	if err != nil {
		t.Fatalf("missing decision must not error: %v", err)
	}
	if item.Outcome != engine.OutcomeSkipped || item.Reason != "decision not found" {
		t.Fatalf("got %+v", item)
	}
}

func TestRunAutoExecutionBuckets(t *testing.T) {
	env := newTestEnv(t)
	allowed := propose(t, env, engine.DecisionCreateOptions{Title: "ship it", Type: domain.TypeFeature, Importance: domain.ImportanceLow})
	risky := propose(t, env, engine.DecisionCreateOptions{Title: "maybe", Type: domain.TypeFeature, Importance: domain.ImportanceMedium})

	res, err := env.Engine.RunAutoExecution(env.Ctx, "user-1", "proj-1", env.Cfg.AutoExecution)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Executed != 1 || res.Skipped != 1 || res.Failed != 0 {
		t.Fatalf("counts executed=%d skipped=%d failed=%d", res.Executed, res.Skipped, res.Failed)
	}
	for _, item := range res.Items {
		switch item.DecisionID {
		case allowed.ID:
			if item.Outcome != engine.OutcomeExecuted {
				t.Fatalf("allowed item: %+v", item)
			}
		case risky.ID:
			if item.Outcome != engine.OutcomeSkipped || item.Reason != policy.ReasonRiskExceeds {
				t.Fatalf("risky item: %+v", item)
			}
		default:
			t.Fatalf("unexpected item %+v", item)
		}
	}
}

func TestRunAutoExecutionBatchCap(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 55; i++ {
		propose(t, env, engine.DecisionCreateOptions{
			Title:      fmt.Sprintf("decision %d", i),
			Type:       domain.TypeFeature,
			Importance: domain.ImportanceLow,
		})
	}
	res, err := env.Engine.RunAutoExecution(env.Ctx, "user-1", "proj-1", env.Cfg.AutoExecution)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Items) != 50 {
		t.Fatalf("expected 50 processed, got %d", len(res.Items))
	}
	if res.Remaining != 5 {
		t.Fatalf("expected 5 remaining, got %d", res.Remaining)
	}
	if res.Failed != 0 {
		t.Fatalf("capped rows must not count as failures, got %d", res.Failed)
	}
}

func TestRunAutoExecutionPreFilterStillEvaluatesPolicy(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.Cfg.AutoExecution
	cfg.Enabled = false
	d := propose(t, env, engine.DecisionCreateOptions{Type: domain.TypeFeature, Importance: domain.ImportanceLow})

	res, err := env.Engine.RunAutoExecution(env.Ctx, "user-1", "", cfg)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Executed != 0 || res.Skipped != 1 {
		t.Fatalf("disabled config executed something: %+v", res)
	}
	if res.Items[0].DecisionID != d.ID || res.Items[0].Reason != policy.ReasonDisabled {
		t.Fatalf("item: %+v", res.Items[0])
	}
}

func TestPhaseTransitionBlockedByActionItem(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateActionItem(env.Ctx, engine.ActionItemCreateOptions{
		ProjectID: "proj-1", UserID: "user-1", Title: "write docs", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	check, err := env.Engine.CheckPhaseTransition(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if check.ShouldTransition {
		t.Fatalf("open action item must block: %+v", check)
	}
}

func TestPhaseTransitionBlockedByProposedDecision(t *testing.T) {
	env := newTestEnv(t)
	propose(t, env, engine.DecisionCreateOptions{Type: domain.TypeFeature, Importance: domain.ImportanceLow})
	check, err := env.Engine.CheckPhaseTransition(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if check.ShouldTransition {
		t.Fatalf("proposed decision must block: %+v", check)
	}
}

func TestPhaseAdvance(t *testing.T) {
	env := newTestEnv(t)
	p, check, err := env.Engine.AdvancePhase(env.Ctx, "proj-1", "tester")
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !check.ShouldTransition || check.NextPhase != domain.PhasePlanning {
		t.Fatalf("check: %+v", check)
	}
	if p.Phase != domain.PhasePlanning {
		t.Fatalf("phase=%s", p.Phase)
	}
}

func TestPhaseTerminal(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE projects SET phase='maintenance' WHERE id='proj-1'`); err != nil {
		t.Fatal(err)
	}
	check, err := env.Engine.CheckPhaseTransition(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if check.ShouldTransition || check.Reason != "no next phase" {
		t.Fatalf("terminal phase: %+v", check)
	}
	if _, _, err := env.Engine.AdvancePhase(env.Ctx, "proj-1", "tester"); err == nil {
		t.Fatalf("expected advance error at terminal phase")
	}
}

func TestActionItemTransitions(t *testing.T) {
	env := newTestEnv(t)
	it, err := env.Engine.CreateActionItem(env.Ctx, engine.ActionItemCreateOptions{
		ProjectID: "proj-1", UserID: "user-1", Title: "review copy", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	it, err = env.Engine.SetActionItemStatus(env.Ctx, it.ID, domain.ItemInProgress, "tester")
	if err != nil || it.Status != domain.ItemInProgress {
		t.Fatalf("in_progress: %v", err)
	}
	it, err = env.Engine.SetActionItemStatus(env.Ctx, it.ID, domain.ItemDone, "tester")
	if err != nil || it.Status != domain.ItemDone {
		t.Fatalf("done: %v", err)
	}
	if it.CompletedAt == nil {
		t.Fatalf("expected completed_at set")
	}
	if _, err := env.Engine.SetActionItemStatus(env.Ctx, it.ID, domain.ItemPending, "tester"); err == nil {
		t.Fatalf("expected transition error")
	}
}

func TestAutoApprovalEventLogged(t *testing.T) {
	env := newTestEnv(t)
	d := propose(t, env, engine.DecisionCreateOptions{Type: domain.TypeFeature, Importance: domain.ImportanceLow})
	if _, err := env.Engine.ExecuteDecision(env.Ctx, d.ID, "user-1", env.Cfg.AutoExecution); err != nil {
		t.Fatal(err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "proj-1", "decision.auto_approved", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || evts[0].EntityID != d.ID {
		t.Fatalf("expected one auto-approval event, got %+v", evts)
	}
}
