package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"verdict/internal/config"
	"verdict/internal/domain"
	"verdict/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project plus
// user config exist in the DB, seeding defaults when missing. It prefers the
// override, then the single project in the workspace. A missing project is
// created on the fly so `vd` works in a fresh workspace without a setup step.
func ResolveProjectAndConfig(ctx context.Context, projectOverride, userID string, r repo.Repo) (string, *config.Config, error) {
	projectID := projectOverride
	if projectID == "" {
		if p, err := r.SingleProject(ctx); err == nil {
			projectID = p.ID
		} else {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
	}
	seedCfg := config.Default(projectID)

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := seedProject(ctx, r, projectID, userID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetUserConfig(ctx, userID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := r.UpsertUserConfig(ctx, userID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed user config: %w", err)
		}
		cfg = seedCfg
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}

func seedProject(ctx context.Context, r repo.Repo, projectID, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p := domain.Project{
		ID:        projectID,
		UserID:    userID,
		Name:      projectID,
		Phase:     domain.PhaseIdeation,
		Status:    "active",
		CreatedAt: now,
	}
	if err := r.InsertProject(ctx, tx, p); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return tx.Commit()
}
