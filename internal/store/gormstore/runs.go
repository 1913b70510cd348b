package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"klinesync/internal/store/model"
)

// CreateRun persists a freshly started run. The ID is assigned here so the
// executor can hand out the run before any range work happens.
func (s *Store) CreateRun(ctx context.Context, run *model.JobRun) error {
	if run == nil {
		return fmt.Errorf("run is nil")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Outcome == "" {
		run.Outcome = model.RunOutcomeRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(run).Error
}

// FinishRun writes the terminal state. Runs are immutable afterwards.
func (s *Store) FinishRun(ctx context.Context, run *model.JobRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run has no id")
	}
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	return s.db.WithContext(ctx).Save(run).Error
}

// LatestIncompleteRun returns the most recent run still marked running, which
// after a restart means the process died mid-run.
func (s *Store) LatestIncompleteRun(ctx context.Context, jobID int64) (*model.JobRun, error) {
	var run model.JobRun
	err := s.db.WithContext(ctx).
		Where("job_id = ? AND outcome = ?", jobID, model.RunOutcomeRunning).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context, jobID int64, limit int) ([]model.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []model.JobRun
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
