package gormstore

import (
	"context"
	"fmt"
	"time"

	"klinesync/internal/store"
	"klinesync/internal/store/model"
)

func (s *Store) ListJobs(ctx context.Context) ([]model.SyncJob, error) {
	var jobs []model.SyncJob
	err := s.db.WithContext(ctx).Order("id ASC").Find(&jobs).Error
	return jobs, err
}

func (s *Store) GetJob(ctx context.Context, id int64) (*model.SyncJob, error) {
	var job model.SyncJob
	if err := s.db.WithContext(ctx).First(&job, id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &job, nil
}

// SaveJob inserts or updates a job by primary key.
func (s *Store) SaveJob(ctx context.Context, job *model.SyncJob) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	return s.db.WithContext(ctx).Save(job).Error
}

func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Delete(&model.SyncJob{}, id).Error
}

func (s *Store) SetJobEnabled(ctx context.Context, id int64, enabled bool) error {
	updates := map[string]any{
		"enabled":    enabled,
		"updated_at": time.Now().UTC(),
	}
	if enabled {
		updates["disabled_reason"] = ""
	}
	res := s.db.WithContext(ctx).Model(&model.SyncJob{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DisableJob turns the job off with a reason the operator can read back.
func (s *Store) DisableJob(ctx context.Context, id int64, reason string) error {
	res := s.db.WithContext(ctx).Model(&model.SyncJob{}).Where("id = ?", id).Updates(map[string]any{
		"enabled":         false,
		"disabled_reason": reason,
		"updated_at":      time.Now().UTC(),
	})
	return res.Error
}
