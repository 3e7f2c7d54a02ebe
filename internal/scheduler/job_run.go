package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// JobRun records one execution of a scheduler job.
type JobRun struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	JobName   string       `gorm:"index"`
	StartedAt time.Time
	EndedAt   *time.Time
	Processed int
	LastError string
}

func (JobRun) TableName() string {
	return "job_runs"
}

type jobFunc func(ctx context.Context) (int, error)

func (s *Scheduler) runJob(ctx context.Context, name string, fn jobFunc) {
	run := JobRun{
		ID:        s.genID.Generate(),
		JobName:   name,
		StartedAt: s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		s.log.Error("job run insert failed", zap.Error(err), zap.String("job", name))
		return
	}

	processed, err := fn(ctx)

	ended := s.clock.Now()
	run.EndedAt = &ended
	run.Processed = processed
	if err != nil {
		run.LastError = err.Error()
		s.log.Error("job failed", zap.Error(err), zap.String("job", name))
	} else if processed > 0 {
		s.log.Info("job completed", zap.String("job", name), zap.Int("processed", processed))
	}
	if err := s.db.WithContext(ctx).Save(&run).Error; err != nil {
		s.log.Error("job run update failed", zap.Error(err), zap.String("job", name))
	}
}
