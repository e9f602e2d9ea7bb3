package registry

import (
	"context"
	"strings"
	"time"

	"github.com/0xPuncker/pos-scheduler/pkg/cronexpr"
	"github.com/0xPuncker/pos-scheduler/pkg/types"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	defaultCacheTTL = 30 * time.Second
	cleanupInterval = 5 * time.Minute
)

// Repository is the durable side of the registry.
type Repository interface {
	ListJobs(ctx context.Context) ([]types.JobDefinition, error)
	GetJobByName(ctx context.Context, name string) (*types.JobDefinition, error)
	GetJobByID(ctx context.Context, id int64) (*types.JobDefinition, error)
	UpdateJob(ctx context.Context, id int64, update types.JobUpdate) (*types.JobDefinition, error)
}

// Registry serves job definitions and guards every configuration change with
// cron validation. It never touches timers.
type Registry struct {
	repo   Repository
	cache  *cache.Cache
	logger *logrus.Logger
}

func New(repo Repository, logger *logrus.Logger) *Registry {
	return NewWithTTL(repo, logger, defaultCacheTTL)
}

func NewWithTTL(repo Repository, logger *logrus.Logger, ttl time.Duration) *Registry {
	return &Registry{
		repo:   repo,
		cache:  cache.New(ttl, cleanupInterval),
		logger: logger,
	}
}

// GetAll returns every job, enabled or not, ordered by name.
func (r *Registry) GetAll(ctx context.Context) ([]types.JobDefinition, error) {
	jobs, err := r.repo.ListJobs(ctx)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		r.cache.SetDefault(job.Name, job)
	}
	return jobs, nil
}

func (r *Registry) GetByName(ctx context.Context, name string) (*types.JobDefinition, error) {
	if cached, found := r.cache.Get(name); found {
		job := cached.(types.JobDefinition)
		return &job, nil
	}

	job, err := r.repo.GetJobByName(ctx, name)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(name, *job)
	return job, nil
}

func (r *Registry) GetByID(ctx context.Context, id int64) (*types.JobDefinition, error) {
	return r.repo.GetJobByID(ctx, id)
}

// UpdateConfig validates and persists a partial update. An invalid schedule is
// rejected with a ValidationError before anything is written.
func (r *Registry) UpdateConfig(ctx context.Context, id int64, update types.JobUpdate) (*types.JobDefinition, error) {
	if update.Schedule != nil {
		schedule := strings.Join(strings.Fields(*update.Schedule), " ")
		if err := cronexpr.Validate(schedule); err != nil {
			return nil, &types.ValidationError{Field: "schedule", Err: err}
		}
		update.Schedule = &schedule
	}
	if update.Description != nil {
		description := strings.TrimSpace(*update.Description)
		update.Description = &description
	}

	job, err := r.repo.UpdateJob(ctx, id, update)
	if err != nil {
		return nil, err
	}

	r.cache.Delete(job.Name)

	r.logger.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"job_name":   job.Name,
		"schedule":   job.Schedule,
		"is_enabled": job.IsEnabled,
	}).Info("Job configuration updated")

	return job, nil
}
