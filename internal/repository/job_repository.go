package repository

import (
	"context"
	"sync"

	"github.com/anime-shed/omr-inspector-go/pkg/models"
)

// memoryJobRepository keeps job snapshots in memory. Snapshots are cloned on
// the way in and out so callers never share slices with the store.
type memoryJobRepository struct {
	mu    sync.RWMutex
	jobs  map[string]models.ScanJob
	order []string
}

// NewMemoryJobRepository creates an in-memory job repository
func NewMemoryJobRepository() JobRepository {
	return &memoryJobRepository{jobs: make(map[string]models.ScanJob)}
}

func (r *memoryJobRepository) Save(ctx context.Context, job models.ScanJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		r.order = append(r.order, job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *memoryJobRepository) Get(ctx context.Context, id string) (models.ScanJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.ScanJob{}, ErrJobNotFound
	}
	return job.Clone(), nil
}

func (r *memoryJobRepository) List(ctx context.Context, filter JobFilter) ([]models.ScanJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.ScanJob, 0, len(r.order))
	for _, id := range r.order {
		job := r.jobs[id]
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job.Clone())
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *memoryJobRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}
