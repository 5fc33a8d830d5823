package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/LeventeLantos/sms-tracker/internal/model"
)

// MemorySubmissionRepo keeps records in process memory. It does not survive
// restarts and is meant for tests and local runs.
type MemorySubmissionRepo struct {
	mu   sync.RWMutex
	recs map[string]model.SubmissionRecord
}

func NewMemorySubmissionRepo() *MemorySubmissionRepo {
	return &MemorySubmissionRepo{recs: make(map[string]model.SubmissionRecord)}
}

func (r *MemorySubmissionRepo) Get(ctx context.Context, instanceID string) (model.SubmissionRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.SubmissionRecord{}, unavailable("memory get", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.recs[instanceID]
	if !ok {
		return model.SubmissionRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *MemorySubmissionRepo) Put(ctx context.Context, rec model.SubmissionRecord) error {
	if err := ctx.Err(); err != nil {
		return unavailable("memory put", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recs[rec.InstanceID] = rec.Clone()
	return nil
}

func (r *MemorySubmissionRepo) Delete(ctx context.Context, instanceID string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("memory delete", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.recs, instanceID)
	return nil
}

func (r *MemorySubmissionRepo) ListInstanceIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("memory list", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.recs))
	for id := range r.recs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
