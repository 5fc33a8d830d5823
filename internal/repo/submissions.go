package repo

import (
	"context"
	"errors"

	"github.com/LeventeLantos/sms-tracker/internal/model"
)

var (
	ErrNotFound    = errors.New("submission not found")
	ErrUnavailable = errors.New("submission store unavailable")
)

// SubmissionRepository persists submission records keyed by instance id.
// Get returns ErrNotFound for unknown ids; Delete of an unknown id is not an
// error. Infrastructure failures wrap ErrUnavailable.
type SubmissionRepository interface {
	Get(ctx context.Context, instanceID string) (model.SubmissionRecord, error)
	Put(ctx context.Context, rec model.SubmissionRecord) error
	Delete(ctx context.Context, instanceID string) error
	ListInstanceIDs(ctx context.Context) ([]string, error)
}
