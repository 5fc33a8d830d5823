// Package tracker owns the delivery state of SMS submissions. Every change to
// a record goes through a Tracker, which serializes work per instance id and
// persists through a repo.SubmissionRepository.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/LeventeLantos/sms-tracker/internal/model"
	"github.com/LeventeLantos/sms-tracker/internal/repo"
)

var (
	ErrNotFound      = repo.ErrNotFound
	ErrUnavailable   = repo.ErrUnavailable
	ErrInvalidRecord = model.ErrInvalidRecord
)

// StatusNotFound is reported by DeferSubmissionStatus for unknown ids.
const StatusNotFound model.AggregateStatus = "not_found"

type Notifier interface {
	Notify(ctx context.Context, ev model.StatusEvent) error
}

type Report struct {
	InstanceID    string                `json:"instanceId"`
	Status        model.AggregateStatus `json:"status"`
	DeferredParts []int                 `json:"deferredParts,omitempty"`
}

type Tracker struct {
	repo     repo.SubmissionRepository
	notifier Notifier
	now      func() time.Time
	log      *slog.Logger
	locks    *keyedLock

	// announced holds the last terminal status notified per instance, so
	// replays go out once per status.
	announcedMu sync.Mutex
	announced   map[string]model.AggregateStatus
}

type Option func(*Tracker)

func WithNotifier(n Notifier) Option {
	return func(t *Tracker) { t.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

func New(r repo.SubmissionRepository, opts ...Option) *Tracker {
	t := &Tracker{
		repo:  r,
		now:   time.Now,
		log:   slog.Default(),
		locks:     newKeyedLock(),
		announced: make(map[string]model.AggregateStatus),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) GetSubmissionModel(ctx context.Context, instanceID string) (model.SubmissionRecord, error) {
	unlock := t.locks.RLock(instanceID)
	defer unlock()

	return t.repo.Get(ctx, instanceID)
}

// SaveSubmission inserts or replaces the record for rec.InstanceID.
func (t *Tracker) SaveSubmission(ctx context.Context, rec model.SubmissionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	rec = rec.Clone()
	now := t.now().UTC()
	if rec.DateCreated.IsZero() {
		rec.DateCreated = now
	}
	rec.LastUpdated = now

	unlock := t.locks.Lock(rec.InstanceID)
	defer unlock()

	if err := t.repo.Put(ctx, rec); err != nil {
		return err
	}
	t.log.Debug("submission saved", "instance_id", rec.InstanceID, "parts", len(rec.Messages))
	return nil
}

// MarkMessageAsSending moves a NotSent or Failed part to Sending. Missing
// records and parts, and parts already Sending or Sent, are left alone.
func (t *Tracker) MarkMessageAsSending(ctx context.Context, instanceID string, messageID int) error {
	_, err := t.ClaimMessage(ctx, instanceID, messageID)
	return err
}

// ClaimMessage is MarkMessageAsSending that reports whether this call moved
// the part to Sending. Only the caller that claimed a part may transmit it.
func (t *Tracker) ClaimMessage(ctx context.Context, instanceID string, messageID int) (bool, error) {
	_, claimed, err := t.mutate(ctx, instanceID, func(rec *model.SubmissionRecord) bool {
		p := rec.Part(messageID)
		if p == nil {
			return false
		}
		switch p.State {
		case model.NotSent, model.Failed:
			p.State = model.Sending
			return true
		}
		return false
	})
	return claimed, err
}

// MarkMessageAsSent reports whether this call completed the whole record.
// A part must have been attempted (Sending or Failed) to become Sent.
func (t *Tracker) MarkMessageAsSent(ctx context.Context, instanceID string, messageID int) (bool, error) {
	rec, changed, err := t.mutate(ctx, instanceID, func(rec *model.SubmissionRecord) bool {
		p := rec.Part(messageID)
		if p == nil {
			return false
		}
		if p.State != model.Sending && p.State != model.Failed {
			return false
		}
		p.State = model.Sent
		ok := model.ResultOK
		p.ResultCode = &ok
		return true
	})
	if err != nil || !changed {
		return false, err
	}

	completed := rec.Status() == model.StatusComplete
	if completed {
		t.log.Info("submission complete", "instance_id", instanceID, "parts", len(rec.Messages))
		t.notify(ctx, rec, false)
	}
	return completed, nil
}

// UpdateMessageStatus records the platform result code for a part. A
// definitive failure code moves a Sending part to Failed.
func (t *Tracker) UpdateMessageStatus(ctx context.Context, resultCode int, instanceID string, messageID int) error {
	var becameFailed bool
	rec, _, err := t.mutate(ctx, instanceID, func(rec *model.SubmissionRecord) bool {
		p := rec.Part(messageID)
		if p == nil || p.State == model.Sent {
			return false
		}
		before := rec.Status()
		code := resultCode
		p.ResultCode = &code
		if model.IsDefinitiveFailure(resultCode) && p.State == model.Sending {
			p.State = model.Failed
		}
		becameFailed = before != model.StatusFailed && rec.Status() == model.StatusFailed
		return true
	})
	if err != nil {
		return err
	}

	if becameFailed {
		t.log.Warn("submission failed",
			"instance_id", instanceID,
			"message_id", messageID,
			"result_code", resultCode,
		)
		t.notify(ctx, rec, false)
	}
	return nil
}

// CheckNextMessageResultCode returns the result code of the first part that
// is not Sent: ResultNone when that part has no code yet, ResultNoPending when
// every part is Sent, and ErrNotFound when nothing is tracked for the id.
func (t *Tracker) CheckNextMessageResultCode(ctx context.Context, instanceID string) (int, error) {
	rec, err := t.GetSubmissionModel(ctx, instanceID)
	if err != nil {
		return model.ResultNone, err
	}

	for _, p := range rec.Messages {
		if p.State == model.Sent {
			continue
		}
		if p.ResultCode == nil {
			return model.ResultNone, nil
		}
		return *p.ResultCode, nil
	}
	return model.ResultNoPending, nil
}

// DeferSubmissionStatus reconciles the given records after a restart, before
// any dispatch resumes. Parts left in Sending can no longer receive a platform
// callback, so they are failed with ResultDeferred and become eligible for
// retry. Records that end up Complete or Failed have their notification
// raised again, once per status.
//
// It must not run while parts are legitimately in flight. Use Evaluate for
// periodic passes.
//
// Every id is processed; store errors are joined and returned at the end.
func (t *Tracker) DeferSubmissionStatus(ctx context.Context, instanceIDs []string) ([]Report, error) {
	reports := make([]Report, 0, len(instanceIDs))
	var errs []error

	for _, id := range instanceIDs {
		var deferred []int
		rec, _, err := t.mutate(ctx, id, func(rec *model.SubmissionRecord) bool {
			for i := range rec.Messages {
				p := &rec.Messages[i]
				if p.State != model.Sending {
					continue
				}
				p.State = model.Failed
				code := model.ResultDeferred
				p.ResultCode = &code
				deferred = append(deferred, p.MessageID)
			}
			return len(deferred) > 0
		})
		if err != nil {
			errs = append(errs, err)
			t.log.Error("reconcile submission", "instance_id", id, "error", err)
			continue
		}
		if rec.InstanceID == "" {
			t.forgetAnnounced(id)
			reports = append(reports, Report{InstanceID: id, Status: StatusNotFound})
			continue
		}

		status := rec.Status()
		reports = append(reports, Report{InstanceID: id, Status: status, DeferredParts: deferred})
		if len(deferred) > 0 {
			t.log.Info("deferred in-flight parts", "instance_id", id, "parts", deferred)
		}
		if status == model.StatusComplete || status == model.StatusFailed {
			t.notify(ctx, rec, true)
		}
	}

	return reports, errors.Join(errs...)
}

// Recover runs DeferSubmissionStatus over every stored submission. It is
// meant to be called once at startup.
func (t *Tracker) Recover(ctx context.Context) ([]Report, error) {
	ids, err := t.repo.ListInstanceIDs(ctx)
	if err != nil {
		return nil, err
	}
	return t.DeferSubmissionStatus(ctx, ids)
}

// Evaluate recomputes the aggregate status of the given records without
// changing any part. A terminal status that was never notified by this
// process is notified as a replay.
func (t *Tracker) Evaluate(ctx context.Context, instanceIDs []string) ([]Report, error) {
	reports := make([]Report, 0, len(instanceIDs))
	var errs []error

	for _, id := range instanceIDs {
		rec, err := t.GetSubmissionModel(ctx, id)
		if errors.Is(err, ErrNotFound) {
			t.forgetAnnounced(id)
			reports = append(reports, Report{InstanceID: id, Status: StatusNotFound})
			continue
		}
		if err != nil {
			errs = append(errs, err)
			t.log.Error("evaluate submission", "instance_id", id, "error", err)
			continue
		}

		status := rec.Status()
		reports = append(reports, Report{InstanceID: id, Status: status})
		if status == model.StatusComplete || status == model.StatusFailed {
			t.notify(ctx, rec, true)
		}
	}

	return reports, errors.Join(errs...)
}

// Reconcile evaluates every stored submission. It only reads, so it is safe
// to run periodically while parts are in flight.
func (t *Tracker) Reconcile(ctx context.Context) ([]Report, error) {
	ids, err := t.repo.ListInstanceIDs(ctx)
	if err != nil {
		return nil, err
	}
	return t.Evaluate(ctx, ids)
}

// ForgetSubmission removes the record. Unknown ids are not an error.
func (t *Tracker) ForgetSubmission(ctx context.Context, instanceID string) error {
	unlock := t.locks.Lock(instanceID)
	defer unlock()

	if err := t.repo.Delete(ctx, instanceID); err != nil {
		return err
	}
	t.forgetAnnounced(instanceID)
	t.log.Info("submission forgotten", "instance_id", instanceID)
	return nil
}

// AcknowledgeSubmission forgets a record once the UI has seen it complete.
// It reports false and keeps the record when it is not complete yet.
func (t *Tracker) AcknowledgeSubmission(ctx context.Context, instanceID string) (bool, error) {
	unlock := t.locks.Lock(instanceID)
	defer unlock()

	rec, err := t.repo.Get(ctx, instanceID)
	if err != nil {
		return false, err
	}
	if rec.Status() != model.StatusComplete {
		return false, nil
	}
	if err := t.repo.Delete(ctx, instanceID); err != nil {
		return false, err
	}
	t.forgetAnnounced(instanceID)
	t.log.Info("submission acknowledged", "instance_id", instanceID)
	return true, nil
}

// mutate applies fn to the stored record under the instance write lock and
// saves it when fn reports a change. A missing record yields a zero record
// and no error.
func (t *Tracker) mutate(ctx context.Context, instanceID string, fn func(rec *model.SubmissionRecord) bool) (model.SubmissionRecord, bool, error) {
	unlock := t.locks.Lock(instanceID)
	defer unlock()

	rec, err := t.repo.Get(ctx, instanceID)
	if errors.Is(err, repo.ErrNotFound) {
		t.log.Debug("transition on missing submission ignored", "instance_id", instanceID)
		return model.SubmissionRecord{}, false, nil
	}
	if err != nil {
		return model.SubmissionRecord{}, false, err
	}

	if !fn(&rec) {
		return rec, false, nil
	}
	rec.LastUpdated = t.now().UTC()
	if err := t.repo.Put(ctx, rec); err != nil {
		return model.SubmissionRecord{}, false, err
	}
	return rec, true, nil
}

// notify publishes the record's status. A replay is dropped when the same
// status was already notified.
func (t *Tracker) notify(ctx context.Context, rec model.SubmissionRecord, replayed bool) {
	status := rec.Status()

	t.announcedMu.Lock()
	if replayed && t.announced[rec.InstanceID] == status {
		t.announcedMu.Unlock()
		return
	}
	t.announced[rec.InstanceID] = status
	t.announcedMu.Unlock()

	if t.notifier == nil {
		return
	}
	ev := model.NewStatusEvent(rec, replayed, t.now())
	if err := t.notifier.Notify(ctx, ev); err != nil {
		t.log.Warn("status notification failed", "instance_id", rec.InstanceID, "status", ev.Status, "error", err)
	}
}

func (t *Tracker) forgetAnnounced(instanceID string) {
	t.announcedMu.Lock()
	delete(t.announced, instanceID)
	t.announcedMu.Unlock()
}
