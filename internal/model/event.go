package model

import (
	"time"

	"github.com/google/uuid"
)

// StatusEvent announces that a submission reached a terminal aggregate status.
type StatusEvent struct {
	ID          string          `json:"id"`
	InstanceID  string          `json:"instanceId"`
	DisplayName string          `json:"displayName,omitempty"`
	Status      AggregateStatus `json:"status"`
	Replayed    bool            `json:"replayed"`
	At          time.Time       `json:"at"`
}

func NewStatusEvent(rec SubmissionRecord, replayed bool, at time.Time) StatusEvent {
	return StatusEvent{
		ID:          uuid.NewString(),
		InstanceID:  rec.InstanceID,
		DisplayName: rec.DisplayName,
		Status:      rec.Status(),
		Replayed:    replayed,
		At:          at.UTC(),
	}
}
