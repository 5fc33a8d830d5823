package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidRecord = errors.New("invalid submission record")

type PartState string

const (
	NotSent PartState = "not_sent"
	Sending PartState = "sending"
	Sent    PartState = "sent"
	Failed  PartState = "failed"
)

func (s PartState) Valid() bool {
	switch s {
	case NotSent, Sending, Sent, Failed:
		return true
	}
	return false
}

type AggregateStatus string

const (
	StatusInProgress AggregateStatus = "in_progress"
	StatusComplete   AggregateStatus = "complete"
	StatusFailed     AggregateStatus = "failed"
)

// MessagePart is one SMS segment of a submission.
type MessagePart struct {
	MessageID  int       `json:"messageId"`
	Text       string    `json:"text,omitempty"`
	State      PartState `json:"state"`
	ResultCode *int      `json:"resultCode,omitempty"`
}

// SubmissionRecord tracks every part of one form instance sent over SMS.
// Messages are kept in transmission order.
type SubmissionRecord struct {
	InstanceID  string        `json:"instanceId"`
	FormID      string        `json:"formId,omitempty"`
	DisplayName string        `json:"displayName,omitempty"`
	Messages    []MessagePart `json:"messages"`
	DateCreated time.Time     `json:"dateCreated"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

// NewSubmission numbers the parts from 1 in the order given.
func NewSubmission(instanceID, formID, displayName string, texts []string, now time.Time) SubmissionRecord {
	now = now.UTC()
	parts := make([]MessagePart, len(texts))
	for i, t := range texts {
		parts[i] = MessagePart{MessageID: i + 1, Text: t, State: NotSent}
	}
	return SubmissionRecord{
		InstanceID:  instanceID,
		FormID:      formID,
		DisplayName: displayName,
		Messages:    parts,
		DateCreated: now,
		LastUpdated: now,
	}
}

func (r SubmissionRecord) Validate() error {
	if r.InstanceID == "" {
		return fmt.Errorf("%w: instance id is empty", ErrInvalidRecord)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: %s has no message parts", ErrInvalidRecord, r.InstanceID)
	}
	for i, m := range r.Messages {
		if m.MessageID != i+1 {
			return fmt.Errorf("%w: %s part %d has id %d", ErrInvalidRecord, r.InstanceID, i+1, m.MessageID)
		}
		if !m.State.Valid() {
			return fmt.Errorf("%w: %s part %d has state %q", ErrInvalidRecord, r.InstanceID, m.MessageID, m.State)
		}
	}
	return nil
}

// Status is derived from the part states on every call.
func (r SubmissionRecord) Status() AggregateStatus {
	allSent := true
	anyFailed := false
	anySending := false
	for _, m := range r.Messages {
		switch m.State {
		case Sent:
			continue
		case Failed:
			anyFailed = true
		case Sending:
			anySending = true
		}
		allSent = false
	}

	switch {
	case allSent && len(r.Messages) > 0:
		return StatusComplete
	case anyFailed && !anySending:
		return StatusFailed
	default:
		return StatusInProgress
	}
}

// Part returns a pointer into r.Messages, or nil.
func (r *SubmissionRecord) Part(messageID int) *MessagePart {
	if messageID < 1 || messageID > len(r.Messages) {
		return nil
	}
	p := &r.Messages[messageID-1]
	if p.MessageID != messageID {
		return nil
	}
	return p
}

// Clone copies the record deeply so callers can't alias stored state.
func (r SubmissionRecord) Clone() SubmissionRecord {
	out := r
	out.Messages = make([]MessagePart, len(r.Messages))
	for i, m := range r.Messages {
		out.Messages[i] = m
		if m.ResultCode != nil {
			c := *m.ResultCode
			out.Messages[i].ResultCode = &c
		}
	}
	return out
}
