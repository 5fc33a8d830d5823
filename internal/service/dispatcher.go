package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/LeventeLantos/sms-tracker/internal/client"
	"github.com/LeventeLantos/sms-tracker/internal/model"
)

type SendClient interface {
	Send(ctx context.Context, phoneNumber, message, reference string) (remoteMessageID string, err error)
}

// SubmissionTracker is the part of tracker.Tracker the dispatcher drives.
type SubmissionTracker interface {
	GetSubmissionModel(ctx context.Context, instanceID string) (model.SubmissionRecord, error)
	ClaimMessage(ctx context.Context, instanceID string, messageID int) (bool, error)
	UpdateMessageStatus(ctx context.Context, resultCode int, instanceID string, messageID int) error
	MarkMessageAsSent(ctx context.Context, instanceID string, messageID int) (bool, error)
}

type Dispatcher struct {
	client     SendClient
	tracker    SubmissionTracker
	contentMax int
	log        *slog.Logger
}

func NewDispatcher(c SendClient, t SubmissionTracker, contentMax int) *Dispatcher {
	return &Dispatcher{
		client:     c,
		tracker:    t,
		contentMax: contentMax,
		log:        slog.Default(),
	}
}

type Result struct {
	InstanceID string                `json:"instanceId"`
	Sent       int                   `json:"sent"`
	Failed     int                   `json:"failed"`
	Completed  bool                  `json:"completed"`
	Status     model.AggregateStatus `json:"status"`
}

// Dispatch sends every part that is not Sent yet, in order, and stops at the
// first part the gateway rejects. Parts already Sent are skipped, so calling
// it again retries from the first failed part.
//
// A part is only transmitted after this call claimed it. When the claim is
// lost, another sender owns the submission and Dispatch stops there.
func (d *Dispatcher) Dispatch(ctx context.Context, instanceID, phoneNumber string) (Result, error) {
	res := Result{InstanceID: instanceID}

	rec, err := d.tracker.GetSubmissionModel(ctx, instanceID)
	if err != nil {
		return res, err
	}

	for _, p := range rec.Messages {
		if p.State == model.Sent {
			continue
		}

		claimed, err := d.tracker.ClaimMessage(ctx, instanceID, p.MessageID)
		if err != nil {
			return res, err
		}
		if !claimed {
			d.log.Info("part claimed elsewhere, stopping dispatch",
				"instance_id", instanceID,
				"message_id", p.MessageID,
			)
			break
		}

		code := d.send(ctx, instanceID, phoneNumber, p)
		if err := d.tracker.UpdateMessageStatus(ctx, code, instanceID, p.MessageID); err != nil {
			return res, err
		}
		if code != model.ResultOK {
			res.Failed++
			break
		}

		completed, err := d.tracker.MarkMessageAsSent(ctx, instanceID, p.MessageID)
		if err != nil {
			return res, err
		}
		res.Sent++
		res.Completed = res.Completed || completed
	}

	rec, err = d.tracker.GetSubmissionModel(ctx, instanceID)
	if err != nil {
		return res, err
	}
	res.Status = rec.Status()
	return res, nil
}

func (d *Dispatcher) send(ctx context.Context, instanceID, phoneNumber string, p model.MessagePart) int {
	if utf8.RuneCountInString(p.Text) > d.contentMax {
		d.log.Warn("part exceeds content max",
			"instance_id", instanceID,
			"message_id", p.MessageID,
			"content_max", d.contentMax,
		)
		return model.ResultErrorGenericFailure
	}

	ref := fmt.Sprintf("%s/%d", instanceID, p.MessageID)
	remoteID, err := d.client.Send(ctx, phoneNumber, p.Text, ref)
	code := ResultCodeFor(err)
	if err != nil {
		d.log.Warn("gateway send failed",
			"instance_id", instanceID,
			"message_id", p.MessageID,
			"result_code", code,
			"error", err,
		)
		return code
	}
	d.log.Debug("part sent", "instance_id", instanceID, "message_id", p.MessageID, "remote_id", remoteID)
	return code
}

// ResultCodeFor maps a gateway error onto a platform result code. A refusal
// by the gateway is a generic failure; not reaching it means no service.
func ResultCodeFor(err error) int {
	if err == nil {
		return model.ResultOK
	}
	var se *client.StatusError
	if errors.As(err, &se) {
		return model.ResultErrorGenericFailure
	}
	return model.ResultErrorNoService
}

// SplitPayload cuts payload into parts of at most max runes.
func SplitPayload(payload string, max int) []string {
	if payload == "" {
		return nil
	}
	if max <= 0 {
		return []string{payload}
	}

	var parts []string
	runes := []rune(payload)
	for len(runes) > 0 {
		n := min(max, len(runes))
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return parts
}
