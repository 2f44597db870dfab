// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

// Package delivery fans one rendered message out to a list of
// recipients. At most one batch is in flight at a time; a recipient's
// failure is recorded and never blocks the rest of the batch.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tablerelay/tablerelay/directory"
	"github.com/tablerelay/tablerelay/grid"
	"github.com/tablerelay/tablerelay/lib/ref"
	"github.com/tablerelay/tablerelay/messaging"
)

// ErrDeliveryInFlight is returned by Deliver when a previous batch is
// still in progress. The trigger is dropped, not queued; the caller
// may retry on the next trigger evaluation.
var ErrDeliveryInFlight = errors.New("delivery: batch already in flight")

// Message is one rendered notification, fanned out read-only to all
// recipients of a batch.
type Message struct {
	Subject     string
	Body        string
	TriggerKind grid.TriggerKind
	Timestamp   time.Time
	// RecordID is the identifier of the row that fired the trigger;
	// empty for messages without a source row.
	RecordID string
}

// content builds the Matrix event body for the message.
func (m Message) content() messaging.NotificationContent {
	return messaging.NewNotification(m.Subject, m.Body, messaging.NotificationMetadata{
		TriggerKind: string(m.TriggerKind),
		Timestamp:   m.Timestamp.UTC().Format(time.RFC3339),
		RecordID:    m.RecordID,
	})
}

// Recipient is one delivery target: exactly one of Individual or
// Group is set.
type Recipient struct {
	Individual *directory.Individual
	Group      *directory.Group
}

// Name returns the recipient's configured name, for logging and
// failure reports.
func (r Recipient) Name() string {
	switch {
	case r.Individual != nil:
		return r.Individual.DisplayName
	case r.Group != nil:
		return r.Group.Name
	default:
		return ""
	}
}

// Error kinds recorded on failed outcomes.
const (
	ErrorKindRecipientNotFound  = "recipient_not_found"
	ErrorKindRoomCreationFailed = "room_creation_failed"
	ErrorKindSendFailed         = "send_failed"
	ErrorKindAuthRetryExhausted = "auth_retry_exhausted"
	ErrorKindOther              = "error"
)

// SendFailedError reports that the message send itself failed after
// the recipient had resolved to a room.
type SendFailedError struct {
	RoomID ref.RoomID
	Err    error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("delivery: send to %q failed: %v", e.RoomID, e.Err)
}

func (e *SendFailedError) Unwrap() error { return e.Err }

// Outcome is the per-recipient result of one batch.
type Outcome struct {
	Recipient Recipient
	// RoomID and EventID are set on success.
	RoomID  ref.RoomID
	EventID ref.EventID
	// ErrorKind and Err are set on failure.
	ErrorKind string
	Err       error
}

// BatchResult collects the outcomes of one delivery batch.
type BatchResult struct {
	Successes []Outcome
	Failures  []Outcome
}

// Resolver resolves recipients to rooms. *directory.Directory
// satisfies it.
type Resolver interface {
	ResolveIndividual(ctx context.Context, individual *directory.Individual) (ref.RoomID, error)
	ResolveGroup(ctx context.Context, group *directory.Group) (ref.RoomID, error)
}

// Sender sends notification events. *messaging.Session satisfies it.
type Sender interface {
	SendNotification(ctx context.Context, roomID ref.RoomID, content messaging.NotificationContent) (ref.EventID, error)
}

// Coordinator delivers message batches with single-flight admission.
type Coordinator struct {
	resolver Resolver
	sender   Sender
	limiter  *rate.Limiter
	logger   *slog.Logger

	inFlight atomic.Bool
}

// NewCoordinator returns a Coordinator. limiter may be nil to send
// without rate limiting.
func NewCoordinator(resolver Resolver, sender Sender, limiter *rate.Limiter, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		resolver: resolver,
		sender:   sender,
		limiter:  limiter,
		logger:   logger,
	}
}

// SetSender swaps the sending session, for access-token changes.
// Takes effect on the next batch.
func (c *Coordinator) SetSender(sender Sender) {
	c.sender = sender
}

// Deliver sends the message to every recipient in order. If a batch
// is already in flight it returns ErrDeliveryInFlight immediately
// without touching the network. Per-recipient failures are recorded
// in the result and never abort the batch; the in-flight flag is
// released whatever happens.
func (c *Coordinator) Deliver(ctx context.Context, message Message, recipients []Recipient) (BatchResult, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return BatchResult{}, ErrDeliveryInFlight
	}
	defer c.inFlight.Store(false)

	var result BatchResult
	content := message.content()
	for _, recipient := range recipients {
		outcome := c.deliverOne(ctx, content, recipient)
		if outcome.Err != nil {
			c.logger.Warn("delivery failed",
				"recipient", recipient.Name(),
				"error_kind", outcome.ErrorKind,
				"error", outcome.Err)
			result.Failures = append(result.Failures, outcome)
			continue
		}
		c.logger.Info("notification delivered",
			"recipient", recipient.Name(),
			"room_id", outcome.RoomID,
			"event_id", outcome.EventID,
			"trigger", message.TriggerKind)
		result.Successes = append(result.Successes, outcome)
	}
	return result, nil
}

func (c *Coordinator) deliverOne(ctx context.Context, content messaging.NotificationContent, recipient Recipient) Outcome {
	outcome := Outcome{Recipient: recipient}

	var roomID ref.RoomID
	var err error
	switch {
	case recipient.Individual != nil:
		roomID, err = c.resolver.ResolveIndividual(ctx, recipient.Individual)
	case recipient.Group != nil:
		roomID, err = c.resolver.ResolveGroup(ctx, recipient.Group)
	default:
		err = errors.New("delivery: recipient has neither individual nor group")
	}
	if err != nil {
		outcome.ErrorKind, outcome.Err = classify(err), err
		return outcome
	}
	outcome.RoomID = roomID

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			outcome.ErrorKind, outcome.Err = ErrorKindOther, err
			return outcome
		}
	}

	eventID, err := c.sender.SendNotification(ctx, roomID, content)
	if err != nil {
		err = &SendFailedError{RoomID: roomID, Err: err}
		outcome.ErrorKind, outcome.Err = classify(err), err
		return outcome
	}
	outcome.EventID = eventID
	return outcome
}

// classify maps an error to its outcome kind. Resolution errors keep
// their own kinds; anything that happened during the send step counts
// as send_failed, except a bare auth exhaustion.
func classify(err error) string {
	var notFound *directory.RecipientNotFoundError
	var roomFailed *directory.RoomCreationFailedError
	var sendFailed *SendFailedError
	var authExhausted *messaging.AuthRetryExhaustedError
	switch {
	case errors.As(err, &notFound):
		return ErrorKindRecipientNotFound
	case errors.As(err, &roomFailed):
		return ErrorKindRoomCreationFailed
	case errors.As(err, &sendFailed):
		return ErrorKindSendFailed
	case errors.As(err, &authExhausted):
		return ErrorKindAuthRetryExhausted
	default:
		return ErrorKindOther
	}
}
