// Copyright 2026 The Tablerelay Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline ties change detection, rendering, and delivery
// together. One Pipeline instance owns all the mutable trigger state
// (baseline, recipients, trigger mode, session), so several
// independent pipelines can coexist in one process.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tablerelay/tablerelay/delivery"
	"github.com/tablerelay/tablerelay/directory"
	"github.com/tablerelay/tablerelay/grid"
	"github.com/tablerelay/tablerelay/lib/clock"
	"github.com/tablerelay/tablerelay/messaging"
	"github.com/tablerelay/tablerelay/render"
)

// Config assembles a Pipeline from its collaborators.
type Config struct {
	Client      *messaging.Client
	Directory   *directory.Directory
	Coordinator *delivery.Coordinator
	Detector    *grid.Detector

	// Subject and Template shape the outgoing messages. An empty
	// Template disables delivery (detection still runs and keeps the
	// baseline current).
	Subject  string
	Template string

	TriggerMode grid.TriggerKind
	Individuals []*directory.Individual
	Groups      []*directory.Group

	Clock  clock.Clock
	Logger *slog.Logger
}

// Options carries the externally persisted settings the pipeline
// accepts at any time. Changes take effect on the next trigger
// evaluation.
type Options struct {
	// AccessToken replaces the Matrix session when it differs from
	// the current token. Empty means "keep the current session".
	AccessToken string
	TriggerMode grid.TriggerKind
	Individuals []*directory.Individual
	Groups      []*directory.Group
}

// Pipeline runs detection, rendering, and delivery for one watched
// grid. Safe for concurrent use; overlapping triggers are serialized
// by an internal lock and the coordinator's single-flight guard.
type Pipeline struct {
	client      *messaging.Client
	directory   *directory.Directory
	coordinator *delivery.Coordinator
	detector    *grid.Detector
	clock       clock.Clock
	logger      *slog.Logger

	subject  string
	template string

	mu          sync.Mutex
	session     *messaging.Session
	accessToken string
	triggerMode grid.TriggerKind
	recipients  []delivery.Recipient
	seeded      bool
}

// New assembles a Pipeline. The initial session is nil; the caller
// provides the access token through HandleOptions (or UseSession for
// a pre-built session).
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	p := &Pipeline{
		client:      cfg.Client,
		directory:   cfg.Directory,
		coordinator: cfg.Coordinator,
		detector:    cfg.Detector,
		clock:       clk,
		logger:      logger,
		subject:     cfg.Subject,
		template:    cfg.Template,
		triggerMode: cfg.TriggerMode,
	}
	p.recipients = buildRecipients(cfg.Individuals, cfg.Groups)
	return p
}

// UseSession installs a pre-built Matrix session. The previous
// session, if any, is closed.
func (p *Pipeline) UseSession(session *messaging.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.installSessionLocked(session)
}

func (p *Pipeline) installSessionLocked(session *messaging.Session) {
	if p.session != nil {
		if err := p.session.Close(); err != nil {
			p.logger.Warn("closing previous session failed", "error", err)
		}
	}
	p.session = session
	p.directory.SetMessenger(session)
	p.coordinator.SetSender(session)
}

// Close releases the pipeline's session.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

// HandleOptions applies an options update: a changed access token
// swaps the Matrix session, and recipients and trigger mode are
// replaced wholesale. Resolved rooms survive recipient replacement
// through the shared room cache.
func (p *Pipeline) HandleOptions(opts Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if opts.AccessToken != "" && opts.AccessToken != p.accessToken {
		session, err := p.client.SessionFromToken(opts.AccessToken)
		if err != nil {
			return fmt.Errorf("pipeline: replacing session: %w", err)
		}
		p.installSessionLocked(session)
		p.accessToken = opts.AccessToken
		p.logger.Info("matrix session replaced from options update")
	}

	if opts.TriggerMode != "" {
		p.triggerMode = opts.TriggerMode
	}
	if opts.Individuals != nil || opts.Groups != nil {
		p.recipients = buildRecipients(opts.Individuals, opts.Groups)
	}
	return nil
}

// HandleRecords processes one snapshot of the grid's visible rows.
// The field mapping, if any, is applied first. The first snapshot
// after startup only seeds the detection baseline: rows that already
// existed are not announced. Detected events are rendered and
// delivered in row order; a busy delivery coordinator drops the
// remaining events of the batch.
func (p *Pipeline) HandleRecords(ctx context.Context, rows grid.Snapshot, mapping grid.FieldMapping) (delivery.BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mapped := mapping.Apply(rows)
	if !p.seeded {
		p.detector.Seed(mapped)
		p.seeded = true
		p.logger.Info("detection baseline seeded", "rows", len(mapped))
		return delivery.BatchResult{}, nil
	}

	events := p.detector.Detect(p.triggerMode, mapped)
	if len(events) == 0 {
		return delivery.BatchResult{}, nil
	}
	p.logger.Info("triggers detected", "mode", p.triggerMode, "events", len(events))

	if !p.deliverableLocked() {
		p.logger.Debug("skipping delivery", "recipients", len(p.recipients), "template_empty", p.template == "")
		return delivery.BatchResult{}, nil
	}

	var combined delivery.BatchResult
	for _, event := range events {
		result, err := p.deliverLocked(ctx, event.Row, event.Kind)
		if err != nil {
			if errors.Is(err, delivery.ErrDeliveryInFlight) {
				p.logger.Warn("delivery busy, dropping remaining triggers",
					"dropped", len(events)-len(combined.Successes)-len(combined.Failures))
				return combined, nil
			}
			return combined, err
		}
		combined.Successes = append(combined.Successes, result.Successes...)
		combined.Failures = append(combined.Failures, result.Failures...)
	}
	return combined, nil
}

// ManualSend delivers a notification for one row immediately,
// bypassing detection.
func (p *Pipeline) ManualSend(ctx context.Context, row grid.Row) (delivery.BatchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.deliverableLocked() {
		return delivery.BatchResult{}, fmt.Errorf("pipeline: no recipients or empty template")
	}
	return p.deliverLocked(ctx, row, grid.TriggerManual)
}

func (p *Pipeline) deliverableLocked() bool {
	return len(p.recipients) > 0 && p.template != ""
}

func (p *Pipeline) deliverLocked(ctx context.Context, row grid.Row, kind grid.TriggerKind) (delivery.BatchResult, error) {
	now := p.clock.Now()
	message := delivery.Message{
		Subject:     p.subject,
		Body:        render.Render(p.template, row, now),
		TriggerKind: kind,
		Timestamp:   now,
		RecordID:    row.ID,
	}
	return p.coordinator.Deliver(ctx, message, p.recipients)
}

func buildRecipients(individuals []*directory.Individual, groups []*directory.Group) []delivery.Recipient {
	recipients := make([]delivery.Recipient, 0, len(individuals)+len(groups))
	for _, individual := range individuals {
		recipients = append(recipients, delivery.Recipient{Individual: individual})
	}
	for _, group := range groups {
		recipients = append(recipients, delivery.Recipient{Group: group})
	}
	return recipients
}
