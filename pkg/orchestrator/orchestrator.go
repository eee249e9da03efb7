/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/audit"
	"github.com/telekom/integration-hub/pkg/bus"
	"github.com/telekom/integration-hub/pkg/correlation"
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/metrics"
	"github.com/telekom/integration-hub/pkg/telemetry"
)

// Workflow names, also used as audit action prefixes.
const (
	WorkflowOffboarding      = "OFFBOARDING"
	WorkflowOnboarding       = "ONBOARDING"
	WorkflowComplianceReview = "COMPLIANCE_REVIEW"
)

// Publisher is the publishing side of the event bus.
type Publisher interface {
	Publish(ctx context.Context, evt event.DomainEvent) (bus.DispatchResult, error)
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithHRModule overrides the module recorded as the source of employee
// lifecycle events.
func WithHRModule(m event.Module) Option {
	return func(o *Orchestrator) { o.hrModule = m }
}

// Orchestrator starts cross-module workflows: it validates the request,
// publishes the triggering events and records the initiation.
type Orchestrator struct {
	publisher Publisher
	recorder  audit.Writer
	logger    *zap.Logger
	hrModule  event.Module
}

func New(publisher Publisher, recorder audit.Writer, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		publisher: publisher,
		recorder:  recorder,
		logger:    logger.Named("orchestrator"),
		hrModule:  event.ModuleHR,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// initiation describes one workflow start for the audit trail.
type initiation struct {
	workflow string
	module   event.Module
	userID   string
	resource string
	changes  []audit.Change
}

// InitiateEmployeeOffboarding publishes employee.offboarded and returns the
// correlation ID grouping every record the workflow produces.
func (o *Orchestrator) InitiateEmployeeOffboarding(ctx context.Context, req OffboardingRequest, userID string) (string, error) {
	if err := o.validate(WorkflowOffboarding, req.Validate(), userID); err != nil {
		return "", err
	}
	ctx, corr := correlation.Ensure(ctx)
	evt, err := event.New(req.payload(), corr, o.hrModule)
	if err != nil {
		return "", err
	}

	in := initiation{
		workflow: WorkflowOffboarding,
		module:   o.hrModule,
		userID:   userID,
		resource: strconv.FormatInt(req.EmployeeID, 10),
		changes: []audit.Change{
			{Field: "employmentStatus", OldValue: "ACTIVE", NewValue: "OFFBOARDING"},
			{Field: "offboardingType", OldValue: nil, NewValue: string(req.OffboardingType)},
			{Field: "exitDate", OldValue: nil, NewValue: req.ExitDate},
			{Field: "assetsToReturn", OldValue: nil, NewValue: len(req.AssetsToReturn)},
			{Field: "accessToRevoke", OldValue: nil, NewValue: len(req.AccessToRevoke)},
		},
	}
	return corr, o.run(ctx, in, evt)
}

// InitiateEmployeeOnboarding publishes employee.onboarded followed by one
// compliance.review-required per compliance task, all sharing the
// returned correlation ID.
func (o *Orchestrator) InitiateEmployeeOnboarding(ctx context.Context, req OnboardingRequest, userID string) (string, error) {
	if err := o.validate(WorkflowOnboarding, req.Validate(), userID); err != nil {
		return "", err
	}
	ctx, corr := correlation.Ensure(ctx)

	events := make([]event.DomainEvent, 0, 1+len(req.ComplianceTasks))
	evt, err := event.New(req.payload(), corr, o.hrModule)
	if err != nil {
		return "", err
	}
	events = append(events, evt)
	for _, task := range req.ComplianceTasks {
		review, err := event.New(event.ComplianceReviewPayload{
			EmployeeID: req.EmployeeID,
			TaskID:     task.ID,
			TaskName:   task.Name,
			DueDate:    task.DueDate,
			Reason:     "onboarding",
		}, corr, o.hrModule)
		if err != nil {
			return "", err
		}
		events = append(events, review)
	}

	in := initiation{
		workflow: WorkflowOnboarding,
		module:   o.hrModule,
		userID:   userID,
		resource: strconv.FormatInt(req.EmployeeID, 10),
		changes: []audit.Change{
			{Field: "employmentStatus", OldValue: nil, NewValue: "ONBOARDING"},
			{Field: "startDate", OldValue: nil, NewValue: req.StartDate},
			{Field: "department", OldValue: nil, NewValue: req.Department},
			{Field: "complianceTasks", OldValue: nil, NewValue: len(req.ComplianceTasks)},
		},
	}
	return corr, o.run(ctx, in, events...)
}

// RequestComplianceReview publishes compliance.review-required on its own.
func (o *Orchestrator) RequestComplianceReview(ctx context.Context, req ComplianceReviewRequest, userID string) (string, error) {
	if err := o.validate(WorkflowComplianceReview, req.Validate(), userID); err != nil {
		return "", err
	}
	ctx, corr := correlation.Ensure(ctx)
	evt, err := event.New(req.payload(), corr, event.ModuleCompliance)
	if err != nil {
		return "", err
	}

	in := initiation{
		workflow: WorkflowComplianceReview,
		module:   event.ModuleCompliance,
		userID:   userID,
		resource: strconv.FormatInt(req.EmployeeID, 10),
		changes: []audit.Change{
			{Field: "reviewTask", OldValue: nil, NewValue: req.TaskID},
			{Field: "dueDate", OldValue: nil, NewValue: req.DueDate},
		},
	}
	return corr, o.run(ctx, in, evt)
}

func (o *Orchestrator) validate(workflow string, err error, userID string) error {
	if err == nil && userID == "" {
		err = invalid("userId", "is required")
	}
	if err != nil {
		metrics.WorkflowsInitiated.WithLabelValues(workflow, "invalid").Inc()
		return err
	}
	return nil
}

// run publishes events in order and records the initiation. The first
// event's occurredAt becomes the timestamp of the initiation record so it
// sorts ahead of the handler records it causes.
func (o *Orchestrator) run(ctx context.Context, in initiation, events ...event.DomainEvent) (err error) {
	first := events[0]
	ctx, span := telemetry.StartEventSpan(ctx, "workflow.initiate", first,
		telemetry.AttrWorkflow.String(in.workflow))
	defer func() { telemetry.End(span, err) }()
	log := o.logger.With(
		correlation.Field(first.CorrelationID),
		zap.String("workflow", in.workflow),
		zap.String("employee_id", in.resource))

	rec := audit.Record{
		CorrelationID: first.CorrelationID,
		Module:        string(in.module),
		Action:        in.workflow + "_INITIATED",
		ResourceType:  "Employee",
		ResourceID:    in.resource,
		UserID:        in.userID,
		Timestamp:     first.OccurredAt,
		Changes:       in.changes,
		EventID:       first.ID,
	}

	for _, evt := range events {
		if _, err := o.publisher.Publish(ctx, evt); err != nil {
			perr := asPublishError(evt, err)
			rec.Status = audit.StatusFailed
			rec.Error = perr.Error()
			if aerr := o.recorder.Record(ctx, rec); aerr != nil {
				log.Error("failed to record failed initiation", zap.Error(aerr))
				perr = &bus.PublishError{
					Stage:   perr.Stage,
					EventID: perr.EventID,
					Err:     errors.Join(perr.Err, fmt.Errorf("record failed initiation: %w", aerr)),
				}
			}
			metrics.WorkflowsInitiated.WithLabelValues(in.workflow, "failed").Inc()
			log.Error("workflow initiation failed", zap.String("event_id", evt.ID), zap.Error(perr))
			return perr
		}
	}

	rec.Status = audit.StatusSuccess
	if err := o.recorder.Record(ctx, rec); err != nil {
		metrics.WorkflowsInitiated.WithLabelValues(in.workflow, "audit_failed").Inc()
		log.Error("failed to record workflow initiation", zap.Error(err))
		return &bus.PublishError{Stage: bus.StageAudit, EventID: first.ID, Err: err}
	}

	metrics.WorkflowsInitiated.WithLabelValues(in.workflow, "success").Inc()
	log.Info("workflow initiated",
		zap.String("event_id", first.ID),
		zap.Int("events", len(events)),
		zap.String("user_id", in.userID))
	return nil
}

func asPublishError(evt event.DomainEvent, err error) *bus.PublishError {
	var perr *bus.PublishError
	if errors.As(err, &perr) {
		return perr
	}
	return &bus.PublishError{Stage: bus.StagePublish, EventID: evt.ID, Err: fmt.Errorf("publish %s: %w", evt.Type, err)}
}
