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


// Package handlers holds the module reactions to domain events: assets,
// security, finance and compliance. Each handler is idempotent per event.
package handlers

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/audit"
	"github.com/telekom/integration-hub/pkg/bus"
	"github.com/telekom/integration-hub/pkg/dedup"
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/utils"
)

// Handler IDs are stable across restarts; the retry manager and the audit
// trail refer to them.
const (
	AssetsReclaimID        = "assets.reclaim-equipment"
	SecurityRevokeID       = "security.revoke-access"
	SecurityProvisionID    = "security.provision-access"
	FinanceSettleID        = "finance.settle-final-pay"
	ComplianceCreateTaskID = "compliance.create-task"
)

// Registrar wires the module handlers onto a bus.
type Registrar struct {
	bus     *bus.Bus
	clients Clients
	store   dedup.Store
	cfg     dedup.Config
	logger  *zap.Logger
}

func NewRegistrar(b *bus.Bus, clients Clients, store dedup.Store, cfg dedup.Config, logger *zap.Logger) *Registrar {
	return &Registrar{
		bus:     b,
		clients: clients,
		store:   store,
		cfg:     cfg,
		logger:  logger.Named("handlers"),
	}
}

// Register subscribes every handler whose client is configured.
func (r *Registrar) Register() ([]bus.Registration, error) {
	var regs []bus.Registration
	add := func(reg bus.Registration, err error) error {
		if err != nil {
			return err
		}
		regs = append(regs, reg)
		return nil
	}

	if r.clients.Assets != nil {
		if err := add(on(r, AssetsReclaimID, event.ModuleAssets, r.reclaimAssets)); err != nil {
			return nil, err
		}
	}
	if r.clients.Access != nil {
		if err := add(on(r, SecurityRevokeID, event.ModuleSecurity, r.revokeAccess)); err != nil {
			return nil, err
		}
		if err := add(on(r, SecurityProvisionID, event.ModuleSecurity, r.provisionAccess)); err != nil {
			return nil, err
		}
	}
	if r.clients.Payroll != nil {
		if err := add(on(r, FinanceSettleID, event.ModuleFinance, r.settleFinalPay)); err != nil {
			return nil, err
		}
	}
	if r.clients.Compliance != nil {
		if err := add(on(r, ComplianceCreateTaskID, event.ModuleCompliance, r.createComplianceTask)); err != nil {
			return nil, err
		}
	}

	for _, reg := range regs {
		r.logger.Info("handler registered",
			zap.String("handler_id", reg.HandlerID),
			zap.String("event_type", string(reg.EventType)),
			zap.String("module", string(reg.Module)))
	}
	return regs, nil
}

func on[P event.Payload](r *Registrar, handlerID string, module event.Module, fn bus.TypedHandler[P]) (bus.Registration, error) {
	return bus.On(r.bus, handlerID, Idempotent(r.store, r.cfg, handlerID, r.logger, fn), bus.WithModule(module))
}

func employeeResource(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (r *Registrar) reclaimAssets(ctx context.Context, _ event.DomainEvent, p event.OffboardingPayload) (bus.Result, error) {
	changes := make([]audit.Change, 0, len(p.AssetsToReturn))
	for _, tag := range p.AssetsToReturn {
		if err := r.clients.Assets.ReclaimAsset(ctx, p.EmployeeID, tag, p.ExitDate); err != nil {
			return bus.Result{}, fmt.Errorf("reclaim asset %s: %w", tag, err)
		}
		changes = append(changes, audit.Change{Field: "asset:" + tag, OldValue: "ASSIGNED", NewValue: "RETURN_PENDING"})
	}
	return bus.Result{
		Action:       "ASSET_RECLAIMED",
		ResourceType: "Employee",
		ResourceID:   employeeResource(p.EmployeeID),
		Changes:      changes,
	}, nil
}

func (r *Registrar) revokeAccess(ctx context.Context, _ event.DomainEvent, p event.OffboardingPayload) (bus.Result, error) {
	changes := make([]audit.Change, 0, len(p.AccessToRevoke))
	for _, system := range p.AccessToRevoke {
		if err := r.clients.Access.RevokeAccess(ctx, p.EmployeeID, system); err != nil {
			return bus.Result{}, fmt.Errorf("revoke %s access: %w", system, err)
		}
		changes = append(changes, audit.Change{Field: "access:" + system, OldValue: "GRANTED", NewValue: "REVOKED"})
	}
	return bus.Result{
		Action:       "ACCESS_REVOKED",
		ResourceType: "Employee",
		ResourceID:   employeeResource(p.EmployeeID),
		Changes:      changes,
	}, nil
}

func (r *Registrar) provisionAccess(ctx context.Context, _ event.DomainEvent, p event.OnboardingPayload) (bus.Result, error) {
	changes := make([]audit.Change, 0, len(p.AccessToGrant))
	for _, system := range p.AccessToGrant {
		if err := r.clients.Access.GrantAccess(ctx, p.EmployeeID, system); err != nil {
			return bus.Result{}, fmt.Errorf("grant %s access: %w", system, err)
		}
		changes = append(changes, audit.Change{Field: "access:" + system, OldValue: nil, NewValue: "GRANTED"})
	}
	return bus.Result{
		Action:       "ACCESS_PROVISIONED",
		ResourceType: "Employee",
		ResourceID:   employeeResource(p.EmployeeID),
		Changes:      changes,
	}, nil
}

func (r *Registrar) settleFinalPay(ctx context.Context, _ event.DomainEvent, p event.OffboardingPayload) (bus.Result, error) {
	if p.ExitDate == "" {
		return bus.Result{}, utils.Permanent(fmt.Errorf("employee %d has no exit date", p.EmployeeID))
	}
	ref, err := r.clients.Payroll.SettleFinalPay(ctx, p.EmployeeID, p.ExitDate)
	if err != nil {
		return bus.Result{}, fmt.Errorf("settle final pay: %w", err)
	}
	return bus.Result{
		Action:       "FINAL_PAY_SETTLED",
		ResourceType: "Payroll",
		ResourceID:   ref,
		Changes: []audit.Change{
			{Field: "payrollStatus", OldValue: "ACTIVE", NewValue: "FINAL_SETTLEMENT"},
			{Field: "lastWorkingDay", OldValue: nil, NewValue: p.ExitDate},
		},
	}, nil
}

func (r *Registrar) createComplianceTask(ctx context.Context, _ event.DomainEvent, p event.ComplianceReviewPayload) (bus.Result, error) {
	if p.TaskID == "" {
		return bus.Result{}, utils.Permanent(fmt.Errorf("compliance review for employee %d has no task id", p.EmployeeID))
	}
	if err := r.clients.Compliance.CreateTask(ctx, p.EmployeeID, p.TaskID, p.TaskName, p.DueDate); err != nil {
		return bus.Result{}, fmt.Errorf("create compliance task %s: %w", p.TaskID, err)
	}
	return bus.Result{
		Action:       "COMPLIANCE_TASK_CREATED",
		ResourceType: "ComplianceTask",
		ResourceID:   p.TaskID,
		Changes: []audit.Change{
			{Field: "status", OldValue: nil, NewValue: "OPEN"},
			{Field: "employeeId", OldValue: nil, NewValue: p.EmployeeID},
			{Field: "dueDate", OldValue: nil, NewValue: p.DueDate},
		},
	}, nil
}
