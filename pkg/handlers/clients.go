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


package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/correlation"
)

// AssetClient talks to the asset management module.
type AssetClient interface {
	// ReclaimAsset schedules the return of an asset. Reclaiming an asset
	// already being returned must succeed.
	ReclaimAsset(ctx context.Context, employeeID int64, assetTag, dueDate string) error
}

// AccessClient talks to the security module.
type AccessClient interface {
	RevokeAccess(ctx context.Context, employeeID int64, system string) error
	GrantAccess(ctx context.Context, employeeID int64, system string) error
}

// PayrollClient talks to the finance module.
type PayrollClient interface {
	// SettleFinalPay returns the settlement reference.
	SettleFinalPay(ctx context.Context, employeeID int64, exitDate string) (string, error)
}

// ComplianceClient talks to the compliance module.
type ComplianceClient interface {
	CreateTask(ctx context.Context, employeeID int64, taskID, name, dueDate string) error
}

// Clients bundles the module clients. Nil clients disable their handlers.
type Clients struct {
	Assets     AssetClient
	Access     AccessClient
	Payroll    PayrollClient
	Compliance ComplianceClient
}

// DryRunClient implements every module client by logging the call. It
// is used when the hub runs without the business modules attached.
type DryRunClient struct {
	logger *zap.Logger
}

func NewDryRunClient(logger *zap.Logger) *DryRunClient {
	return &DryRunClient{logger: logger.Named("dry-run")}
}

// Clients returns a Clients value backed entirely by c.
func (c *DryRunClient) Clients() Clients {
	return Clients{Assets: c, Access: c, Payroll: c, Compliance: c}
}

func (c *DryRunClient) log(ctx context.Context) *zap.Logger {
	return correlation.Logger(ctx, c.logger)
}

func (c *DryRunClient) ReclaimAsset(ctx context.Context, employeeID int64, assetTag, dueDate string) error {
	c.log(ctx).Info("reclaim asset",
		zap.Int64("employee_id", employeeID),
		zap.String("asset", assetTag),
		zap.String("due_date", dueDate))
	return nil
}

func (c *DryRunClient) RevokeAccess(ctx context.Context, employeeID int64, system string) error {
	c.log(ctx).Info("revoke access", zap.Int64("employee_id", employeeID), zap.String("system", system))
	return nil
}

func (c *DryRunClient) GrantAccess(ctx context.Context, employeeID int64, system string) error {
	c.log(ctx).Info("grant access", zap.Int64("employee_id", employeeID), zap.String("system", system))
	return nil
}

func (c *DryRunClient) SettleFinalPay(ctx context.Context, employeeID int64, exitDate string) (string, error) {
	ref := fmt.Sprintf("SETTLEMENT-%d-%s", employeeID, exitDate)
	c.log(ctx).Info("settle final pay",
		zap.Int64("employee_id", employeeID),
		zap.String("exit_date", exitDate),
		zap.String("settlement", ref))
	return ref, nil
}

func (c *DryRunClient) CreateTask(ctx context.Context, employeeID int64, taskID, name, dueDate string) error {
	c.log(ctx).Info("create compliance task",
		zap.Int64("employee_id", employeeID),
		zap.String("task_id", taskID),
		zap.String("task", name),
		zap.String("due_date", dueDate))
	return nil
}
