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
	"fmt"
	"strings"
	"time"

	"github.com/telekom/integration-hub/pkg/event"
)

// ValidationError names the request field that was rejected. Validation
// failures are never retried and leave no audit record.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// OffboardingRequest asks to offboard an employee.
type OffboardingRequest struct {
	EmployeeID      int64                 `json:"employeeId"`
	EmployeeName    string                `json:"employeeName,omitempty"`
	OffboardingType event.OffboardingType `json:"offboardingType"`
	ExitDate        string                `json:"exitDate"`
	AssetsToReturn  []string              `json:"assetsToReturn"`
	AccessToRevoke  []string              `json:"accessToRevoke"`
}

func (r OffboardingRequest) Validate() error {
	if r.EmployeeID <= 0 {
		return invalid("employeeId", "must be a positive integer")
	}
	if !r.OffboardingType.Valid() {
		return invalid("offboardingType", fmt.Sprintf("unknown type %q", r.OffboardingType))
	}
	if err := validDate("exitDate", r.ExitDate); err != nil {
		return err
	}
	if err := nonBlank("assetsToReturn", r.AssetsToReturn); err != nil {
		return err
	}
	return nonBlank("accessToRevoke", r.AccessToRevoke)
}

func (r OffboardingRequest) payload() event.OffboardingPayload {
	return event.OffboardingPayload{
		EmployeeID:      r.EmployeeID,
		EmployeeName:    r.EmployeeName,
		OffboardingType: r.OffboardingType,
		ExitDate:        r.ExitDate,
		AssetsToReturn:  nonNil(r.AssetsToReturn),
		AccessToRevoke:  nonNil(r.AccessToRevoke),
	}
}

// OnboardingRequest asks to onboard an employee together with the
// compliance tasks they must complete.
type OnboardingRequest struct {
	EmployeeID      int64                  `json:"employeeId"`
	EmployeeName    string                 `json:"employeeName"`
	Department      string                 `json:"department,omitempty"`
	StartDate       string                 `json:"startDate"`
	AccessToGrant   []string               `json:"accessToGrant,omitempty"`
	ComplianceTasks []event.ComplianceTask `json:"complianceTasks,omitempty"`
}

func (r OnboardingRequest) Validate() error {
	if r.EmployeeID <= 0 {
		return invalid("employeeId", "must be a positive integer")
	}
	if strings.TrimSpace(r.EmployeeName) == "" {
		return invalid("employeeName", "is required")
	}
	if err := validDate("startDate", r.StartDate); err != nil {
		return err
	}
	if err := nonBlank("accessToGrant", r.AccessToGrant); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(r.ComplianceTasks))
	for i, task := range r.ComplianceTasks {
		field := fmt.Sprintf("complianceTasks[%d]", i)
		if strings.TrimSpace(task.ID) == "" {
			return invalid(field+".id", "is required")
		}
		if _, dup := seen[task.ID]; dup {
			return invalid(field+".id", fmt.Sprintf("duplicate task id %q", task.ID))
		}
		seen[task.ID] = struct{}{}
		if strings.TrimSpace(task.Name) == "" {
			return invalid(field+".name", "is required")
		}
		if err := validDate(field+".dueDate", task.DueDate); err != nil {
			return err
		}
	}
	return nil
}

func (r OnboardingRequest) payload() event.OnboardingPayload {
	return event.OnboardingPayload{
		EmployeeID:      r.EmployeeID,
		EmployeeName:    r.EmployeeName,
		Department:      r.Department,
		StartDate:       r.StartDate,
		AccessToGrant:   r.AccessToGrant,
		ComplianceTasks: r.ComplianceTasks,
	}
}

// ComplianceReviewRequest asks the compliance module to open a review task.
type ComplianceReviewRequest struct {
	EmployeeID int64  `json:"employeeId"`
	TaskID     string `json:"taskId"`
	TaskName   string `json:"taskName"`
	DueDate    string `json:"dueDate"`
	Reason     string `json:"reason,omitempty"`
}

func (r ComplianceReviewRequest) Validate() error {
	if r.EmployeeID <= 0 {
		return invalid("employeeId", "must be a positive integer")
	}
	if strings.TrimSpace(r.TaskID) == "" {
		return invalid("taskId", "is required")
	}
	if strings.TrimSpace(r.TaskName) == "" {
		return invalid("taskName", "is required")
	}
	return validDate("dueDate", r.DueDate)
}

func (r ComplianceReviewRequest) payload() event.ComplianceReviewPayload {
	return event.ComplianceReviewPayload(r)
}

func validDate(field, value string) error {
	if value == "" {
		return invalid(field, "is required")
	}
	if _, err := time.Parse(event.DateLayout, value); err != nil {
		return invalid(field, fmt.Sprintf("must be a date in %s format", event.DateLayout))
	}
	return nil
}

func nonBlank(field string, values []string) error {
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			return invalid(fmt.Sprintf("%s[%d]", field, i), "must not be blank")
		}
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
