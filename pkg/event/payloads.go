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

package event

// DateLayout is the calendar date format used by payload date fields.
const DateLayout = "2006-01-02"

// OffboardingPayload is carried by EmployeeOffboarded.
type OffboardingPayload struct {
	EmployeeID      int64           `json:"employeeId"`
	EmployeeName    string          `json:"employeeName,omitempty"`
	OffboardingType OffboardingType `json:"offboardingType"`
	ExitDate        string          `json:"exitDate"`
	AssetsToReturn  []string        `json:"assetsToReturn"`
	AccessToRevoke  []string        `json:"accessToRevoke"`
}

func (OffboardingPayload) EventType() Type { return EmployeeOffboarded }

// ComplianceTask is a compliance obligation attached to an onboarding.
type ComplianceTask struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	DueDate string `json:"dueDate"`
}

// OnboardingPayload is carried by EmployeeOnboarded.
type OnboardingPayload struct {
	EmployeeID      int64            `json:"employeeId"`
	EmployeeName    string           `json:"employeeName"`
	Department      string           `json:"department,omitempty"`
	StartDate       string           `json:"startDate"`
	AccessToGrant   []string         `json:"accessToGrant,omitempty"`
	ComplianceTasks []ComplianceTask `json:"complianceTasks,omitempty"`
}

func (OnboardingPayload) EventType() Type { return EmployeeOnboarded }

// ComplianceReviewPayload is carried by ComplianceReviewRequired.
type ComplianceReviewPayload struct {
	EmployeeID int64  `json:"employeeId"`
	TaskID     string `json:"taskId"`
	TaskName   string `json:"taskName"`
	DueDate    string `json:"dueDate"`
	Reason     string `json:"reason,omitempty"`
}

func (ComplianceReviewPayload) EventType() Type { return ComplianceReviewRequired }
