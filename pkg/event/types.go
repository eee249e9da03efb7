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

import (
	"strings"
)

// Type identifies the kind of a DomainEvent.
type Type string

const (
	// EmployeeOffboarded is raised by HR when an employee leaves.
	EmployeeOffboarded Type = "employee.offboarded"
	// EmployeeOnboarded is raised by HR when a new employee starts.
	EmployeeOnboarded Type = "employee.onboarded"
	// ComplianceReviewRequired asks the compliance module to open a review task.
	ComplianceReviewRequired Type = "compliance.review-required"
)

// Module names the business module that raised an event or ran a handler.
type Module string

const (
	ModuleHR          Module = "HR"
	ModuleAssets      Module = "ASSETS"
	ModuleSecurity    Module = "SECURITY"
	ModuleFinance     Module = "FINANCE"
	ModuleCompliance  Module = "COMPLIANCE"
	ModuleIntegration Module = "INTEGRATION"
)

// KnownTypes returns all event types that have a typed payload.
func KnownTypes() []Type {
	return []Type{
		EmployeeOffboarded,
		EmployeeOnboarded,
		ComplianceReviewRequired,
	}
}

// IsKnown reports whether the type has a registered payload shape.
// Unknown types can still be published.
func (t Type) IsKnown() bool {
	switch t {
	case EmployeeOffboarded, EmployeeOnboarded, ComplianceReviewRequired:
		return true
	default:
		return false
	}
}

// ActionPrefix renders the type as an upper-case audit action prefix,
// e.g. "employee.offboarded" -> "EMPLOYEE_OFFBOARDED".
func (t Type) ActionPrefix() string {
	replacer := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return strings.ToUpper(replacer.Replace(string(t)))
}

// OffboardingType classifies why an employee leaves.
type OffboardingType string

const (
	OffboardingResignation OffboardingType = "RESIGNATION"
	OffboardingTermination OffboardingType = "TERMINATION"
	OffboardingRetirement  OffboardingType = "RETIREMENT"
	OffboardingContractEnd OffboardingType = "CONTRACT_END"
)

// Valid reports whether the offboarding type is one of the known kinds.
func (o OffboardingType) Valid() bool {
	switch o {
	case OffboardingResignation, OffboardingTermination, OffboardingRetirement, OffboardingContractEnd:
		return true
	default:
		return false
	}
}
