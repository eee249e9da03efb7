package client

import (
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/orchestrator"
)

func offboardingStub() orchestrator.OffboardingRequest {
	return orchestrator.OffboardingRequest{
		EmployeeID:      42,
		OffboardingType: event.OffboardingResignation,
		ExitDate:        "30.06.2026",
	}
}
