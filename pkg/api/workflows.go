package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/apiresponses"
	"github.com/telekom/integration-hub/pkg/orchestrator"
	"github.com/telekom/integration-hub/pkg/system"
)

// WorkflowService starts cross-module workflows.
type WorkflowService interface {
	InitiateEmployeeOffboarding(ctx context.Context, req orchestrator.OffboardingRequest, userID string) (string, error)
	InitiateEmployeeOnboarding(ctx context.Context, req orchestrator.OnboardingRequest, userID string) (string, error)
	RequestComplianceReview(ctx context.Context, req orchestrator.ComplianceReviewRequest, userID string) (string, error)
}

// WorkflowResponse is returned when a workflow was accepted.
type WorkflowResponse struct {
	CorrelationID string `json:"correlationId"`
}

type WorkflowController struct {
	service WorkflowService
	log     *zap.SugaredLogger
}

func NewWorkflowController(service WorkflowService, log *zap.SugaredLogger) *WorkflowController {
	return &WorkflowController{service: service, log: log}
}

func (wc *WorkflowController) BasePath() string           { return "workflows" }
func (wc *WorkflowController) Handlers() []gin.HandlerFunc { return nil }

func (wc *WorkflowController) Register(rg *gin.RouterGroup) error {
	rg.POST("/offboarding", startWorkflow(wc, "offboarding", wc.service.InitiateEmployeeOffboarding))
	rg.POST("/onboarding", startWorkflow(wc, "onboarding", wc.service.InitiateEmployeeOnboarding))
	rg.POST("/compliance-review", startWorkflow(wc, "compliance review", wc.service.RequestComplianceReview))
	return nil
}

func startWorkflow[R any](wc *WorkflowController, name string,
	start func(ctx context.Context, req R, userID string) (string, error),
) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := system.GetReqLogger(c, wc.log)

		var req R
		if err := c.ShouldBindJSON(&req); err != nil {
			apiresponses.RespondBadRequestWithDetails(c, "malformed "+name+" request", err.Error())
			return
		}
		id, err := start(c.Request.Context(), req, userID(c))
		if err != nil {
			respondError(c, "start "+name+" workflow", err, log)
			return
		}
		log.Infow("workflow accepted", "workflow", name, "correlation_id", id)
		apiresponses.RespondAccepted(c, WorkflowResponse{CorrelationID: id})
	}
}
