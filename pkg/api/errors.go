package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/apiresponses"
	"github.com/telekom/integration-hub/pkg/audit"
	"github.com/telekom/integration-hub/pkg/bus"
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/orchestrator"
	"github.com/telekom/integration-hub/pkg/retry"
)

// respondError maps domain errors onto the standard error body.
func respondError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	var verr *orchestrator.ValidationError
	var perr *bus.PublishError
	switch {
	case errors.As(err, &verr):
		apiresponses.RespondValidationError(c, verr.Error(), verr.Field)
	case errors.Is(err, event.ErrInvalidEvent), errors.Is(err, audit.ErrInvalidRecord):
		apiresponses.RespondBadRequestWithDetails(c, "invalid request", err.Error())
	case errors.Is(err, retry.ErrDeadLetterNotFound):
		apiresponses.RespondNotFound(c, "dead letter", c.Param("id"))
	case errors.Is(err, bus.ErrBusClosed), errors.Is(err, retry.ErrStopped), errors.Is(err, retry.ErrNotStarted):
		apiresponses.RespondServiceUnavailable(c, "event bus")
	case errors.As(err, &perr) && perr.Stage == bus.StageAudit:
		apiresponses.RespondInternalError(c, "record audit trail", err, log)
	default:
		apiresponses.RespondInternalError(c, operation, err, log)
	}
}
