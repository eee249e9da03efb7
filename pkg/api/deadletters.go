package api

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/apiresponses"
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/retry"
	"github.com/telekom/integration-hub/pkg/system"
)

// DeadLetterService lists and replays dead letters.
type DeadLetterService interface {
	DeadLetters(ctx context.Context, f retry.DeadLetterFilter) ([]retry.DeadLetter, error)
	Replay(ctx context.Context, id, userID string) error
}

// ReplayResponse confirms a replay was scheduled.
type ReplayResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type DeadLetterController struct {
	service DeadLetterService
	log     *zap.SugaredLogger
}

func NewDeadLetterController(service DeadLetterService, log *zap.SugaredLogger) *DeadLetterController {
	return &DeadLetterController{service: service, log: log}
}

func (dc *DeadLetterController) BasePath() string           { return "dead-letters" }
func (dc *DeadLetterController) Handlers() []gin.HandlerFunc { return nil }

func (dc *DeadLetterController) Register(rg *gin.RouterGroup) error {
	rg.GET("", dc.list)
	rg.POST("/:id/replay", dc.replay)
	return nil
}

func (dc *DeadLetterController) list(c *gin.Context) {
	log := system.GetReqLogger(c, dc.log)

	f := retry.DeadLetterFilter{
		HandlerID:     c.Query("handlerId"),
		EventType:     event.Type(c.Query("eventType")),
		CorrelationID: c.Query("correlationId"),
		Limit:         defaultQueryLimit,
	}
	if raw := c.Query("unreplayed"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			apiresponses.RespondValidationError(c, "invalid unreplayed: must be a boolean", "unreplayed")
			return
		}
		f.Unreplayed = b
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxQueryLimit {
			apiresponses.RespondValidationError(c, fmt.Sprintf("invalid limit: must be between 1 and %d", maxQueryLimit), "limit")
			return
		}
		f.Limit = n
	}

	dls, err := dc.service.DeadLetters(c.Request.Context(), f)
	if err != nil {
		respondError(c, "list dead letters", err, log)
		return
	}
	if dls == nil {
		dls = []retry.DeadLetter{}
	}
	apiresponses.RespondOK(c, dls)
}

func (dc *DeadLetterController) replay(c *gin.Context) {
	log := system.GetReqLogger(c, dc.log)

	id := c.Param("id")
	user := userID(c)
	if user == "" {
		user = "system:api"
	}
	if err := dc.service.Replay(c.Request.Context(), id, user); err != nil {
		respondError(c, "replay dead letter", err, log)
		return
	}
	log.Infow("dead letter replay scheduled", "dead_letter_id", id)
	apiresponses.RespondAccepted(c, ReplayResponse{ID: id, Status: "replay_scheduled"})
}
