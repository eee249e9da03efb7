package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/apiresponses"
	"github.com/telekom/integration-hub/pkg/bus"
	"github.com/telekom/integration-hub/pkg/correlation"
	"github.com/telekom/integration-hub/pkg/event"
	"github.com/telekom/integration-hub/pkg/system"
)

// EventPublisher publishes raw domain events.
type EventPublisher interface {
	Publish(ctx context.Context, evt event.DomainEvent) (bus.DispatchResult, error)
}

// PublishEventRequest is the body of POST /api/events. Missing envelope
// fields are filled in: ID and OccurredAt are generated and the correlation
// ID defaults to the request's.
type PublishEventRequest struct {
	ID            string          `json:"id,omitempty"`
	Type          event.Type      `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	SourceModule  event.Module    `json:"sourceModule,omitempty"`
	OccurredAt    *time.Time      `json:"occurredAt,omitempty"`
}

func (r PublishEventRequest) envelope(ctx context.Context) event.DomainEvent {
	corr := r.CorrelationID
	if corr == "" {
		corr, _ = correlation.FromContext(ctx)
	}
	source := r.SourceModule
	if source == "" {
		source = event.ModuleIntegration
	}
	evt := event.NewRaw(r.Type, r.Payload, corr, source)
	if r.ID != "" {
		evt.ID = r.ID
	}
	if r.OccurredAt != nil {
		evt.OccurredAt = r.OccurredAt.UTC()
	}
	return evt
}

type EventController struct {
	publisher EventPublisher
	log       *zap.SugaredLogger
}

func NewEventController(publisher EventPublisher, log *zap.SugaredLogger) *EventController {
	return &EventController{publisher: publisher, log: log}
}

func (ec *EventController) BasePath() string           { return "events" }
func (ec *EventController) Handlers() []gin.HandlerFunc { return nil }

func (ec *EventController) Register(rg *gin.RouterGroup) error {
	rg.POST("", ec.publish)
	return nil
}

func (ec *EventController) publish(c *gin.Context) {
	log := system.GetReqLogger(c, ec.log)

	var req PublishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "malformed event", err.Error())
		return
	}
	if req.Type == "" {
		apiresponses.RespondValidationError(c, "invalid type: is required", "type")
		return
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		apiresponses.RespondValidationError(c, "invalid payload: not valid JSON", "payload")
		return
	}

	evt := req.envelope(c.Request.Context())
	result, err := ec.publisher.Publish(c.Request.Context(), evt)
	if err != nil {
		respondError(c, "publish event", err, log)
		return
	}
	log.Infow("event published", "event_id", evt.ID, "event_type", evt.Type, "handlers", len(result.Outcomes))
	apiresponses.RespondAccepted(c, result)
}
