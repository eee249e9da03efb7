package api

import (
	"github.com/gin-gonic/gin"

	"github.com/telekom/integration-hub/pkg/apiresponses"
	"github.com/telekom/integration-hub/pkg/bus"
)

// SubscriptionSource exposes the bus registry.
type SubscriptionSource interface {
	Registrations() []bus.Registration
	Health() []bus.SubscriberHealth
}

// SubscriptionsResponse lists registered handlers with their counters.
type SubscriptionsResponse struct {
	Subscriptions []bus.Registration     `json:"subscriptions"`
	Health        []bus.SubscriberHealth `json:"health"`
}

type SubscriptionController struct {
	source SubscriptionSource
}

func NewSubscriptionController(source SubscriptionSource) *SubscriptionController {
	return &SubscriptionController{source: source}
}

func (sc *SubscriptionController) BasePath() string           { return "subscriptions" }
func (sc *SubscriptionController) Handlers() []gin.HandlerFunc { return nil }

func (sc *SubscriptionController) Register(rg *gin.RouterGroup) error {
	rg.GET("", func(c *gin.Context) {
		apiresponses.RespondOK(c, SubscriptionsResponse{
			Subscriptions: sc.source.Registrations(),
			Health:        sc.source.Health(),
		})
	})
	return nil
}
