// Package bot runs a tenant's canned reply flow for contacts that message
// the business for the first time.
package bot

import (
	"context"
	"fmt"

	"smartreply-crm/internal/logging"
	"smartreply-crm/internal/models"
)

type FlowSource interface {
	ActiveFor(ctx context.Context, tenantID string) (*models.BotConfig, error)
}

type ReplySender interface {
	SendBotReply(ctx context.Context, tenantID string, c *models.Contact, text, mediaURL, mediaType string) (*models.Message, error)
}

type EventRecorder interface {
	Error(ctx context.Context, source, message, clientID string, meta map[string]any)
}

type Responder struct {
	flows  FlowSource
	sender ReplySender
	events EventRecorder
	log    *logging.Logger
}

func NewResponder(flows FlowSource, sender ReplySender, events EventRecorder, log *logging.Logger) *Responder {
	return &Responder{flows: flows, sender: sender, events: events, log: log.Sub("bot")}
}

// HandleInbound is called for every stored inbound message. The flow only
// runs when the message created the contact and the tenant's bot is active.
// It returns the number of steps delivered.
func (r *Responder) HandleInbound(ctx context.Context, tenantID string, c *models.Contact, created bool) (int, error) {
	if !created || c == nil {
		return 0, nil
	}
	flow, err := r.flows.ActiveFor(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if flow == nil {
		return 0, nil
	}

	r.log.Info().Str("tenant_id", tenantID).Str("to", c.Phone).Int("steps", len(flow.Replies)).Msg("starting bot flow")
	return r.executeSteps(ctx, tenantID, c, flow.Replies)
}

// executeSteps sends the steps one after another so the contact receives
// them in order. A failed step stops the flow.
func (r *Responder) executeSteps(ctx context.Context, tenantID string, c *models.Contact, steps []models.BotReply) (int, error) {
	sent := 0
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		msg, err := r.sender.SendBotReply(ctx, tenantID, c, step.Text, step.MediaURL, step.MediaType)
		if err != nil {
			r.events.Error(ctx, "bot", "Bot reply step could not be sent", tenantID, map[string]any{
				"to":    c.Phone,
				"step":  i + 1,
				"error": err.Error(),
			})
			return sent, fmt.Errorf("bot step %d: %w", i+1, err)
		}
		if msg.Status == models.DeliveryFailed {
			r.log.Warn().Str("tenant_id", tenantID).Str("to", c.Phone).Int("step", i+1).Msg("bot flow stopped after failed delivery")
			return sent, nil
		}
		sent++
	}
	return sent, nil
}
