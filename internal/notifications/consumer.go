package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
	"github.com/kiwanukadev/zawadi-backend/pkg/outbox"
	"github.com/kiwanukadev/zawadi-backend/pkg/outbox/idempotency"
	"github.com/kiwanukadev/zawadi-backend/pkg/outbox/payloads"
)

const orderStatusConsumer = "order-status-notifications"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Consumer watches fulfillment events and mirrors them as in-app
// notifications for customers with an account. The confirmation email itself
// is the mailer's job; this keeps the notification bell in sync.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds an order status notification consumer.
func NewConsumer(repo repository, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("mail subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	fields := map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	if eventType != string(enums.EventOrderStatusEmail) {
		c.logg.Info(logCtx, "skipping non-status event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, orderStatusConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	var payload payloads.OrderStatusEmailEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		_ = c.idempotency.Delete(ctx, orderStatusConsumer, eventID)
		return processResult{nack: true}
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"order_number": payload.OrderNumber,
		"status":       payload.Status,
	})

	if payload.UserID == nil {
		// Guest checkout; the email is the only channel.
		c.logg.Info(logCtx, "no account linked, skipping in-app notification")
		return processResult{ack: true}
	}

	notification := &models.Notification{
		UserID:  *payload.UserID,
		Type:    enums.NotificationTypeOrderStatus,
		Title:   statusTitle(payload.Status),
		Message: fmt.Sprintf("Order %s is now %s.", payload.OrderNumber, payload.Status),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		c.logg.Error(logCtx, "notification creation failed", err)
		_ = c.idempotency.Delete(ctx, orderStatusConsumer, eventID)
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "order status notification created")
	return processResult{ack: true}
}

func statusTitle(status enums.OrderStatus) string {
	switch status {
	case enums.OrderStatusShipped:
		return "Your order has shipped"
	case enums.OrderStatusDelivered:
		return "Your order was delivered"
	default:
		return "Order update"
	}
}
