package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/auth"
	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	pkgerrors "github.com/kiwanukadev/zawadi-backend/pkg/errors"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
	"github.com/kiwanukadev/zawadi-backend/pkg/outbox"
	"github.com/kiwanukadev/zawadi-backend/pkg/outbox/payloads"
)

// Trigger identifies which entry point drove a reconciliation.
type Trigger string

const (
	TriggerCallback Trigger = "callback"
	TriggerIPN      Trigger = "ipn"
	TriggerPoll     Trigger = "poll"
)

// pendingPasswordKey is the order metadata slot checkout fills, with an
// already-hashed password, when the customer asked for an account. Consumed
// and cleared after the payment completes.
const pendingPasswordKey = "pending_account_password"

// UserDirectory is the slice of the users service the dispatcher needs.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, tx *gorm.DB, user *models.User) error
}

// Notifier creates in-app notifications.
type Notifier interface {
	Create(ctx context.Context, tx *gorm.DB, notification *models.Notification) error
}

// Emitter queues asynchronous jobs through the outbox.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// DispatchResult carries trigger-specific outputs. SessionToken is set only
// for the browser callback when a user account exists or was just created.
type DispatchResult struct {
	SessionToken string
	AccountID    *uuid.UUID
}

// Dispatcher fires post-transition actions exactly once per genuine status
// change. Every sub-effect failure is logged and swallowed; a confirmed
// payment is never undone by a broken notification or mailer.
type Dispatcher struct {
	repo     Repository
	users    UserDirectory
	notifier Notifier
	emitter  Emitter
	runner   txRunner
	flags    config.FeatureFlagsConfig
	jwtCfg   config.JWTConfig
	logg     *logger.Logger
	now      func() time.Time
}

// DispatcherParams wires the dispatcher dependencies.
type DispatcherParams struct {
	Repo     Repository
	Users    UserDirectory
	Notifier Notifier
	Emitter  Emitter
	Runner   txRunner
	Flags    config.FeatureFlagsConfig
	JWT      config.JWTConfig
	Logger   *logger.Logger
}

// NewDispatcher validates and assembles the dispatcher.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "user directory required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifier required")
	}
	if params.Emitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	if params.Runner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	return &Dispatcher{
		repo:     params.Repo,
		users:    params.Users,
		notifier: params.Notifier,
		emitter:  params.Emitter,
		runner:   params.Runner,
		flags:    params.Flags,
		jwtCfg:   params.JWT,
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

// Dispatch runs the side effects for a payable whose payment_status just
// moved. Callers must only invoke it with changed=true from the state
// machine; calling it again for the same transition is harmless because every
// effect is individually idempotent, but the changed gate is the primary
// guarantee.
func (d *Dispatcher) Dispatch(ctx context.Context, payable Payable, txn *models.PaymentTransaction, newStatus enums.PaymentStatus, trigger Trigger) *DispatchResult {
	result := &DispatchResult{}
	if !payable.Valid() {
		return result
	}
	ctx = d.logCtx(ctx, payable, trigger)

	switch newStatus {
	case enums.PaymentStatusCompleted:
		d.handleCompleted(ctx, payable, trigger, result)
		d.enqueuePaymentEvent(ctx, payable, txn, enums.EventPaymentCompleted)
	case enums.PaymentStatusFailed:
		d.notify(ctx, payable, enums.NotificationTypePaymentFailed,
			"Payment failed",
			"We could not confirm your payment for "+payable.Reference()+". Please try again.")
		d.enqueuePaymentEvent(ctx, payable, txn, enums.EventPaymentFailed)
	}
	return result
}

func (d *Dispatcher) handleCompleted(ctx context.Context, payable Payable, trigger Trigger, result *DispatchResult) {
	if payable.Type == enums.PayableTypeOrder {
		d.ensureAccount(ctx, payable.Order, trigger, result)
	}

	d.notify(ctx, payable, enums.NotificationTypePaymentReceived,
		"Payment received",
		"Your payment for "+payable.Reference()+" was confirmed. Thank you!")

	d.enqueueConfirmationEmail(ctx, payable)
}

// ensureAccount creates the customer account the checkout form asked for,
// links it to the order, and clears the stored password. Failures are logged
// and swallowed.
func (d *Dispatcher) ensureAccount(ctx context.Context, order *models.Order, trigger Trigger, result *DispatchResult) {
	if order == nil || !d.flags.InlineAccountCreation {
		return
	}

	if order.UserID != nil {
		d.mintSession(ctx, order.UserID, order.CustomerEmail, trigger, result)
		return
	}

	passwordHash := ""
	if order.Metadata != nil {
		passwordHash = order.Metadata[pendingPasswordKey]
	}
	if passwordHash == "" {
		return
	}

	existing, err := d.users.FindByEmail(ctx, order.CustomerEmail)
	if err != nil && err != gorm.ErrRecordNotFound {
		d.swallow(ctx, err, "look up customer account")
		return
	}

	var userID uuid.UUID
	err = d.runner.WithTx(ctx, func(tx *gorm.DB) error {
		user := existing
		if user == nil {
			user = &models.User{
				Email:        order.CustomerEmail,
				Name:         order.CustomerName,
				PasswordHash: passwordHash,
			}
			if createErr := d.users.Create(ctx, tx, user); createErr != nil {
				return createErr
			}
		}
		userID = user.ID
		order.UserID = &user.ID
		delete(order.Metadata, pendingPasswordKey)
		return d.repo.WithTx(tx).SaveOrder(ctx, order)
	})
	if err != nil {
		d.swallow(ctx, err, "create customer account")
		return
	}

	if d.logg != nil {
		d.logg.Info(d.logg.WithUserID(ctx, userID.String()), "customer account linked after payment")
	}
	d.mintSession(ctx, &userID, order.CustomerEmail, trigger, result)
}

// mintSession issues a session token for the browser callback only. Webhook
// and polling triggers have no user-facing session.
func (d *Dispatcher) mintSession(ctx context.Context, userID *uuid.UUID, email string, trigger Trigger, result *DispatchResult) {
	result.AccountID = userID
	if trigger != TriggerCallback || userID == nil {
		return
	}
	token, err := auth.MintSessionToken(d.jwtCfg, d.now(), auth.SessionTokenPayload{
		UserID: *userID,
		Email:  email,
	})
	if err != nil {
		d.swallow(ctx, err, "mint session token")
		return
	}
	result.SessionToken = token
}

func (d *Dispatcher) notify(ctx context.Context, payable Payable, notificationType enums.NotificationType, title, message string) {
	userID := payableUserID(payable)
	if userID == nil {
		return
	}
	err := d.runner.WithTx(ctx, func(tx *gorm.DB) error {
		return d.notifier.Create(ctx, tx, &models.Notification{
			UserID:  *userID,
			Type:    notificationType,
			Title:   title,
			Message: message,
		})
	})
	if err != nil {
		d.swallow(ctx, err, "create notification")
	}
}

func (d *Dispatcher) enqueueConfirmationEmail(ctx context.Context, payable Payable) {
	var event outbox.DomainEvent
	switch payable.Type {
	case enums.PayableTypeOrder:
		order := payable.Order
		event = outbox.DomainEvent{
			EventType:     enums.EventOrderConfirmationEmail,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderConfirmationEmailEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				CustomerEmail: order.CustomerEmail,
				CustomerName:  order.CustomerName,
				Amount:        order.Amount,
				Currency:      order.Currency,
			},
		}
	case enums.PayableTypeDonation:
		donation := payable.Donation
		event = outbox.DomainEvent{
			EventType:     enums.EventDonationConfirmationEmail,
			AggregateType: enums.AggregateDonation,
			AggregateID:   donation.ID,
			Data: payloads.DonationConfirmationEmailEvent{
				DonationID:     donation.ID,
				DonationNumber: donation.DonationNumber,
				DonorEmail:     donation.DonorEmail,
				DonorName:      donation.DonorName,
				Amount:         donation.Amount,
				Currency:       donation.Currency,
				Anonymous:      donation.Anonymous,
			},
		}
	default:
		return
	}

	err := d.runner.WithTx(ctx, func(tx *gorm.DB) error {
		return d.emitter.EmitIfNotExists(ctx, tx, event)
	})
	if err != nil {
		d.swallow(ctx, err, "enqueue confirmation email")
	}
}

func (d *Dispatcher) enqueuePaymentEvent(ctx context.Context, payable Payable, txn *models.PaymentTransaction, eventType enums.OutboxEventType) {
	if txn == nil {
		return
	}
	err := d.runner.WithTx(ctx, func(tx *gorm.DB) error {
		return d.emitter.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: payable.AggregateType(),
			AggregateID:   payable.ID(),
			Data: payloads.PaymentEvent{
				TransactionID:     txn.ID,
				TrackingID:        trackingID(txn),
				MerchantReference: txn.MerchantReference,
				PayableType:       txn.PayableType,
				PayableID:         txn.PayableID,
				Status:            txn.Status,
				Amount:            txn.Amount,
				Currency:          txn.Currency,
			},
		})
	})
	if err != nil {
		d.swallow(ctx, err, "enqueue payment event")
	}
}

// OrderStatusChanged queues a status-update email for fulfillment moves
// (shipped, delivered). Not tied to the payment path but shares the
// fire-and-forget contract.
func (d *Dispatcher) OrderStatusChanged(ctx context.Context, order *models.Order) {
	if order == nil {
		return
	}
	if order.Status != enums.OrderStatusShipped && order.Status != enums.OrderStatusDelivered {
		return
	}
	err := d.runner.WithTx(ctx, func(tx *gorm.DB) error {
		return d.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusEmail,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderStatusEmailEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				UserID:        order.UserID,
				CustomerEmail: order.CustomerEmail,
				Status:        order.Status,
				ChangedAt:     d.now(),
			},
		})
	})
	if err != nil {
		d.swallow(ctx, err, "enqueue status email")
	}
}

func (d *Dispatcher) swallow(ctx context.Context, err error, action string) {
	if d.logg == nil {
		return
	}
	d.logg.Error(ctx, "side effect skipped: "+action, err)
}

func (d *Dispatcher) logCtx(ctx context.Context, payable Payable, trigger Trigger) context.Context {
	if d.logg == nil {
		return ctx
	}
	ctx = d.logg.WithTrigger(ctx, string(trigger))
	return d.logg.WithReference(ctx, payable.Reference())
}

func trackingID(txn *models.PaymentTransaction) string {
	if txn.TrackingID == nil {
		return ""
	}
	return *txn.TrackingID
}

func payableUserID(payable Payable) *uuid.UUID {
	switch payable.Type {
	case enums.PayableTypeOrder:
		return payable.Order.UserID
	case enums.PayableTypeDonation:
		return payable.Donation.UserID
	default:
		return nil
	}
}

// WithClock overrides the dispatcher clock. Test hook.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	if now != nil {
		d.now = now
	}
	return d
}
