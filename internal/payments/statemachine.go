package payments

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	pkgerrors "github.com/kiwanukadev/zawadi-backend/pkg/errors"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
)

// StateMachine translates a reconciled transaction status into the owning
// payable's payment state. Transitions are one-way: a completed payment never
// regresses, and re-applying the current status reports changed=false so
// side effects stay idempotent.
type StateMachine struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewStateMachine assembles the state machine.
func NewStateMachine(repo Repository, logg *logger.Logger) (*StateMachine, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	}
	return &StateMachine{repo: repo, logg: logg, now: time.Now}, nil
}

// Apply re-reads the payable under a row lock, applies the transition for the
// normalized transaction status, and persists. The returned payable is the
// locked fresh copy; changed reports whether payment_status actually moved,
// which is the sole gate for side-effect dispatch.
func (m *StateMachine) Apply(ctx context.Context, tx *gorm.DB, payable Payable, status enums.TransactionStatus) (Payable, bool, error) {
	if !payable.Valid() {
		return payable, false, pkgerrors.New(pkgerrors.CodeValidation, "payable is incomplete")
	}

	repo := m.repo.WithTx(tx)
	fresh, err := m.reload(ctx, repo, payable)
	if err != nil {
		return payable, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payable")
	}

	target, ok := targetPaymentStatus(status)
	if !ok {
		// Provider still reports pending; nothing to move.
		return fresh, false, nil
	}

	oldStatus := fresh.PaymentStatus()
	if oldStatus == target {
		return fresh, false, nil
	}
	if oldStatus == enums.PaymentStatusCompleted {
		// Completed is terminal. A later failed/reversed read is recorded on
		// the transaction row but never claws back the payable.
		if m.logg != nil {
			logCtx := m.logg.WithReference(ctx, fresh.Reference())
			m.logg.Warn(logCtx, "ignoring status regression on completed payable")
		}
		return fresh, false, nil
	}

	fresh.SetPaymentStatus(target)
	if target == enums.PaymentStatusCompleted && fresh.PaidAt() == nil {
		fresh.SetPaidAt(m.now())
	}
	if fresh.Type == enums.PayableTypeOrder {
		applyOrderStatus(fresh, target)
	}

	if err := m.persist(ctx, repo, fresh); err != nil {
		return fresh, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payable transition")
	}

	if m.logg != nil {
		logCtx := m.logg.WithReference(ctx, fresh.Reference())
		logCtx = m.logg.WithFields(logCtx, map[string]any{
			"from": oldStatus,
			"to":   target,
		})
		m.logg.Info(logCtx, "payable payment status transitioned")
	}
	return fresh, true, nil
}

// targetPaymentStatus maps the transaction status onto the payable transition
// target. Pending and cancelled reads move nothing.
func targetPaymentStatus(status enums.TransactionStatus) (enums.PaymentStatus, bool) {
	switch status {
	case enums.TransactionStatusCompleted:
		return enums.PaymentStatusCompleted, true
	case enums.TransactionStatusFailed, enums.TransactionStatusReversed:
		return enums.PaymentStatusFailed, true
	default:
		return "", false
	}
}

// applyOrderStatus flips the order's fulfillment status on the very first
// payment outcome. Once the order left pending (processing, shipped, ...),
// payment re-syncs never move it backward.
func applyOrderStatus(payable Payable, target enums.PaymentStatus) {
	order := payable.Order
	if order == nil || order.Status != enums.OrderStatusPending {
		return
	}
	switch target {
	case enums.PaymentStatusCompleted:
		order.Status = enums.OrderStatusProcessing
	case enums.PaymentStatusFailed:
		order.Status = enums.OrderStatusPaymentFailed
	}
}

func (m *StateMachine) reload(ctx context.Context, repo Repository, payable Payable) (Payable, error) {
	switch payable.Type {
	case enums.PayableTypeOrder:
		order, err := repo.LockOrder(ctx, payable.Order.ID)
		if err != nil {
			return payable, err
		}
		return PayableFromOrder(order), nil
	case enums.PayableTypeDonation:
		donation, err := repo.LockDonation(ctx, payable.Donation.ID)
		if err != nil {
			return payable, err
		}
		return PayableFromDonation(donation), nil
	default:
		return payable, pkgerrors.New(pkgerrors.CodeValidation, "unknown payable type")
	}
}

func (m *StateMachine) persist(ctx context.Context, repo Repository, payable Payable) error {
	switch payable.Type {
	case enums.PayableTypeOrder:
		return repo.SaveOrder(ctx, payable.Order)
	case enums.PayableTypeDonation:
		return repo.SaveDonation(ctx, payable.Donation)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payable type")
	}
}

// WithClock overrides the clock used for paidAt stamping. Test hook.
func (m *StateMachine) WithClock(now func() time.Time) *StateMachine {
	if now != nil {
		m.now = now
	}
	return m
}
