package payments

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	pkgerrors "github.com/kiwanukadev/zawadi-backend/pkg/errors"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
)

const providerCreatedDateLayout = "2006-01-02T15:04:05.999Z"

// Reconciler makes the local transaction status agree with the provider's
// ground truth, exactly. Safe to call any number of times from any trigger.
type Reconciler struct {
	gateway Gateway
	repo    Repository
	logg    *logger.Logger
	now     func() time.Time
}

// NewReconciler assembles the reconciler.
func NewReconciler(gateway Gateway, repo Repository, logg *logger.Logger) (*Reconciler, error) {
	if gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway client required")
	}
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	}
	return &Reconciler{gateway: gateway, repo: repo, logg: logg, now: time.Now}, nil
}

// SyncTransactionStatus fetches the provider status for the transaction and
// persists the normalized result plus the raw payload. It mutates only the
// transaction row; payable transitions and side effects are the caller's
// explicit next steps.
func (r *Reconciler) SyncTransactionStatus(ctx context.Context, tx *gorm.DB, txn *models.PaymentTransaction) error {
	if txn == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction is required")
	}
	if txn.TrackingID == nil || *txn.TrackingID == "" {
		return pkgerrors.New(pkgerrors.CodePrecondition, "transaction has no tracking id")
	}

	status, err := r.gateway.GetTransactionStatus(ctx, *txn.TrackingID)
	if err != nil {
		return err
	}

	txn.Status = status.Normalize()
	if raw, err := json.Marshal(status); err == nil {
		txn.RawPayload = raw
	}
	if status.PaymentMethod != "" {
		method := status.PaymentMethod
		txn.PaymentMethod = &method
	}
	if status.ConfirmationCode != "" {
		code := status.ConfirmationCode
		txn.ConfirmationCode = &code
	}
	if status.PaymentStatusDescription != "" && txn.Status != enums.TransactionStatusCompleted {
		desc := status.PaymentStatusDescription
		txn.ErrorMessage = &desc
	}

	// paidAt is stamped once, on the first completed read, and never
	// overwritten.
	if txn.Status == enums.TransactionStatusCompleted && txn.PaidAt == nil {
		paidAt := r.now()
		if parsed, err := time.Parse(providerCreatedDateLayout, status.CreatedDate); err == nil {
			paidAt = parsed
		}
		txn.PaidAt = &paidAt
	}

	if err := r.repo.WithTx(tx).SaveTransaction(ctx, txn); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist reconciled transaction")
	}

	if r.logg != nil {
		logCtx := r.logg.WithTrackingID(ctx, *txn.TrackingID)
		logCtx = r.logg.WithFields(logCtx, map[string]any{"status": txn.Status})
		r.logg.Info(logCtx, "transaction status reconciled")
	}
	return nil
}

// WithClock overrides the reconciler clock. Test hook.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	if now != nil {
		r.now = now
	}
	return r
}
