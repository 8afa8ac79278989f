package payments

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	pkgerrors "github.com/kiwanukadev/zawadi-backend/pkg/errors"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
	"github.com/kiwanukadev/zawadi-backend/pkg/pesapal"
)

const (
	providerName       = "pesapal"
	maxReferenceLength = 50
	maxDescription     = 100
)

// Gateway is the provider surface the payments core depends on.
type Gateway interface {
	SubmitOrder(ctx context.Context, req pesapal.OrderRequest) (*pesapal.OrderResponse, error)
	GetTransactionStatus(ctx context.Context, trackingID string) (*pesapal.TransactionStatus, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Orchestrator opens exactly one gateway order per checkout/donation attempt
// and records the resulting transaction.
type Orchestrator struct {
	gateway Gateway
	repo    Repository
	runner  txRunner
	cfg     config.PesapalConfig
	logg    *logger.Logger
}

// OrchestratorParams wires the orchestrator dependencies.
type OrchestratorParams struct {
	Gateway Gateway
	Repo    Repository
	Runner  txRunner
	Config  config.PesapalConfig
	Logger  *logger.Logger
}

// NewOrchestrator validates and assembles the orchestrator.
func NewOrchestrator(params OrchestratorParams) (*Orchestrator, error) {
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway client required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	}
	if params.Runner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	return &Orchestrator{
		gateway: params.Gateway,
		repo:    params.Repo,
		runner:  params.Runner,
		cfg:     params.Config,
		logg:    params.Logger,
	}, nil
}

// CreatePaymentIntent submits the payable to the gateway and persists the
// pending transaction. The gateway call happens before the local commit; if
// the commit fails afterwards, a provider-side order may exist without a local
// record, which the reconciliation sweep tolerates as a rare gap.
func (o *Orchestrator) CreatePaymentIntent(ctx context.Context, payable Payable) (*models.PaymentTransaction, error) {
	if !payable.Valid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payable is incomplete")
	}
	reference := payable.Reference()
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payable reference is required")
	}
	if !payable.Amount().IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payable amount must be positive")
	}

	req := pesapal.OrderRequest{
		ID:             truncate(reference, maxReferenceLength),
		Currency:       string(payable.Currency()),
		Amount:         payable.Amount(),
		Description:    truncate(o.describe(payable), maxDescription),
		CallbackURL:    o.cfg.CallbackURL,
		NotificationID: o.cfg.IPNID,
		BillingAddress: pesapal.BillingAddress{
			EmailAddress: payable.Email(),
			FirstName:    payable.Name(),
		},
	}

	resp, err := o.gateway.SubmitOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	trackingID := resp.OrderTrackingID
	redirectURL := resp.RedirectURL
	txn := &models.PaymentTransaction{
		Provider:          providerName,
		PayableType:       payable.Type,
		PayableID:         payable.ID(),
		TrackingID:        &trackingID,
		MerchantReference: req.ID,
		Status:            enums.TransactionStatusPending,
		Amount:            payable.Amount(),
		Currency:          payable.Currency(),
		RedirectURL:       &redirectURL,
	}

	err = o.runner.WithTx(ctx, func(tx *gorm.DB) error {
		return o.repo.WithTx(tx).CreateTransaction(ctx, txn)
	})
	if err != nil {
		if o.logg != nil {
			logCtx := o.logg.WithTrackingID(ctx, trackingID)
			o.logg.Error(logCtx, "gateway order submitted but local transaction commit failed", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment transaction")
	}

	if o.logg != nil {
		logCtx := o.logg.WithTrackingID(o.logg.WithReference(ctx, req.ID), trackingID)
		o.logg.Info(logCtx, "payment intent created")
	}
	return txn, nil
}

func (o *Orchestrator) describe(payable Payable) string {
	switch {
	case payable.Donation != nil:
		return fmt.Sprintf("Donation %s", payable.Reference())
	default:
		return fmt.Sprintf("Order %s", payable.Reference())
	}
}

func truncate(s string, max int) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) <= max {
		return trimmed
	}
	return trimmed[:max]
}
