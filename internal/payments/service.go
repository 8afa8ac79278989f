package payments

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	pkgerrors "github.com/kiwanukadev/zawadi-backend/pkg/errors"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
	"github.com/kiwanukadev/zawadi-backend/pkg/metrics"
)

// SyncResult reports the outcome of one reconciliation pass, whichever
// trigger drove it.
type SyncResult struct {
	Payable       Payable
	Transaction   *models.PaymentTransaction
	PaymentStatus enums.PaymentStatus
	Changed       bool
	SessionToken  string
}

// Service is the convergence point for the three racing reconciliation
// triggers: the browser callback, the server-to-server IPN, and the
// background poller. All three funnel into the same pipeline so they can
// arrive in any order, any number of times, and leave the payable in the
// same state.
type Service struct {
	repo       Repository
	runner     txRunner
	reconciler *Reconciler
	machine    *StateMachine
	dispatcher *Dispatcher
	metrics    *metrics.ReconMetrics
	logg       *logger.Logger
}

// ServiceParams wires the reconciliation service.
type ServiceParams struct {
	Repo       Repository
	Runner     txRunner
	Reconciler *Reconciler
	Machine    *StateMachine
	Dispatcher *Dispatcher
	Metrics    *metrics.ReconMetrics
	Logger     *logger.Logger
}

// NewService validates and assembles the service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payments repository required")
	}
	if params.Runner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "reconciler required")
	}
	if params.Machine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "state machine required")
	}
	if params.Dispatcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "dispatcher required")
	}
	return &Service{
		repo:       params.Repo,
		runner:     params.Runner,
		reconciler: params.Reconciler,
		machine:    params.Machine,
		dispatcher: params.Dispatcher,
		metrics:    params.Metrics,
		logg:       params.Logger,
	}, nil
}

// ProcessCallback handles the customer's browser returning from the hosted
// payment page. Runs a full reconciliation so the redirect target can show
// the true state even when the IPN has not landed yet.
func (s *Service) ProcessCallback(ctx context.Context, trackingID, merchantReference string) (*SyncResult, error) {
	return s.sync(ctx, trackingID, merchantReference, TriggerCallback)
}

// ProcessIPN handles the provider's server-to-server notification.
func (s *Service) ProcessIPN(ctx context.Context, trackingID, merchantReference string) (*SyncResult, error) {
	return s.sync(ctx, trackingID, merchantReference, TriggerIPN)
}

// Poll re-checks a known transaction from the background sweeper.
func (s *Service) Poll(ctx context.Context, txn *models.PaymentTransaction) (*SyncResult, error) {
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	return s.sync(ctx, trackingID(txn), txn.MerchantReference, TriggerPoll)
}

// sync is the single reconciliation pipeline. Inside one database
// transaction it resolves the payment transaction (creating it lazily when a
// trigger beat the intent commit), pulls the provider status, and applies the
// state machine under the payable row lock. Side effects run after commit,
// gated on the changed flag, so a rolled-back transition never emails anyone.
func (s *Service) sync(ctx context.Context, providerTrackingID, merchantReference string, trigger Trigger) (*SyncResult, error) {
	if providerTrackingID == "" && merchantReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking id or merchant reference required")
	}
	ctx = s.logCtx(ctx, providerTrackingID, merchantReference, trigger)

	var result SyncResult
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		txn, payable, err := s.resolve(ctx, repo, providerTrackingID, merchantReference)
		if err != nil {
			return err
		}

		if err := s.reconciler.SyncTransactionStatus(ctx, tx, txn); err != nil {
			return err
		}

		fresh, changed, err := s.machine.Apply(ctx, tx, payable, txn.Status)
		if err != nil {
			return err
		}

		result = SyncResult{
			Payable:       fresh,
			Transaction:   txn,
			PaymentStatus: fresh.PaymentStatus(),
			Changed:       changed,
		}
		return nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncFailure(string(trigger))
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncSynced(string(trigger))
		if result.Changed {
			s.metrics.IncTransition(string(trigger), string(result.PaymentStatus))
		}
	}

	if result.Changed {
		dispatched := s.dispatcher.Dispatch(ctx, result.Payable, result.Transaction, result.PaymentStatus, trigger)
		result.SessionToken = dispatched.SessionToken
	}
	return &result, nil
}

// resolve finds the payment transaction a trigger refers to. When no local
// row exists yet, the owning payable is looked up by merchant reference
// (orders first, then donations) and a transaction row is created so the
// provider read has somewhere to land.
func (s *Service) resolve(ctx context.Context, repo Repository, providerTrackingID, merchantReference string) (*models.PaymentTransaction, Payable, error) {
	txn, err := repo.FindTransactionByTracking(ctx, providerTrackingID, merchantReference)
	if err == nil {
		payable, loadErr := s.loadPayable(ctx, repo, txn)
		if loadErr != nil {
			return nil, Payable{}, loadErr
		}
		if providerTrackingID != "" && trackingID(txn) == "" {
			txn.TrackingID = &providerTrackingID
		}
		return txn, payable, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, Payable{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find payment transaction")
	}

	payable, err := s.findPayableByReference(ctx, repo, merchantReference)
	if err != nil {
		return nil, Payable{}, err
	}

	txn = &models.PaymentTransaction{
		Provider:          providerName,
		PayableType:       payable.Type,
		PayableID:         payable.ID(),
		MerchantReference: payable.Reference(),
		Status:            enums.TransactionStatusPending,
		Amount:            payable.Amount(),
		Currency:          payable.Currency(),
	}
	if providerTrackingID != "" {
		txn.TrackingID = &providerTrackingID
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, Payable{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment transaction")
	}
	if s.logg != nil {
		s.logg.Info(ctx, "payment transaction created from trigger")
	}
	return txn, payable, nil
}

func (s *Service) loadPayable(ctx context.Context, repo Repository, txn *models.PaymentTransaction) (Payable, error) {
	switch txn.PayableType {
	case enums.PayableTypeOrder:
		order, err := repo.LockOrder(ctx, txn.PayableID)
		if err != nil {
			return Payable{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order for transaction")
		}
		return PayableFromOrder(order), nil
	case enums.PayableTypeDonation:
		donation, err := repo.LockDonation(ctx, txn.PayableID)
		if err != nil {
			return Payable{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load donation for transaction")
		}
		return PayableFromDonation(donation), nil
	default:
		return Payable{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown payable type on transaction")
	}
}

// findPayableByReference resolves a merchant reference against orders first
// and donations second. References are opaque here; the number prefixes are a
// convention of the generators, not a contract this lookup depends on.
func (s *Service) findPayableByReference(ctx context.Context, repo Repository, reference string) (Payable, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Payable{}, pkgerrors.New(pkgerrors.CodeNotFound, "no payable matches merchant reference")
	}

	order, err := repo.FindOrderByNumber(ctx, reference)
	if err == nil {
		return PayableFromOrder(order), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Payable{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up order by reference")
	}

	donation, err := repo.FindDonationByNumber(ctx, reference)
	if err == nil {
		return PayableFromDonation(donation), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Payable{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up donation by reference")
	}
	return Payable{}, pkgerrors.New(pkgerrors.CodeNotFound, "no payable matches merchant reference")
}

func (s *Service) logCtx(ctx context.Context, providerTrackingID, merchantReference string, trigger Trigger) context.Context {
	if s.logg == nil {
		return ctx
	}
	ctx = s.logg.WithTrigger(ctx, string(trigger))
	if providerTrackingID != "" {
		ctx = s.logg.WithTrackingID(ctx, providerTrackingID)
	}
	if merchantReference != "" {
		ctx = s.logg.WithReference(ctx, merchantReference)
	}
	return ctx
}
