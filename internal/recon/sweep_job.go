package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/kiwanukadev/zawadi-backend/internal/payments"
	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
)

// candidateSource lists payables whose payment is still pending and
// resolves their latest gateway transaction.
type candidateSource interface {
	ListPendingOrders(ctx context.Context, olderThan, youngerThan time.Time, limit int) ([]models.Order, error)
	ListPendingDonations(ctx context.Context, olderThan, youngerThan time.Time, limit int) ([]models.Donation, error)
	LatestTransactionForPayable(ctx context.Context, payableType enums.PayableType, payableID uuid.UUID) (*models.PaymentTransaction, error)
}

// statusPoller re-checks one transaction against the gateway.
type statusPoller interface {
	Poll(ctx context.Context, txn *models.PaymentTransaction) (*payments.SyncResult, error)
}

// SweepJobParams configure the pending payment sweep.
type SweepJobParams struct {
	Logger *logger.Logger
	Repo   candidateSource
	Poller statusPoller
	Window config.ReconConfig
}

// NewSweepJob builds the job that re-polls stuck pending payments.
func NewSweepJob(params SweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("candidate source required")
	}
	if params.Poller == nil {
		return nil, fmt.Errorf("status poller required")
	}
	window := params.Window
	if window.OlderThan <= 0 {
		window.OlderThan = 10 * time.Minute
	}
	if window.YoungerThan <= 0 {
		window.YoungerThan = 72 * time.Hour
	}
	if window.BatchSize <= 0 {
		window.BatchSize = 100
	}
	return &sweepJob{
		logg:   params.Logger,
		repo:   params.Repo,
		poller: params.Poller,
		window: window,
		now:    time.Now,
	}, nil
}

type sweepJob struct {
	logg   *logger.Logger
	repo   candidateSource
	poller statusPoller
	window config.ReconConfig
	now    func() time.Time
}

func (j *sweepJob) Name() string { return "pending-payment-sweep" }

// Run polls every pending payable inside the age window. A failure on
// one item never aborts the sweep; errors are aggregated for the
// operator summary at the end.
func (j *sweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	olderThan := now.Add(-j.window.OlderThan)
	youngerThan := now.Add(-j.window.YoungerThan)

	var (
		errs                            []error
		completed, failed, stillPending int
	)

	orders, err := j.repo.ListPendingOrders(ctx, olderThan, youngerThan, j.window.BatchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("list pending orders: %w", err))
	}
	for i := range orders {
		outcome, pollErr := j.pollPayable(ctx, enums.PayableTypeOrder, orders[i].ID, orders[i].OrderNumber)
		if pollErr != nil {
			errs = append(errs, pollErr)
			continue
		}
		switch outcome {
		case enums.PaymentStatusCompleted:
			completed++
		case enums.PaymentStatusFailed:
			failed++
		default:
			stillPending++
		}
	}

	donations, err := j.repo.ListPendingDonations(ctx, olderThan, youngerThan, j.window.BatchSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("list pending donations: %w", err))
	}
	for i := range donations {
		outcome, pollErr := j.pollPayable(ctx, enums.PayableTypeDonation, donations[i].ID, donations[i].DonationNumber)
		if pollErr != nil {
			errs = append(errs, pollErr)
			continue
		}
		switch outcome {
		case enums.PaymentStatusCompleted:
			completed++
		case enums.PaymentStatusFailed:
			failed++
		default:
			stillPending++
		}
	}

	summary := j.logg.WithFields(ctx, map[string]any{
		"candidates":    len(orders) + len(donations),
		"completed":     completed,
		"failed":        failed,
		"still_pending": stillPending,
		"errors":        len(errs),
	})
	j.logg.Info(summary, "pending payment sweep finished")
	return multierr.Combine(errs...)
}

func (j *sweepJob) pollPayable(ctx context.Context, payableType enums.PayableType, payableID uuid.UUID, reference string) (enums.PaymentStatus, error) {
	itemCtx := j.logg.WithReference(ctx, reference)
	txn, err := j.repo.LatestTransactionForPayable(ctx, payableType, payableID)
	if err != nil {
		return "", fmt.Errorf("load transaction for %s: %w", reference, err)
	}
	result, err := j.poller.Poll(itemCtx, txn)
	if err != nil {
		return "", fmt.Errorf("poll %s: %w", reference, err)
	}
	return result.PaymentStatus, nil
}
