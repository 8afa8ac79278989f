package recon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kiwanukadev/zawadi-backend/internal/payments"
	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
)

type fakeSource struct {
	orders        []models.Order
	donations     []models.Donation
	txns          map[uuid.UUID]*models.PaymentTransaction
	olderThan     time.Time
	youngerThan   time.Time
	limit         int
	listOrdersErr error
}

func (f *fakeSource) ListPendingOrders(_ context.Context, olderThan, youngerThan time.Time, limit int) ([]models.Order, error) {
	f.olderThan = olderThan
	f.youngerThan = youngerThan
	f.limit = limit
	if f.listOrdersErr != nil {
		return nil, f.listOrdersErr
	}
	return f.orders, nil
}

func (f *fakeSource) ListPendingDonations(context.Context, time.Time, time.Time, int) ([]models.Donation, error) {
	return f.donations, nil
}

func (f *fakeSource) LatestTransactionForPayable(_ context.Context, _ enums.PayableType, payableID uuid.UUID) (*models.PaymentTransaction, error) {
	txn, ok := f.txns[payableID]
	if !ok {
		return nil, errors.New("no transaction")
	}
	return txn, nil
}

type fakePoller struct {
	results map[string]*payments.SyncResult
	errs    map[string]error
	polled  []string
}

func (f *fakePoller) Poll(_ context.Context, txn *models.PaymentTransaction) (*payments.SyncResult, error) {
	ref := txn.MerchantReference
	f.polled = append(f.polled, ref)
	if err := f.errs[ref]; err != nil {
		return nil, err
	}
	if result := f.results[ref]; result != nil {
		return result, nil
	}
	return &payments.SyncResult{PaymentStatus: enums.PaymentStatusPending}, nil
}

func pendingOrder(ref string) models.Order {
	return models.Order{
		ID:            uuid.New(),
		OrderNumber:   ref,
		PaymentStatus: enums.PaymentStatusPending,
	}
}

func txnFor(order models.Order) *models.PaymentTransaction {
	tracking := "TRK-" + order.OrderNumber
	return &models.PaymentTransaction{
		PayableType:       enums.PayableTypeOrder,
		PayableID:         order.ID,
		TrackingID:        &tracking,
		MerchantReference: order.OrderNumber,
	}
}

func newSweep(t *testing.T, source *fakeSource, poller *fakePoller, window config.ReconConfig) *sweepJob {
	t.Helper()
	job, err := NewSweepJob(SweepJobParams{
		Logger: logger.New(logger.Options{ServiceName: "sweep-test"}),
		Repo:   source,
		Poller: poller,
		Window: window,
	})
	if err != nil {
		t.Fatalf("construct sweep: %v", err)
	}
	return job.(*sweepJob)
}

func TestSweepWindowBounds(t *testing.T) {
	source := &fakeSource{}
	job := newSweep(t, source, &fakePoller{}, config.ReconConfig{
		OlderThan:   10 * time.Minute,
		YoungerThan: 72 * time.Hour,
		BatchSize:   50,
	})
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return at }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !source.olderThan.Equal(at.Add(-10 * time.Minute)) {
		t.Fatalf("olderThan = %s", source.olderThan)
	}
	if !source.youngerThan.Equal(at.Add(-72 * time.Hour)) {
		t.Fatalf("youngerThan = %s", source.youngerThan)
	}
	if source.limit != 50 {
		t.Fatalf("limit = %d", source.limit)
	}
}

func TestSweepPerItemFailureIsolation(t *testing.T) {
	first := pendingOrder("ZW-FIRST")
	broken := pendingOrder("ZW-BROKEN")
	last := pendingOrder("ZW-LAST")
	source := &fakeSource{
		orders: []models.Order{first, broken, last},
		txns: map[uuid.UUID]*models.PaymentTransaction{
			first.ID:  txnFor(first),
			broken.ID: txnFor(broken),
			last.ID:   txnFor(last),
		},
	}
	poller := &fakePoller{
		results: map[string]*payments.SyncResult{
			"ZW-FIRST": {PaymentStatus: enums.PaymentStatusCompleted, Changed: true},
			"ZW-LAST":  {PaymentStatus: enums.PaymentStatusFailed, Changed: true},
		},
		errs: map[string]error{"ZW-BROKEN": errors.New("gateway down")},
	}
	job := newSweep(t, source, poller, config.ReconConfig{})

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if len(poller.polled) != 3 {
		t.Fatalf("polled %d items, want 3: %v", len(poller.polled), poller.polled)
	}
}

func TestSweepSkipsItemWithoutTransaction(t *testing.T) {
	orphan := pendingOrder("ZW-ORPHAN")
	healthy := pendingOrder("ZW-HEALTHY")
	source := &fakeSource{
		orders: []models.Order{orphan, healthy},
		txns: map[uuid.UUID]*models.PaymentTransaction{
			healthy.ID: txnFor(healthy),
		},
	}
	poller := &fakePoller{}
	job := newSweep(t, source, poller, config.ReconConfig{})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error for orphan candidate")
	}
	if len(poller.polled) != 1 || poller.polled[0] != "ZW-HEALTHY" {
		t.Fatalf("polled = %v", poller.polled)
	}
}

func TestSweepListFailureStillSweepsDonations(t *testing.T) {
	donation := models.Donation{
		ID:             uuid.New(),
		DonationNumber: "DON-ABC234",
		PaymentStatus:  enums.PaymentStatusPending,
	}
	tracking := "TRK-DON"
	source := &fakeSource{
		listOrdersErr: errors.New("db offline"),
		donations:     []models.Donation{donation},
		txns: map[uuid.UUID]*models.PaymentTransaction{
			donation.ID: {
				PayableType:       enums.PayableTypeDonation,
				PayableID:         donation.ID,
				TrackingID:        &tracking,
				MerchantReference: donation.DonationNumber,
			},
		},
	}
	poller := &fakePoller{}
	job := newSweep(t, source, poller, config.ReconConfig{})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected list error to surface")
	}
	if len(poller.polled) != 1 || poller.polled[0] != "DON-ABC234" {
		t.Fatalf("polled = %v", poller.polled)
	}
}
