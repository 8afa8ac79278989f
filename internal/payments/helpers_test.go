package payments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	dbtypes "github.com/kiwanukadev/zawadi-backend/pkg/db/types"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	"github.com/kiwanukadev/zawadi-backend/pkg/outbox"
	"github.com/kiwanukadev/zawadi-backend/pkg/pesapal"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.User{},
		&models.Order{},
		&models.Donation{},
		&models.PaymentTransaction{},
		&models.Notification{},
		&models.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// dbRunner satisfies the transaction runner over a raw gorm handle.
type dbRunner struct {
	db *gorm.DB
}

func (r dbRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

// fakeGateway serves canned provider responses keyed by tracking id.
type fakeGateway struct {
	statuses    map[string]*pesapal.TransactionStatus
	statusCalls int
	submitResp  *pesapal.OrderResponse
	submitErr   error
	submitCalls int
	lastOrder   pesapal.OrderRequest
}

func (g *fakeGateway) SubmitOrder(_ context.Context, req pesapal.OrderRequest) (*pesapal.OrderResponse, error) {
	g.submitCalls++
	g.lastOrder = req
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	return g.submitResp, nil
}

func (g *fakeGateway) GetTransactionStatus(_ context.Context, trackingID string) (*pesapal.TransactionStatus, error) {
	g.statusCalls++
	status, ok := g.statuses[trackingID]
	if !ok {
		return &pesapal.TransactionStatus{StatusCode: pesapal.StatusCodeInvalid}, nil
	}
	return status, nil
}

type testUsers struct {
	db *gorm.DB
}

func (u testUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := u.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (u testUsers) Create(ctx context.Context, tx *gorm.DB, user *models.User) error {
	return tx.WithContext(ctx).Create(user).Error
}

type testNotifier struct{}

func (testNotifier) Create(ctx context.Context, tx *gorm.DB, n *models.Notification) error {
	return tx.WithContext(ctx).Create(n).Error
}

type testEnv struct {
	db      *gorm.DB
	gateway *fakeGateway
	repo    Repository
	service *Service
}

func newTestService(t *testing.T, db *gorm.DB, gateway *fakeGateway) *testEnv {
	t.Helper()
	repo := NewRepository(db)
	runner := dbRunner{db: db}

	reconciler, err := NewReconciler(gateway, repo, nil)
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	machine, err := NewStateMachine(repo, nil)
	if err != nil {
		t.Fatalf("state machine: %v", err)
	}
	dispatcher, err := NewDispatcher(DispatcherParams{
		Repo:     repo,
		Users:    testUsers{db: db},
		Notifier: testNotifier{},
		Emitter:  outbox.NewService(outbox.NewRepository(db), nil),
		Runner:   runner,
		Flags:    config.FeatureFlagsConfig{InlineAccountCreation: true},
		JWT:      config.JWTConfig{Secret: "test-secret", Issuer: "zawadi-test", ExpirationMinutes: 30},
	})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Repo:       repo,
		Runner:     runner,
		Reconciler: reconciler,
		Machine:    machine,
		Dispatcher: dispatcher,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return &testEnv{db: db, gateway: gateway, repo: repo, service: svc}
}

func makeOrder(t *testing.T, db *gorm.DB, number string, mutate ...func(*models.Order)) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderNumber:   number,
		CustomerEmail: "amina@example.com",
		CustomerName:  "Amina K",
		Amount:        decimal.RequireFromString("120000.00"),
		Currency:      enums.CurrencyUGX,
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		Metadata:      dbtypes.JSONMap{},
	}
	for _, fn := range mutate {
		fn(order)
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func makeDonation(t *testing.T, db *gorm.DB, number string, mutate ...func(*models.Donation)) *models.Donation {
	t.Helper()
	donation := &models.Donation{
		DonationNumber: number,
		DonorEmail:     "sam@example.com",
		DonorName:      "Sam O",
		Amount:         decimal.RequireFromString("50000.00"),
		Currency:       enums.CurrencyUGX,
		PaymentStatus:  enums.PaymentStatusPending,
	}
	for _, fn := range mutate {
		fn(donation)
	}
	if err := db.Create(donation).Error; err != nil {
		t.Fatalf("create donation: %v", err)
	}
	return donation
}

func makeTransaction(t *testing.T, db *gorm.DB, payableType enums.PayableType, payableID uuid.UUID, reference, tracking string) *models.PaymentTransaction {
	t.Helper()
	txn := &models.PaymentTransaction{
		Provider:          "pesapal",
		PayableType:       payableType,
		PayableID:         payableID,
		MerchantReference: reference,
		Status:            enums.TransactionStatusPending,
		Amount:            decimal.RequireFromString("120000.00"),
		Currency:          enums.CurrencyUGX,
	}
	if tracking != "" {
		txn.TrackingID = &tracking
	}
	if err := db.Create(txn).Error; err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return txn
}

func completedStatus(reference string) *pesapal.TransactionStatus {
	return &pesapal.TransactionStatus{
		StatusCode:               pesapal.StatusCodeCompleted,
		PaymentStatusDescription: "Completed",
		PaymentMethod:            "MpesaUG",
		ConfirmationCode:         "CONF-779",
		CreatedDate:              "2025-01-01T12:05:00.000Z",
		MerchantReference:        reference,
	}
}

func failedStatus(reference string) *pesapal.TransactionStatus {
	return &pesapal.TransactionStatus{
		StatusCode:               pesapal.StatusCodeFailed,
		PaymentStatusDescription: "Insufficient funds",
		PaymentMethod:            "MpesaUG",
		CreatedDate:              "2025-01-01T12:05:00.000Z",
		MerchantReference:        reference,
	}
}

func countRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
