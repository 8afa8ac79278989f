package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/internal/payments"
	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/db"
	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	dbtypes "github.com/kiwanukadev/zawadi-backend/pkg/db/types"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	pkgerrors "github.com/kiwanukadev/zawadi-backend/pkg/errors"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
	"github.com/kiwanukadev/zawadi-backend/pkg/security"
)

// referenceAttempts bounds the unique-number retry loop.
const referenceAttempts = 5

type intentCreator interface {
	CreatePaymentIntent(ctx context.Context, payable payments.Payable) (*models.PaymentTransaction, error)
}

type statusNotifier interface {
	OrderStatusChanged(ctx context.Context, order *models.Order)
}

type transactionSource interface {
	LatestTransactionForPayable(ctx context.Context, payableType enums.PayableType, payableID uuid.UUID) (*models.PaymentTransaction, error)
}

// Service creates payables and opens their payment intents.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*SubmissionResult, error)
	CreateDonation(ctx context.Context, input CreateDonationInput) (*SubmissionResult, error)
	OrderPayment(ctx context.Context, reference string) (*PaymentView, error)
	DonationPayment(ctx context.Context, reference string) (*PaymentView, error)
	UpdateOrderStatus(ctx context.Context, reference string, status enums.OrderStatus) (*models.Order, error)
}

// CreateOrderInput is the validated checkout submission.
type CreateOrderInput struct {
	CustomerEmail string          `validate:"required,email"`
	CustomerName  string          `validate:"required,min=2,max=120"`
	Amount        decimal.Decimal `validate:"required"`
	Currency      string          `validate:"omitempty,oneof=UGX KES TZS USD"`
	Password      string          `validate:"omitempty,min=8,max=128"`
}

// CreateDonationInput is the validated donation submission.
type CreateDonationInput struct {
	DonorEmail string          `validate:"required,email"`
	DonorName  string          `validate:"required,min=2,max=120"`
	Amount     decimal.Decimal `validate:"required"`
	Currency   string          `validate:"omitempty,oneof=UGX KES TZS USD"`
	Message    string          `validate:"omitempty,max=500"`
	Anonymous  bool
}

// SubmissionResult carries the new payable reference and where to send the
// customer to pay.
type SubmissionResult struct {
	Reference   string            `json:"reference"`
	PayableType enums.PayableType `json:"payable_type"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    enums.Currency    `json:"currency"`
	RedirectURL string            `json:"redirect_url"`
	TrackingID  string            `json:"tracking_id"`
}

// PaymentView is the result-page read model.
type PaymentView struct {
	Reference         string                   `json:"reference"`
	PaymentStatus     enums.PaymentStatus      `json:"payment_status"`
	Status            *enums.OrderStatus       `json:"status,omitempty"`
	Amount            decimal.Decimal          `json:"amount"`
	Currency          enums.Currency           `json:"currency"`
	TransactionStatus *enums.TransactionStatus `json:"transaction_status,omitempty"`
	PaidAt            *time.Time               `json:"paid_at,omitempty"`
}

type service struct {
	repo     Repository
	intents  intentCreator
	txns     transactionSource
	notifier statusNotifier
	pwCfg    config.PasswordConfig
	validate *validator.Validate
	logg     *logger.Logger
	now      func() time.Time
}

// ServiceParams wires the checkout service.
type ServiceParams struct {
	Repo         Repository
	Intents      intentCreator
	Transactions transactionSource
	Notifier     statusNotifier
	Password     config.PasswordConfig
	Logger       *logger.Logger
}

// NewService validates and assembles the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "checkout repository required")
	}
	if params.Intents == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment orchestrator required")
	}
	if params.Transactions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction source required")
	}
	return &service{
		repo:     params.Repo,
		intents:  params.Intents,
		txns:     params.Transactions,
		notifier: params.Notifier,
		pwCfg:    params.Password,
		validate: validator.New(),
		logg:     params.Logger,
		now:      time.Now,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*SubmissionResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order submission")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	order := &models.Order{
		CustomerEmail: strings.ToLower(strings.TrimSpace(input.CustomerEmail)),
		CustomerName:  strings.TrimSpace(input.CustomerName),
		Amount:        input.Amount,
		Currency:      currencyOrDefault(input.Currency),
		Status:        enums.OrderStatusPending,
		PaymentStatus: enums.PaymentStatusPending,
		Metadata:      dbtypes.JSONMap{},
	}

	if input.Password != "" {
		hash, err := security.HashPassword(input.Password, s.pwCfg)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash account password")
		}
		order.Metadata["pending_account_password"] = hash
	}

	if err := s.persistOrder(ctx, order); err != nil {
		return nil, err
	}

	txn, err := s.intents.CreatePaymentIntent(ctx, payments.PayableFromOrder(order))
	if err != nil {
		// The order stays pending without a transaction; the customer can
		// retry payment against the same reference.
		if s.logg != nil {
			s.logg.Error(s.logg.WithReference(ctx, order.OrderNumber), "payment intent failed after order creation", err)
		}
		return nil, err
	}
	return submissionResult(order.OrderNumber, enums.PayableTypeOrder, order.Amount, order.Currency, txn), nil
}

func (s *service) CreateDonation(ctx context.Context, input CreateDonationInput) (*SubmissionResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid donation submission")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	donation := &models.Donation{
		DonorEmail:    strings.ToLower(strings.TrimSpace(input.DonorEmail)),
		DonorName:     strings.TrimSpace(input.DonorName),
		Amount:        input.Amount,
		Currency:      currencyOrDefault(input.Currency),
		PaymentStatus: enums.PaymentStatusPending,
		Anonymous:     input.Anonymous,
	}
	if message := strings.TrimSpace(input.Message); message != "" {
		donation.Message = &message
	}

	if err := s.persistDonation(ctx, donation); err != nil {
		return nil, err
	}

	txn, err := s.intents.CreatePaymentIntent(ctx, payments.PayableFromDonation(donation))
	if err != nil {
		if s.logg != nil {
			s.logg.Error(s.logg.WithReference(ctx, donation.DonationNumber), "payment intent failed after donation creation", err)
		}
		return nil, err
	}
	return submissionResult(donation.DonationNumber, enums.PayableTypeDonation, donation.Amount, donation.Currency, txn), nil
}

func (s *service) OrderPayment(ctx context.Context, reference string) (*PaymentView, error) {
	order, err := s.repo.FindOrderByNumber(ctx, strings.TrimSpace(reference))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	view := &PaymentView{
		Reference:     order.OrderNumber,
		PaymentStatus: order.PaymentStatus,
		Status:        &order.Status,
		Amount:        order.Amount,
		Currency:      order.Currency,
		PaidAt:        order.PaidAt,
	}
	s.attachTransaction(ctx, view, enums.PayableTypeOrder, order.ID)
	return view, nil
}

func (s *service) DonationPayment(ctx context.Context, reference string) (*PaymentView, error) {
	donation, err := s.repo.FindDonationByNumber(ctx, strings.TrimSpace(reference))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "donation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load donation")
	}

	view := &PaymentView{
		Reference:     donation.DonationNumber,
		PaymentStatus: donation.PaymentStatus,
		Amount:        donation.Amount,
		Currency:      donation.Currency,
		PaidAt:        donation.PaidAt,
	}
	s.attachTransaction(ctx, view, enums.PayableTypeDonation, donation.ID)
	return view, nil
}

// UpdateOrderStatus moves the fulfillment status forward and queues the
// status email for shipped/delivered.
func (s *service) UpdateOrderStatus(ctx context.Context, reference string, status enums.OrderStatus) (*models.Order, error) {
	order, err := s.repo.FindOrderByNumber(ctx, strings.TrimSpace(reference))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	if !fulfillmentMoveAllowed(order.Status, status) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot move from "+string(order.Status)+" to "+string(status))
	}

	if err := s.repo.UpdateOrderStatus(ctx, order, status); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order status")
	}
	if s.notifier != nil {
		s.notifier.OrderStatusChanged(ctx, order)
	}
	return order, nil
}

// fulfillmentMoveAllowed encodes the forward-only fulfillment edges. Payment
// states are never touched here; those belong to the payment state machine.
func fulfillmentMoveAllowed(from, to enums.OrderStatus) bool {
	switch from {
	case enums.OrderStatusProcessing:
		return to == enums.OrderStatusShipped || to == enums.OrderStatusCancelled
	case enums.OrderStatusShipped:
		return to == enums.OrderStatusDelivered
	case enums.OrderStatusPending, enums.OrderStatusPaymentFailed:
		return to == enums.OrderStatusCancelled
	default:
		return false
	}
}

func (s *service) attachTransaction(ctx context.Context, view *PaymentView, payableType enums.PayableType, payableID uuid.UUID) {
	txn, err := s.txns.LatestTransactionForPayable(ctx, payableType, payableID)
	if err != nil {
		return
	}
	view.TransactionStatus = &txn.Status
}

// persistOrder allocates a number and inserts the row. The taken check and
// the insert can still race another checkout, so a unique violation on the
// number regenerates and retries instead of surfacing.
func (s *service) persistOrder(ctx context.Context, order *models.Order) error {
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		number, err := s.uniqueOrderNumber(ctx)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		err = s.repo.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if db.IsUniqueViolation(err, "order_number") {
			continue
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "could not allocate an order number")
}

func (s *service) persistDonation(ctx context.Context, donation *models.Donation) error {
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		number, err := s.uniqueDonationNumber(ctx)
		if err != nil {
			return err
		}
		donation.DonationNumber = number

		err = s.repo.CreateDonation(ctx, donation)
		if err == nil {
			return nil
		}
		if db.IsUniqueViolation(err, "donation_number") {
			continue
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist donation")
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a donation number")
}

func (s *service) uniqueOrderNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		number := OrderNumber(s.now())
		taken, err := s.repo.OrderNumberTaken(ctx, number)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order number")
		}
		if !taken {
			return number, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeConflict, "could not allocate an order number")
}

func (s *service) uniqueDonationNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		number := DonationNumber()
		taken, err := s.repo.DonationNumberTaken(ctx, number)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check donation number")
		}
		if !taken {
			return number, nil
		}
	}
	return "", pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a donation number")
}

func submissionResult(reference string, payableType enums.PayableType, amount decimal.Decimal, currency enums.Currency, txn *models.PaymentTransaction) *SubmissionResult {
	result := &SubmissionResult{
		Reference:   reference,
		PayableType: payableType,
		Amount:      amount,
		Currency:    currency,
	}
	if txn != nil {
		if txn.RedirectURL != nil {
			result.RedirectURL = *txn.RedirectURL
		}
		if txn.TrackingID != nil {
			result.TrackingID = *txn.TrackingID
		}
	}
	return result
}

func currencyOrDefault(currency string) enums.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(currency))
	if trimmed == "" {
		return enums.CurrencyUGX
	}
	return enums.Currency(trimmed)
}
