package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
)

// Repository exposes persistence helpers for payables and their transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	FindDonationByNumber(ctx context.Context, number string) (*models.Donation, error)
	LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	LockDonation(ctx context.Context, id uuid.UUID) (*models.Donation, error)
	SaveOrder(ctx context.Context, order *models.Order) error
	SaveDonation(ctx context.Context, donation *models.Donation) error

	CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	SaveTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	FindTransactionByTracking(ctx context.Context, trackingID, merchantReference string) (*models.PaymentTransaction, error)
	LatestTransactionForPayable(ctx context.Context, payableType enums.PayableType, payableID uuid.UUID) (*models.PaymentTransaction, error)

	ListPendingOrders(ctx context.Context, olderThan, youngerThan time.Time, limit int) ([]models.Order, error)
	ListPendingDonations(ctx context.Context, olderThan, youngerThan time.Time, limit int) ([]models.Donation, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a payments repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).First(&order, "order_number = ?", number).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repositoryImpl) FindDonationByNumber(ctx context.Context, number string) (*models.Donation, error) {
	var donation models.Donation
	err := r.db.WithContext(ctx).First(&donation, "donation_number = ?", number).Error
	if err != nil {
		return nil, err
	}
	return &donation, nil
}

func (r *repositoryImpl) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.locked(ctx).First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repositoryImpl) LockDonation(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	var donation models.Donation
	err := r.locked(ctx).First(&donation, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &donation, nil
}

func (r *repositoryImpl) SaveOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Save(order).Error
}

func (r *repositoryImpl) SaveDonation(ctx context.Context, donation *models.Donation) error {
	return r.db.WithContext(ctx).Save(donation).Error
}

func (r *repositoryImpl) CreateTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repositoryImpl) SaveTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Save(txn).Error
}

// FindTransactionByTracking looks up by tracking id first, falling back to the
// merchant reference when the tracking id is unknown or matches nothing.
func (r *repositoryImpl) FindTransactionByTracking(ctx context.Context, trackingID, merchantReference string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if trackingID != "" {
		err := r.db.WithContext(ctx).First(&txn, "tracking_id = ?", trackingID).Error
		if err == nil {
			return &txn, nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}
	if merchantReference == "" {
		return nil, gorm.ErrRecordNotFound
	}
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		First(&txn, "merchant_reference = ?", merchantReference).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repositoryImpl) LatestTransactionForPayable(ctx context.Context, payableType enums.PayableType, payableID uuid.UUID) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("payable_type = ? AND payable_id = ?", payableType, payableID).
		Order("created_at DESC").
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListPendingOrders selects sweep candidates: payment still pending, a
// transaction with a tracking id exists, and the order age falls inside the
// window.
func (r *repositoryImpl) ListPendingOrders(ctx context.Context, olderThan, youngerThan time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("payment_status = ?", enums.PaymentStatusPending).
		Where("created_at <= ? AND created_at >= ?", olderThan, youngerThan).
		Where("EXISTS (SELECT 1 FROM payment_transactions pt WHERE pt.payable_type = ? AND pt.payable_id = orders.id AND pt.tracking_id IS NOT NULL)", enums.PayableTypeOrder).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// ListPendingDonations mirrors ListPendingOrders for the donation table.
func (r *repositoryImpl) ListPendingDonations(ctx context.Context, olderThan, youngerThan time.Time, limit int) ([]models.Donation, error) {
	var donations []models.Donation
	err := r.db.WithContext(ctx).
		Where("payment_status = ?", enums.PaymentStatusPending).
		Where("created_at <= ? AND created_at >= ?", olderThan, youngerThan).
		Where("EXISTS (SELECT 1 FROM payment_transactions pt WHERE pt.payable_type = ? AND pt.payable_id = donations.id AND pt.tracking_id IS NOT NULL)", enums.PayableTypeDonation).
		Order("created_at ASC").
		Limit(limit).
		Find(&donations).Error
	return donations, err
}

// locked applies SELECT ... FOR UPDATE on postgres. SQLite (tests) has no row
// locks; its single-writer model gives the same serialization.
func (r *repositoryImpl) locked(ctx context.Context) *gorm.DB {
	q := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}
