package checkout

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
)

// Repository persists payables created at checkout.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateDonation(ctx context.Context, donation *models.Donation) error
	FindOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	FindDonationByNumber(ctx context.Context, number string) (*models.Donation, error)
	OrderNumberTaken(ctx context.Context, number string) (bool, error)
	DonationNumberTaken(ctx context.Context, number string) (bool, error)
	UpdateOrderStatus(ctx context.Context, order *models.Order, status enums.OrderStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a checkout repository backed by the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) CreateDonation(ctx context.Context, donation *models.Donation) error {
	return r.db.WithContext(ctx).Create(donation).Error
}

func (r *repository) FindOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "order_number = ?", number).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindDonationByNumber(ctx context.Context, number string) (*models.Donation, error) {
	var donation models.Donation
	if err := r.db.WithContext(ctx).First(&donation, "donation_number = ?", number).Error; err != nil {
		return nil, err
	}
	return &donation, nil
}

func (r *repository) OrderNumberTaken(ctx context.Context, number string) (bool, error) {
	_, err := r.FindOrderByNumber(ctx, number)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

func (r *repository) DonationNumberTaken(ctx context.Context, number string) (bool, error) {
	_, err := r.FindDonationByNumber(ctx, number)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}

func (r *repository) UpdateOrderStatus(ctx context.Context, order *models.Order, status enums.OrderStatus) error {
	order.Status = status
	return r.db.WithContext(ctx).Save(order).Error
}
