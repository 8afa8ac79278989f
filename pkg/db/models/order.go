package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbtypes "github.com/kiwanukadev/zawadi-backend/pkg/db/types"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
)

// Order is a checkout that owes or has paid money. Payment state is mutated
// only through the payment state machine; rows are soft-deleted, never removed.
type Order struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber   string              `gorm:"column:order_number;not null;unique"`
	UserID        *uuid.UUID          `gorm:"column:user_id;type:uuid;index"`
	CustomerEmail string              `gorm:"column:customer_email;not null"`
	CustomerName  string              `gorm:"column:customer_name;not null"`
	Amount        decimal.Decimal     `gorm:"column:amount;type:numeric(14,2);not null"`
	Currency      enums.Currency      `gorm:"column:currency;not null;default:'UGX'"`
	Status        enums.OrderStatus   `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	Metadata      dbtypes.JSONMap     `gorm:"column:metadata;type:jsonb"`
	PaidAt        *time.Time          `gorm:"column:paid_at"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt     gorm.DeletedAt      `gorm:"column:deleted_at;index"`
}

// BeforeCreate assigns the id when the caller did not.
func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
