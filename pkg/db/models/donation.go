package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
)

// Donation is a one-off gift with a two-state payment lifecycle.
type Donation struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	DonationNumber string              `gorm:"column:donation_number;not null;unique"`
	UserID         *uuid.UUID          `gorm:"column:user_id;type:uuid;index"`
	DonorEmail     string              `gorm:"column:donor_email;not null"`
	DonorName      string              `gorm:"column:donor_name;not null"`
	Message        *string             `gorm:"column:message"`
	Anonymous      bool                `gorm:"column:anonymous;not null;default:false"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:numeric(14,2);not null"`
	Currency       enums.Currency      `gorm:"column:currency;not null;default:'UGX'"`
	PaymentStatus  enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	PaidAt         *time.Time          `gorm:"column:paid_at"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt      gorm.DeletedAt      `gorm:"column:deleted_at;index"`
}

// BeforeCreate assigns the id when the caller did not.
func (d *Donation) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
