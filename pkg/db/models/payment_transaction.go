package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
)

// PaymentTransaction records one attempt to collect payment for exactly one
// payable via one provider. The tracking id is assigned at submission time and
// never changes; status is always the latest normalized read from the provider.
type PaymentTransaction struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	Provider          string                  `gorm:"column:provider;not null;default:'pesapal'"`
	PayableType       enums.PayableType       `gorm:"column:payable_type;type:payable_type;not null;index:idx_payment_transactions_payable"`
	PayableID         uuid.UUID               `gorm:"column:payable_id;type:uuid;not null;index:idx_payment_transactions_payable"`
	TrackingID        *string                 `gorm:"column:tracking_id;uniqueIndex"`
	MerchantReference string                  `gorm:"column:merchant_reference;not null;index"`
	Status            enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'pending'"`
	Amount            decimal.Decimal         `gorm:"column:amount;type:numeric(14,2);not null"`
	Currency          enums.Currency          `gorm:"column:currency;not null;default:'UGX'"`
	RedirectURL       *string                 `gorm:"column:redirect_url"`
	PaymentMethod     *string                 `gorm:"column:payment_method"`
	ConfirmationCode  *string                 `gorm:"column:confirmation_code"`
	RawPayload        json.RawMessage         `gorm:"column:raw_payload;type:jsonb"`
	ErrorMessage      *string                 `gorm:"column:error_message"`
	PaidAt            *time.Time              `gorm:"column:paid_at"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the id when the caller did not.
func (t *PaymentTransaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
