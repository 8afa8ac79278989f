package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
)

// OrderConfirmationEmailEvent asks the mailer to send the post-payment order
// confirmation.
type OrderConfirmationEmailEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerEmail string          `json:"customer_email"`
	CustomerName  string          `json:"customer_name"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      enums.Currency  `json:"currency"`
	TempPassword  string          `json:"temp_password,omitempty"`
}

// DonationConfirmationEmailEvent asks the mailer to thank a donor.
type DonationConfirmationEmailEvent struct {
	DonationID     uuid.UUID       `json:"donation_id"`
	DonationNumber string          `json:"donation_number"`
	DonorEmail     string          `json:"donor_email"`
	DonorName      string          `json:"donor_name"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       enums.Currency  `json:"currency"`
	Anonymous      bool            `json:"anonymous"`
}

// OrderStatusEmailEvent notifies the customer of a fulfillment change.
type OrderStatusEmailEvent struct {
	OrderID       uuid.UUID         `json:"order_id"`
	OrderNumber   string            `json:"order_number"`
	UserID        *uuid.UUID        `json:"user_id,omitempty"`
	CustomerEmail string            `json:"customer_email"`
	Status        enums.OrderStatus `json:"status"`
	ChangedAt     time.Time         `json:"changed_at"`
}

// PaymentEvent surfaces payment terminal states to downstream consumers.
type PaymentEvent struct {
	TransactionID     uuid.UUID               `json:"transaction_id"`
	TrackingID        string                  `json:"tracking_id"`
	MerchantReference string                  `json:"merchant_reference"`
	PayableType       enums.PayableType       `json:"payable_type"`
	PayableID         uuid.UUID               `json:"payable_id"`
	Status            enums.TransactionStatus `json:"status"`
	Amount            decimal.Decimal         `json:"amount"`
	Currency          enums.Currency          `json:"currency"`
}
