package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
)

// Payable is the tagged union of the two entities that can owe money. Exactly
// one of Order/Donation is non-nil, matching Type.
type Payable struct {
	Type     enums.PayableType
	Order    *models.Order
	Donation *models.Donation
}

// PayableFromOrder wraps an order.
func PayableFromOrder(order *models.Order) Payable {
	return Payable{Type: enums.PayableTypeOrder, Order: order}
}

// PayableFromDonation wraps a donation.
func PayableFromDonation(donation *models.Donation) Payable {
	return Payable{Type: enums.PayableTypeDonation, Donation: donation}
}

// Valid reports whether the union carries the entity its tag names.
func (p Payable) Valid() bool {
	switch p.Type {
	case enums.PayableTypeOrder:
		return p.Order != nil
	case enums.PayableTypeDonation:
		return p.Donation != nil
	default:
		return false
	}
}

// ID returns the entity primary key.
func (p Payable) ID() uuid.UUID {
	switch p.Type {
	case enums.PayableTypeOrder:
		return p.Order.ID
	case enums.PayableTypeDonation:
		return p.Donation.ID
	default:
		return uuid.Nil
	}
}

// Reference is the external reference used as the gateway merchant reference.
func (p Payable) Reference() string {
	switch p.Type {
	case enums.PayableTypeOrder:
		return p.Order.OrderNumber
	case enums.PayableTypeDonation:
		return p.Donation.DonationNumber
	default:
		return ""
	}
}

// Amount returns the amount owed.
func (p Payable) Amount() decimal.Decimal {
	switch p.Type {
	case enums.PayableTypeOrder:
		return p.Order.Amount
	case enums.PayableTypeDonation:
		return p.Donation.Amount
	default:
		return decimal.Zero
	}
}

// Currency returns the charge currency.
func (p Payable) Currency() enums.Currency {
	switch p.Type {
	case enums.PayableTypeOrder:
		return p.Order.Currency
	case enums.PayableTypeDonation:
		return p.Donation.Currency
	default:
		return ""
	}
}

// Email returns the customer/donor contact address.
func (p Payable) Email() string {
	switch p.Type {
	case enums.PayableTypeOrder:
		return p.Order.CustomerEmail
	case enums.PayableTypeDonation:
		return p.Donation.DonorEmail
	default:
		return ""
	}
}

// Name returns the customer/donor display name.
func (p Payable) Name() string {
	switch p.Type {
	case enums.PayableTypeOrder:
		return p.Order.CustomerName
	case enums.PayableTypeDonation:
		return p.Donation.DonorName
	default:
		return ""
	}
}

// PaymentStatus returns the current payment state.
func (p Payable) PaymentStatus() enums.PaymentStatus {
	switch p.Type {
	case enums.PayableTypeOrder:
		return p.Order.PaymentStatus
	case enums.PayableTypeDonation:
		return p.Donation.PaymentStatus
	default:
		return ""
	}
}

// SetPaymentStatus mutates the payment state in memory. Persisting is the
// caller's job.
func (p Payable) SetPaymentStatus(status enums.PaymentStatus) {
	switch p.Type {
	case enums.PayableTypeOrder:
		p.Order.PaymentStatus = status
	case enums.PayableTypeDonation:
		p.Donation.PaymentStatus = status
	}
}

// PaidAt returns the recorded payment completion time.
func (p Payable) PaidAt() *time.Time {
	switch p.Type {
	case enums.PayableTypeOrder:
		return p.Order.PaidAt
	case enums.PayableTypeDonation:
		return p.Donation.PaidAt
	default:
		return nil
	}
}

// SetPaidAt stamps the payment completion time in memory.
func (p Payable) SetPaidAt(t time.Time) {
	switch p.Type {
	case enums.PayableTypeOrder:
		p.Order.PaidAt = &t
	case enums.PayableTypeDonation:
		p.Donation.PaidAt = &t
	}
}

// AggregateType maps the payable onto its outbox aggregate.
func (p Payable) AggregateType() enums.OutboxAggregateType {
	if p.Type == enums.PayableTypeDonation {
		return enums.AggregateDonation
	}
	return enums.AggregateOrder
}
