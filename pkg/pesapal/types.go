package pesapal

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
)

// Provider-side status codes returned by GetTransactionStatus.
const (
	StatusCodeInvalid   = 0
	StatusCodeCompleted = 1
	StatusCodeFailed    = 2
	StatusCodeReversed  = 3
)

// BillingAddress is the customer detail block attached to an order submission.
type BillingAddress struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	Line1        string `json:"line_1,omitempty"`
	City         string `json:"city,omitempty"`
}

// OrderRequest is the payload for SubmitOrderRequest.
type OrderRequest struct {
	ID             string          `json:"id"`
	Currency       string          `json:"currency"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	CallbackURL    string          `json:"callback_url"`
	NotificationID string          `json:"notification_id"`
	BillingAddress BillingAddress  `json:"billing_address"`
}

// OrderResponse is the provider's answer to an order submission.
type OrderResponse struct {
	OrderTrackingID   string    `json:"order_tracking_id"`
	MerchantReference string    `json:"merchant_reference"`
	RedirectURL       string    `json:"redirect_url"`
	Error             *APIError `json:"error"`
	Status            string    `json:"status"`
}

// TransactionStatus is the provider's authoritative view of one transaction.
type TransactionStatus struct {
	StatusCode               int             `json:"status_code"`
	PaymentStatusDescription string          `json:"payment_status_description"`
	PaymentMethod            string          `json:"payment_method"`
	ConfirmationCode         string          `json:"confirmation_code"`
	Amount                   decimal.Decimal `json:"amount"`
	Currency                 string          `json:"currency"`
	CreatedDate              string          `json:"created_date"`
	MerchantReference        string          `json:"merchant_reference"`
	Message                  string          `json:"message"`
	Error                    *APIError       `json:"error"`
}

// Normalize maps the provider status code onto the internal transaction status.
// The code is the single source of truth; descriptive fields never override it.
func (ts TransactionStatus) Normalize() enums.TransactionStatus {
	switch ts.StatusCode {
	case StatusCodeCompleted:
		return enums.TransactionStatusCompleted
	case StatusCodeFailed:
		return enums.TransactionStatusFailed
	case StatusCodeReversed:
		return enums.TransactionStatusReversed
	default:
		return enums.TransactionStatusPending
	}
}

// IPNRegistration is the provider's answer to RegisterIPN.
type IPNRegistration struct {
	IPNID            string    `json:"ipn_id"`
	URL              string    `json:"url"`
	NotificationType string    `json:"ipn_notification_type_description"`
	Error            *APIError `json:"error"`
	Status           string    `json:"status"`
}

type tokenResponse struct {
	Token      string    `json:"token"`
	ExpiryDate string    `json:"expiryDate"`
	Error      *APIError `json:"error"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
}

// APIError mirrors the provider's embedded error object. Pesapal reports many
// failures inside a 200 body, so callers must check it alongside HTTP status.
type APIError struct {
	Type    string `json:"error_type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) describe() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Type, e.Code, e.Message} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ": ")
}
