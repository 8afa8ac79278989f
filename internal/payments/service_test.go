package payments

import (
	"context"
	"testing"

	"github.com/kiwanukadev/zawadi-backend/pkg/auth"
	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	pkgerrors "github.com/kiwanukadev/zawadi-backend/pkg/errors"
	"github.com/kiwanukadev/zawadi-backend/pkg/pesapal"
)

func TestCallbackCompletesOrder(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{statuses: map[string]*pesapal.TransactionStatus{
		"TRK-1": completedStatus("ZW-250101120000-123"),
	}}
	env := newTestService(t, db, gw)

	order := makeOrder(t, db, "ZW-250101120000-123")
	makeTransaction(t, db, enums.PayableTypeOrder, order.ID, order.OrderNumber, "TRK-1")

	result, err := env.service.ProcessCallback(context.Background(), "TRK-1", order.OrderNumber)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected a state change")
	}
	if result.PaymentStatus != enums.PaymentStatusCompleted {
		t.Fatalf("payment status = %s", result.PaymentStatus)
	}

	var fresh models.Order
	if err := db.First(&fresh, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if fresh.PaymentStatus != enums.PaymentStatusCompleted {
		t.Fatalf("order payment_status = %s", fresh.PaymentStatus)
	}
	if fresh.Status != enums.OrderStatusProcessing {
		t.Fatalf("order status = %s", fresh.Status)
	}
	if fresh.PaidAt == nil {
		t.Fatal("paid_at not stamped")
	}

	var txn models.PaymentTransaction
	if err := db.First(&txn, "tracking_id = ?", "TRK-1").Error; err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	if txn.Status != enums.TransactionStatusCompleted {
		t.Fatalf("transaction status = %s", txn.Status)
	}
	if txn.ConfirmationCode == nil || *txn.ConfirmationCode != "CONF-779" {
		t.Fatal("confirmation code not recorded")
	}
	if len(txn.RawPayload) == 0 {
		t.Fatal("raw provider payload not recorded")
	}

	if n := countRows(t, db, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderConfirmationEmail); n != 1 {
		t.Fatalf("confirmation emails queued = %d", n)
	}
	if n := countRows(t, db, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentCompleted); n != 1 {
		t.Fatalf("payment events queued = %d", n)
	}
}

func TestReconciliationIsIdempotentAcrossTriggers(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{statuses: map[string]*pesapal.TransactionStatus{
		"TRK-1": completedStatus("ZW-250101120000-123"),
	}}
	env := newTestService(t, db, gw)

	order := makeOrder(t, db, "ZW-250101120000-123")
	makeTransaction(t, db, enums.PayableTypeOrder, order.ID, order.OrderNumber, "TRK-1")

	first, err := env.service.ProcessCallback(context.Background(), "TRK-1", order.OrderNumber)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !first.Changed {
		t.Fatal("first trigger should transition")
	}

	// The IPN and a poll land after the callback already converged.
	second, err := env.service.ProcessIPN(context.Background(), "TRK-1", order.OrderNumber)
	if err != nil {
		t.Fatalf("ipn: %v", err)
	}
	if second.Changed {
		t.Fatal("repeat trigger must not re-transition")
	}
	var txn models.PaymentTransaction
	if err := db.First(&txn, "tracking_id = ?", "TRK-1").Error; err != nil {
		t.Fatalf("load txn: %v", err)
	}
	third, err := env.service.Poll(context.Background(), &txn)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if third.Changed {
		t.Fatal("poll after convergence must not re-transition")
	}

	if n := countRows(t, db, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderConfirmationEmail); n != 1 {
		t.Fatalf("confirmation emails queued = %d, want exactly one", n)
	}
	if n := countRows(t, db, &models.Notification{}, "type = ?", enums.NotificationTypePaymentReceived); n > 1 {
		t.Fatalf("payment notifications = %d, want at most one", n)
	}
	if n := countRows(t, db, &models.PaymentTransaction{}, ""); n != 1 {
		t.Fatalf("transactions = %d, want the single original row", n)
	}
}

func TestIPNBeforeIntentCommitCreatesTransaction(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{statuses: map[string]*pesapal.TransactionStatus{
		"TRK-9": completedStatus("ZW-250101120000-777"),
	}}
	env := newTestService(t, db, gw)

	order := makeOrder(t, db, "ZW-250101120000-777")

	// No local transaction row yet: the IPN raced the intent commit.
	result, err := env.service.ProcessIPN(context.Background(), "TRK-9", order.OrderNumber)
	if err != nil {
		t.Fatalf("ipn: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected transition")
	}

	var txn models.PaymentTransaction
	if err := db.First(&txn, "merchant_reference = ?", order.OrderNumber).Error; err != nil {
		t.Fatalf("lazily created transaction missing: %v", err)
	}
	if txn.TrackingID == nil || *txn.TrackingID != "TRK-9" {
		t.Fatal("tracking id not adopted from the notification")
	}
	if txn.PayableType != enums.PayableTypeOrder || txn.PayableID != order.ID {
		t.Fatal("transaction not linked to the order")
	}
}

func TestUnknownReferenceReturnsNotFound(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{statuses: map[string]*pesapal.TransactionStatus{}}
	env := newTestService(t, db, gw)

	_, err := env.service.ProcessIPN(context.Background(), "TRK-404", "ZW-NOPE")
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
	if n := countRows(t, db, &models.PaymentTransaction{}, ""); n != 0 {
		t.Fatalf("transactions = %d, want none", n)
	}
}

func TestFailedDonationTransitions(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{statuses: map[string]*pesapal.TransactionStatus{
		"TRK-D": failedStatus("DON-ABC123"),
	}}
	env := newTestService(t, db, gw)

	donation := makeDonation(t, db, "DON-ABC123")
	makeTransaction(t, db, enums.PayableTypeDonation, donation.ID, donation.DonationNumber, "TRK-D")

	result, err := env.service.ProcessIPN(context.Background(), "TRK-D", donation.DonationNumber)
	if err != nil {
		t.Fatalf("ipn: %v", err)
	}
	if result.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatalf("payment status = %s", result.PaymentStatus)
	}

	var fresh models.Donation
	if err := db.First(&fresh, "id = ?", donation.ID).Error; err != nil {
		t.Fatalf("reload donation: %v", err)
	}
	if fresh.PaymentStatus != enums.PaymentStatusFailed {
		t.Fatalf("donation payment_status = %s", fresh.PaymentStatus)
	}
	if fresh.PaidAt != nil {
		t.Fatal("failed donation must not carry paid_at")
	}

	var txn models.PaymentTransaction
	if err := db.First(&txn, "tracking_id = ?", "TRK-D").Error; err != nil {
		t.Fatalf("load txn: %v", err)
	}
	if txn.ErrorMessage == nil || *txn.ErrorMessage != "Insufficient funds" {
		t.Fatal("provider failure description not recorded")
	}
	if n := countRows(t, db, &models.OutboxEvent{}, "event_type = ?", enums.EventDonationConfirmationEmail); n != 0 {
		t.Fatal("failed donation must not queue a confirmation email")
	}
	if n := countRows(t, db, &models.OutboxEvent{}, "event_type = ?", enums.EventPaymentFailed); n != 1 {
		t.Fatalf("payment failed events = %d", n)
	}
}

func TestFailedThenCompletedRetrySucceeds(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{statuses: map[string]*pesapal.TransactionStatus{
		"TRK-A": failedStatus("DON-RETRY"),
		"TRK-B": completedStatus("DON-RETRY"),
	}}
	env := newTestService(t, db, gw)

	donation := makeDonation(t, db, "DON-RETRY")
	makeTransaction(t, db, enums.PayableTypeDonation, donation.ID, donation.DonationNumber, "TRK-A")

	if _, err := env.service.ProcessIPN(context.Background(), "TRK-A", donation.DonationNumber); err != nil {
		t.Fatalf("first ipn: %v", err)
	}

	// A second attempt with a new tracking id succeeds.
	makeTransaction(t, db, enums.PayableTypeDonation, donation.ID, donation.DonationNumber, "TRK-B")
	result, err := env.service.ProcessIPN(context.Background(), "TRK-B", donation.DonationNumber)
	if err != nil {
		t.Fatalf("second ipn: %v", err)
	}
	if !result.Changed || result.PaymentStatus != enums.PaymentStatusCompleted {
		t.Fatalf("retry did not complete: changed=%v status=%s", result.Changed, result.PaymentStatus)
	}

	var fresh models.Donation
	if err := db.First(&fresh, "id = ?", donation.ID).Error; err != nil {
		t.Fatalf("reload donation: %v", err)
	}
	if fresh.PaymentStatus != enums.PaymentStatusCompleted {
		t.Fatalf("donation payment_status = %s", fresh.PaymentStatus)
	}
	if fresh.PaidAt == nil {
		t.Fatal("paid_at not stamped on retry success")
	}
}

func TestCompletedPayableIgnoresRegression(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{statuses: map[string]*pesapal.TransactionStatus{
		"TRK-1": completedStatus("ZW-REG"),
	}}
	env := newTestService(t, db, gw)

	order := makeOrder(t, db, "ZW-REG")
	makeTransaction(t, db, enums.PayableTypeOrder, order.ID, order.OrderNumber, "TRK-1")

	if _, err := env.service.ProcessCallback(context.Background(), "TRK-1", order.OrderNumber); err != nil {
		t.Fatalf("callback: %v", err)
	}

	// The provider later reports the transaction reversed.
	gw.statuses["TRK-1"] = &pesapal.TransactionStatus{
		StatusCode:               pesapal.StatusCodeReversed,
		PaymentStatusDescription: "Reversed",
		MerchantReference:        order.OrderNumber,
	}
	result, err := env.service.ProcessIPN(context.Background(), "TRK-1", order.OrderNumber)
	if err != nil {
		t.Fatalf("ipn: %v", err)
	}
	if result.Changed {
		t.Fatal("completed payable must not regress")
	}

	var fresh models.Order
	if err := db.First(&fresh, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if fresh.PaymentStatus != enums.PaymentStatusCompleted {
		t.Fatalf("order payment_status = %s, regression applied", fresh.PaymentStatus)
	}

	// The reversal is still visible on the transaction row.
	var txn models.PaymentTransaction
	if err := db.First(&txn, "tracking_id = ?", "TRK-1").Error; err != nil {
		t.Fatalf("load txn: %v", err)
	}
	if txn.Status != enums.TransactionStatusReversed {
		t.Fatalf("transaction status = %s", txn.Status)
	}
}

func TestCallbackMintsSessionForNewAccount(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{statuses: map[string]*pesapal.TransactionStatus{
		"TRK-1": completedStatus("ZW-ACC"),
	}}
	env := newTestService(t, db, gw)

	order := makeOrder(t, db, "ZW-ACC", func(o *models.Order) {
		o.Metadata["pending_account_password"] = "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA"
	})
	makeTransaction(t, db, enums.PayableTypeOrder, order.ID, order.OrderNumber, "TRK-1")

	result, err := env.service.ProcessCallback(context.Background(), "TRK-1", order.OrderNumber)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if result.SessionToken == "" {
		t.Fatal("callback should mint a session token for the new account")
	}

	jwtCfg := config.JWTConfig{Secret: "test-secret", Issuer: "zawadi-test", ExpirationMinutes: 30}
	claims, err := auth.ParseSessionToken(jwtCfg, result.SessionToken)
	if err != nil {
		t.Fatalf("parse session token: %v", err)
	}

	var user models.User
	if err := db.First(&user, "email = ?", order.CustomerEmail).Error; err != nil {
		t.Fatalf("account not created: %v", err)
	}
	if claims.UserID != user.ID {
		t.Fatal("session token subject is not the created user")
	}

	var fresh models.Order
	if err := db.First(&fresh, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if fresh.UserID == nil || *fresh.UserID != user.ID {
		t.Fatal("order not linked to the created account")
	}
	if _, ok := fresh.Metadata["pending_account_password"]; ok {
		t.Fatal("pending password not cleared from metadata")
	}
}

func TestIPNDoesNotMintSession(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{statuses: map[string]*pesapal.TransactionStatus{
		"TRK-1": completedStatus("ZW-IPN"),
	}}
	env := newTestService(t, db, gw)

	order := makeOrder(t, db, "ZW-IPN", func(o *models.Order) {
		o.Metadata["pending_account_password"] = "$argon2id$v=19$hash"
	})
	makeTransaction(t, db, enums.PayableTypeOrder, order.ID, order.OrderNumber, "TRK-1")

	result, err := env.service.ProcessIPN(context.Background(), "TRK-1", order.OrderNumber)
	if err != nil {
		t.Fatalf("ipn: %v", err)
	}
	if result.SessionToken != "" {
		t.Fatal("server-to-server trigger must not mint a browser session")
	}

	// The account itself is still created.
	if n := countRows(t, db, &models.User{}, "email = ?", order.CustomerEmail); n != 1 {
		t.Fatalf("accounts created = %d", n)
	}
}

func TestPendingStatusMovesNothing(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{statuses: map[string]*pesapal.TransactionStatus{
		"TRK-P": {StatusCode: pesapal.StatusCodeInvalid, PaymentStatusDescription: "Pending"},
	}}
	env := newTestService(t, db, gw)

	order := makeOrder(t, db, "ZW-PEND")
	makeTransaction(t, db, enums.PayableTypeOrder, order.ID, order.OrderNumber, "TRK-P")

	result, err := env.service.ProcessCallback(context.Background(), "TRK-P", order.OrderNumber)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if result.Changed {
		t.Fatal("pending provider read must not transition")
	}
	if result.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("payment status = %s", result.PaymentStatus)
	}
	if n := countRows(t, db, &models.OutboxEvent{}, ""); n != 0 {
		t.Fatalf("outbox events = %d, want none", n)
	}
}
