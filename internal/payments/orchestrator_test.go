package payments

import (
	"context"
	"strings"
	"testing"

	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	pkgerrors "github.com/kiwanukadev/zawadi-backend/pkg/errors"
	"github.com/kiwanukadev/zawadi-backend/pkg/pesapal"
)

func pesapalTestConfig() config.PesapalConfig {
	return config.PesapalConfig{
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		CallbackURL:    "https://shop.example.com/payments/callback",
		IPNID:          "ipn-11",
	}
}

func TestCreatePaymentIntentForOrder(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{submitResp: &pesapal.OrderResponse{
		OrderTrackingID:   "TRK-1",
		RedirectURL:       "https://pay.example.com/iframe/TRK-1",
		MerchantReference: "ZW-250101120000-123",
	}}
	orch, err := NewOrchestrator(OrchestratorParams{
		Gateway: gw,
		Repo:    NewRepository(db),
		Runner:  dbRunner{db: db},
		Config:  pesapalTestConfig(),
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	order := makeOrder(t, db, "ZW-250101120000-123")
	txn, err := orch.CreatePaymentIntent(context.Background(), PayableFromOrder(order))
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if gw.lastOrder.ID != order.OrderNumber {
		t.Fatalf("merchant reference sent = %q", gw.lastOrder.ID)
	}
	if gw.lastOrder.CallbackURL != "https://shop.example.com/payments/callback" {
		t.Fatalf("callback url = %q", gw.lastOrder.CallbackURL)
	}
	if gw.lastOrder.NotificationID != "ipn-11" {
		t.Fatalf("notification id = %q", gw.lastOrder.NotificationID)
	}
	if gw.lastOrder.BillingAddress.EmailAddress != order.CustomerEmail {
		t.Fatalf("billing email = %q", gw.lastOrder.BillingAddress.EmailAddress)
	}

	if txn.TrackingID == nil || *txn.TrackingID != "TRK-1" {
		t.Fatal("tracking id not recorded")
	}
	if txn.RedirectURL == nil || !strings.Contains(*txn.RedirectURL, "TRK-1") {
		t.Fatal("redirect url not recorded")
	}
	if txn.Status != enums.TransactionStatusPending {
		t.Fatalf("status = %s", txn.Status)
	}

	var stored models.PaymentTransaction
	if err := db.First(&stored, "tracking_id = ?", "TRK-1").Error; err != nil {
		t.Fatalf("transaction not persisted: %v", err)
	}
	if stored.PayableType != enums.PayableTypeOrder || stored.PayableID != order.ID {
		t.Fatal("transaction not linked to order")
	}
}

func TestCreatePaymentIntentTruncatesLongReference(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{submitResp: &pesapal.OrderResponse{
		OrderTrackingID: "TRK-LONG",
		RedirectURL:     "https://pay.example.com/iframe/TRK-LONG",
	}}
	orch, err := NewOrchestrator(OrchestratorParams{
		Gateway: gw,
		Repo:    NewRepository(db),
		Runner:  dbRunner{db: db},
		Config:  pesapalTestConfig(),
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	long := "ZW-" + strings.Repeat("9", 60)
	order := makeOrder(t, db, long)
	if _, err := orch.CreatePaymentIntent(context.Background(), PayableFromOrder(order)); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if len(gw.lastOrder.ID) != 50 {
		t.Fatalf("reference sent has %d chars, want 50", len(gw.lastOrder.ID))
	}
}

func TestCreatePaymentIntentGatewayFailureLeavesNoRow(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{submitErr: pkgerrors.New(pkgerrors.CodeDependency, "pesapal unavailable")}
	orch, err := NewOrchestrator(OrchestratorParams{
		Gateway: gw,
		Repo:    NewRepository(db),
		Runner:  dbRunner{db: db},
		Config:  pesapalTestConfig(),
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	order := makeOrder(t, db, "ZW-FAIL")
	_, err = orch.CreatePaymentIntent(context.Background(), PayableFromOrder(order))
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("err = %v, want DEPENDENCY", err)
	}
	if n := countRows(t, db, &models.PaymentTransaction{}, ""); n != 0 {
		t.Fatalf("transactions = %d, want none", n)
	}
}

func TestCreatePaymentIntentRejectsInvalidPayable(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	orch, err := NewOrchestrator(OrchestratorParams{
		Gateway: gw,
		Repo:    NewRepository(db),
		Runner:  dbRunner{db: db},
		Config:  pesapalTestConfig(),
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	if _, err := orch.CreatePaymentIntent(context.Background(), Payable{}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION", err)
	}
	if gw.submitCalls != 0 {
		t.Fatal("gateway must not be called for an invalid payable")
	}
}

func TestDonationDescriptionMentionsDonation(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{submitResp: &pesapal.OrderResponse{
		OrderTrackingID: "TRK-D",
		RedirectURL:     "https://pay.example.com/iframe/TRK-D",
	}}
	orch, err := NewOrchestrator(OrchestratorParams{
		Gateway: gw,
		Repo:    NewRepository(db),
		Runner:  dbRunner{db: db},
		Config:  pesapalTestConfig(),
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	donation := makeDonation(t, db, "DON-ABC123")
	if _, err := orch.CreatePaymentIntent(context.Background(), PayableFromDonation(donation)); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if !strings.HasPrefix(gw.lastOrder.Description, "Donation ") {
		t.Fatalf("description = %q", gw.lastOrder.Description)
	}
}
