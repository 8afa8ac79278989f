package payments

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	"github.com/kiwanukadev/zawadi-backend/pkg/outbox"
)

func newTestDispatcher(t *testing.T, db *gorm.DB) *Dispatcher {
	t.Helper()
	dispatcher, err := NewDispatcher(DispatcherParams{
		Repo:     NewRepository(db),
		Users:    testUsers{db: db},
		Notifier: testNotifier{},
		Emitter:  outbox.NewService(outbox.NewRepository(db), nil),
		Runner:   dbRunner{db: db},
		Flags:    config.FeatureFlagsConfig{InlineAccountCreation: true},
		JWT:      config.JWTConfig{Secret: "test-secret", Issuer: "zawadi-test", ExpirationMinutes: 30},
	})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	return dispatcher
}

func TestOrderStatusChangedQueuesEmailForShipped(t *testing.T) {
	db := newTestDB(t)
	d := newTestDispatcher(t, db)

	order := makeOrder(t, db, "ZW-SHIP", func(o *models.Order) {
		o.Status = enums.OrderStatusShipped
	})
	d.OrderStatusChanged(context.Background(), order)
	d.OrderStatusChanged(context.Background(), order)

	// Fulfillment emails repeat per change, so two calls queue two events.
	if n := countRows(t, db, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderStatusEmail); n != 2 {
		t.Fatalf("status emails queued = %d", n)
	}
}

func TestOrderStatusChangedIgnoresNonFulfillmentStates(t *testing.T) {
	db := newTestDB(t)
	d := newTestDispatcher(t, db)

	order := makeOrder(t, db, "ZW-PEND2")
	d.OrderStatusChanged(context.Background(), order)

	if n := countRows(t, db, &models.OutboxEvent{}, ""); n != 0 {
		t.Fatalf("outbox events = %d, want none", n)
	}
}

func TestFailedPaymentNotifiesLinkedUser(t *testing.T) {
	db := newTestDB(t)
	d := newTestDispatcher(t, db)

	user := &models.User{Email: "amina@example.com", Name: "Amina K", PasswordHash: "x"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	order := makeOrder(t, db, "ZW-NOTIF", func(o *models.Order) {
		o.UserID = &user.ID
	})
	txn := makeTransaction(t, db, enums.PayableTypeOrder, order.ID, order.OrderNumber, "TRK-N")

	d.Dispatch(context.Background(), PayableFromOrder(order), txn, enums.PaymentStatusFailed, TriggerIPN)

	var n models.Notification
	if err := db.First(&n, "user_id = ?", user.ID).Error; err != nil {
		t.Fatalf("notification missing: %v", err)
	}
	if n.Type != enums.NotificationTypePaymentFailed {
		t.Fatalf("notification type = %s", n.Type)
	}
}

func TestAccountCreationDisabledByFlag(t *testing.T) {
	db := newTestDB(t)
	dispatcher, err := NewDispatcher(DispatcherParams{
		Repo:     NewRepository(db),
		Users:    testUsers{db: db},
		Notifier: testNotifier{},
		Emitter:  outbox.NewService(outbox.NewRepository(db), nil),
		Runner:   dbRunner{db: db},
		Flags:    config.FeatureFlagsConfig{InlineAccountCreation: false},
		JWT:      config.JWTConfig{Secret: "test-secret", Issuer: "zawadi-test", ExpirationMinutes: 30},
	})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}

	order := makeOrder(t, db, "ZW-NOACC", func(o *models.Order) {
		o.Metadata["pending_account_password"] = "$argon2id$v=19$hash"
	})
	txn := makeTransaction(t, db, enums.PayableTypeOrder, order.ID, order.OrderNumber, "TRK-NA")

	result := dispatcher.Dispatch(context.Background(), PayableFromOrder(order), txn, enums.PaymentStatusCompleted, TriggerCallback)
	if result.SessionToken != "" {
		t.Fatal("no session without account creation")
	}
	if n := countRows(t, db, &models.User{}, ""); n != 0 {
		t.Fatalf("users created = %d, want none", n)
	}
}

func TestExistingAccountIsReusedNotDuplicated(t *testing.T) {
	db := newTestDB(t)
	d := newTestDispatcher(t, db)

	user := &models.User{Email: "amina@example.com", Name: "Amina K", PasswordHash: "x"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	order := makeOrder(t, db, "ZW-DUP", func(o *models.Order) {
		o.Metadata["pending_account_password"] = "$argon2id$v=19$hash"
	})
	txn := makeTransaction(t, db, enums.PayableTypeOrder, order.ID, order.OrderNumber, "TRK-DUP")

	result := d.Dispatch(context.Background(), PayableFromOrder(order), txn, enums.PaymentStatusCompleted, TriggerCallback)
	if result.SessionToken == "" {
		t.Fatal("existing account should still get a callback session")
	}

	if n := countRows(t, db, &models.User{}, "email = ?", user.Email); n != 1 {
		t.Fatalf("users with email = %d, want the original only", n)
	}
	var fresh models.Order
	if err := db.First(&fresh, "id = ?", order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if fresh.UserID == nil || *fresh.UserID != user.ID {
		t.Fatal("order not linked to the existing account")
	}
}
