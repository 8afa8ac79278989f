package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate outbox: %v", err)
	}
	return db
}

func TestEmitStoresEnvelope(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)
	orderID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderConfirmationEmail,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          map[string]string{"order_number": "ZW-1"},
		})
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	var row models.OutboxEvent
	if err := db.First(&row).Error; err != nil {
		t.Fatalf("load row: %v", err)
	}
	if row.EventType != enums.EventOrderConfirmationEmail {
		t.Fatalf("unexpected event type %s", row.EventType)
	}
	if row.AggregateID != orderID {
		t.Fatalf("unexpected aggregate id %s", row.AggregateID)
	}
	if row.PublishedAt != nil {
		t.Fatalf("fresh event must be unpublished")
	}

	var envelope PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Version != 1 {
		t.Fatalf("expected default version 1, got %d", envelope.Version)
	}
	if envelope.EventID == "" || envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope metadata missing: %+v", envelope)
	}
}

func TestEmitIfNotExistsQueuesOncePerAggregate(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(NewRepository(db), nil)
	orderID := uuid.New()

	event := DomainEvent{
		EventType:     enums.EventOrderConfirmationEmail,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Data:          map[string]string{"order_number": "ZW-1"},
	}

	for i := 0; i < 3; i++ {
		err := db.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		})
		if err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}

	var count int64
	if err := db.Model(&models.OutboxEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one queued event, got %d", count)
	}
}

func TestFetchUnpublishedAndMark(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	for i := 0; i < 2; i++ {
		aggregateID := uuid.New()
		err := db.Transaction(func(tx *gorm.DB) error {
			return svc.Emit(context.Background(), tx, DomainEvent{
				EventType:     enums.EventPaymentCompleted,
				AggregateType: enums.AggregateDonation,
				AggregateID:   aggregateID,
				Data:          map[string]string{"tracking_id": "TRK-1"},
			})
		})
		if err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	rows, err := repo.FetchUnpublished(10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	if err := repo.MarkPublished(rows[0].ID); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	remaining, err := repo.FetchUnpublished(10)
	if err != nil {
		t.Fatalf("fetch after publish: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 unpublished row, got %d", len(remaining))
	}

	if err := repo.MarkFailed(remaining[0].ID, context.DeadlineExceeded); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	var failed models.OutboxEvent
	if err := db.First(&failed, "id = ?", remaining[0].ID).Error; err != nil {
		t.Fatalf("load failed row: %v", err)
	}
	if failed.AttemptCount != 1 || failed.LastError == nil {
		t.Fatalf("failure not recorded: %+v", failed)
	}
}
