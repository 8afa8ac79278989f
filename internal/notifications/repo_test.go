package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:notifications_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Notification{}))
	return db
}

func seedNotification(t *testing.T, db *gorm.DB, userID uuid.UUID, createdAt time.Time) *models.Notification {
	t.Helper()
	n := &models.Notification{
		UserID:  userID,
		Type:    enums.NotificationTypePaymentReceived,
		Title:   "Payment received",
		Message: "Thanks!",
	}
	require.NoError(t, db.Create(n).Error)
	require.NoError(t, db.Model(n).UpdateColumn("created_at", createdAt).Error)
	return n
}

func TestRepoMarkReadScopedToUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	owner := uuid.New()
	stranger := uuid.New()
	n := seedNotification(t, db, owner, time.Now())

	result, err := repo.MarkRead(context.Background(), stranger, n.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, result.Found, "another user's notification must look like it does not exist")

	result, err = repo.MarkRead(context.Background(), owner, n.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.True(t, result.Updated)

	// Marking again finds the row but updates nothing.
	result, err = repo.MarkRead(context.Background(), owner, n.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.False(t, result.Updated)
}

func TestRepoListPaginatesNewestFirst(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()
	base := time.Now().Add(-3 * time.Hour)
	for i := 0; i < 3; i++ {
		seedNotification(t, db, userID, base.Add(time.Duration(i)*time.Hour))
	}

	rows, next, err := repo.List(context.Background(), listNotificationsParams{UserID: userID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].CreatedAt.After(rows[1].CreatedAt), "expected newest first")
	require.NotNil(t, next)

	oldest := rows[1]

	rows, next, err = repo.List(context.Background(), listNotificationsParams{UserID: userID, Limit: 2, Cursor: next})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, next)
	assert.True(t, rows[0].CreatedAt.Before(oldest.CreatedAt), "page boundary must not skip a row")
}

func TestRepoMarkAllReadAndCount(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()
	seedNotification(t, db, userID, time.Now())
	seedNotification(t, db, userID, time.Now())
	seedNotification(t, db, uuid.New(), time.Now())

	count, err := repo.CountUnread(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	updated, err := repo.MarkAllRead(context.Background(), userID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	count, err = repo.CountUnread(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
