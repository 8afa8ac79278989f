package users

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/kiwanukadev/zawadi-backend/pkg/db/models"
)

// Repository exposes user persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user and returns the persisted model.
func (r *Repository) Create(ctx context.Context, dto CreateUserDTO) (*models.User, error) {
	user := dto.ToModel()
	user.Email = NormalizeEmail(user.Email)
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// CreateTx inserts a new user inside the caller's transaction.
func (r *Repository) CreateTx(ctx context.Context, tx *gorm.DB, user *models.User) error {
	user.Email = NormalizeEmail(user.Email)
	return tx.WithContext(ctx).Create(user).Error
}

// FindByEmail retrieves the user matching the provided email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByID loads a user by their UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// NormalizeEmail lowercases and trims an email so lookups and the unique
// index agree on one canonical form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Directory adapts the repository to callers that resolve-or-create accounts
// inside their own transactions.
type Directory struct {
	repo *Repository
}

// NewDirectory wraps the repository.
func NewDirectory(repo *Repository) Directory {
	return Directory{repo: repo}
}

// FindByEmail looks up an account by email.
func (d Directory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return d.repo.FindByEmail(ctx, email)
}

// Create inserts the user inside the provided transaction.
func (d Directory) Create(ctx context.Context, tx *gorm.DB, user *models.User) error {
	return d.repo.CreateTx(ctx, tx, user)
}
