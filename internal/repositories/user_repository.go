package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/models"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// UserRepository abstracts user persistence.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, uid string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	SetProfileImage(ctx context.Context, uid string, url string) error
	DeleteUser(ctx context.Context, uid string) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// CreateUser inserts a user; the email must be unused.
func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	err := r.db.QueryRowxContext(ctx, `INSERT INTO users (uid, email, password_hash, profile_image_url)
        VALUES ($1, $2, $3, $4) RETURNING created_at`,
		user.UID, user.Email, user.PasswordHash, user.ProfileImageURL).Scan(&user.CreatedAt)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return models.User{}, ErrDuplicateEmail
		}
		return models.User{}, err
	}
	return user, nil
}

// GetUser fetches a user by uid.
func (r *UserRepo) GetUser(ctx context.Context, uid string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT uid, email, password_hash, profile_image_url, created_at FROM users WHERE uid=$1`, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// GetUserByEmail fetches a user by normalized email.
func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT uid, email, password_hash, profile_image_url, created_at FROM users WHERE email=$1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// SetProfileImage stores the avatar URL of a user.
func (r *UserRepo) SetProfileImage(ctx context.Context, uid string, url string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET profile_image_url=$2 WHERE uid=$1`, uid, url)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrUserNotFound)
}

// DeleteUser removes a user record.
func (r *UserRepo) DeleteUser(ctx context.Context, uid string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE uid=$1`, uid)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrUserNotFound)
}

func expectOneRow(res sql.Result, notFound error) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return nil
}
