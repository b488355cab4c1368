// Package registration creates an account together with its avatar.
package registration

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

// Stage names the step of a registration that failed.
type Stage string

const (
	StageUpload Stage = "upload"
	StageLink   Stage = "link"
)

// Identity is the part of the identity store registration drives.
type Identity interface {
	CreateUser(ctx context.Context, email, password string) (models.User, error)
	SetProfileImage(ctx context.Context, uid, url string) error
	DeleteUser(ctx context.Context, uid string) error
	AnnounceUser(ctx context.Context, user models.User)
}

// Blobs is the part of the media service registration drives.
type Blobs interface {
	Check(data []byte) (string, string, error)
	Put(ctx context.Context, uid string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, url string) error
}

type Request struct {
	Email       string
	Password    string
	Avatar      []byte
	ContentType string
}

type Result struct {
	User            models.User `json:"user"`
	ProfileImageURL string      `json:"profile_image_url"`
}

// RegistrationError reports a registration that failed after the account was
// created. The account and any uploaded blob have been rolled back, so the
// whole registration can be retried.
type RegistrationError struct {
	Stage Stage
	Err   error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registration failed at %s: %v", e.Stage, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

type Registrar struct {
	identity Identity
	blobs    Blobs
	log      zerolog.Logger
}

func NewRegistrar(identity Identity, blobs Blobs, log zerolog.Logger) *Registrar {
	return &Registrar{
		identity: identity,
		blobs:    blobs,
		log:      log.With().Str("component", "registration").Logger(),
	}
}

// Register creates the user, stores the avatar and links it to the profile.
func (r *Registrar) Register(ctx context.Context, req Request) (Result, error) {
	const op = "registration.Register"
	if len(req.Avatar) == 0 {
		return Result{}, apperr.Validation(op, apperr.ErrMissingAvatar)
	}
	if _, _, err := r.blobs.Check(req.Avatar); err != nil {
		return Result{}, err
	}

	user, err := r.identity.CreateUser(ctx, req.Email, req.Password)
	if err != nil {
		return Result{}, err
	}

	url, err := r.blobs.Put(ctx, user.UID, req.Avatar, req.ContentType)
	if err != nil {
		return Result{}, r.rollback(ctx, op, StageUpload, user, "", err)
	}
	if err := r.identity.SetProfileImage(ctx, user.UID, url); err != nil {
		return Result{}, r.rollback(ctx, op, StageLink, user, url, err)
	}

	user.ProfileImageURL = url
	r.identity.AnnounceUser(ctx, user)
	r.log.Info().Str("uid", user.UID).Msg("user registered")
	return Result{User: user, ProfileImageURL: url}, nil
}

func (r *Registrar) rollback(ctx context.Context, op string, stage Stage, user models.User, url string, cause error) error {
	errs := []error{cause}
	if url != "" {
		if err := r.blobs.Delete(ctx, url); err != nil {
			errs = append(errs, fmt.Errorf("delete avatar: %w", err))
		}
	}
	if err := r.identity.DeleteUser(ctx, user.UID); err != nil {
		errs = append(errs, fmt.Errorf("delete user: %w", err))
	}

	joined := errors.Join(errs...)
	event := r.log.Error().Err(joined).Str("uid", user.UID).Str("stage", string(stage))
	if len(errs) > 1 {
		event = event.Bool("rollback_incomplete", true)
	}
	event.Msg("registration rolled back")

	kind := apperr.KindInternal
	if stage == StageUpload || apperr.Is(cause, apperr.KindStorage) {
		kind = apperr.KindStorage
	}
	return apperr.New(kind, op, "registration could not be completed; please retry", &RegistrationError{Stage: stage, Err: joined})
}
