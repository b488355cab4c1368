package models

import "time"

// User is a registered account.
type User struct {
	UID             string    `db:"uid" json:"uid"`
	Email           string    `db:"email" json:"email"`
	PasswordHash    string    `db:"password_hash" json:"-"`
	ProfileImageURL string    `db:"profile_image_url" json:"profile_image_url"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
