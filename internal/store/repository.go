// Package store persists the Pulsecast catalog: accounts, categories, and
// stream metadata. Two drivers are provided, a JSON file snapshot for
// single-node deployments and Postgres for everything else.
package store

import (
	"context"
	"errors"

	"pulsecast/internal/models"
)

// ErrInvalidCredentials is returned when authentication fails. Callers must
// not distinguish between an unknown email and a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrEmailTaken is returned when creating an account with an email that is
// already registered.
var ErrEmailTaken = errors.New("email already registered")

// ErrDisplayNameTaken is returned when updating a profile with a display
// name already claimed by another account.
var ErrDisplayNameTaken = errors.New("display name already taken")

// ErrNotFound is returned when the referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// UpsertStreamParams captures the metadata written at ingest start. OwnerID
// binds the row on create only; an existing row's ownership is never
// reassigned by an upsert.
type UpsertStreamParams struct {
	StreamKey   string
	OwnerID     string
	CategoryID  string
	DisplayName string
}

// Repository exposes the catalog operations required by the API handlers and
// the ingest coordinator.
type Repository interface {
	Ping(ctx context.Context) error

	CreateUser(email, displayName, password string) (models.User, error)
	AuthenticateUser(email, password string) (models.User, error)
	GetUser(id string) (models.User, bool)
	FindUserByEmail(email string) (models.User, bool)
	UpdateDisplayName(id, displayName string) (models.User, error)

	// EnsureStreamKey returns the user's stream key, generating and
	// persisting one on first call. RotateStreamKey replaces the key
	// unconditionally; the previous key is orphaned, not reconciled.
	EnsureStreamKey(userID string) (models.User, error)
	RotateStreamKey(userID string) (models.User, error)
	FindUserByStreamKey(streamKey string) (models.User, bool)

	UpsertStreamMetadata(params UpsertStreamParams) (models.StreamMetadata, error)
	GetStreamMetadata(streamKey string) (models.StreamMetadata, bool, error)

	ListCategories() ([]models.Category, error)
	GetCategory(id string) (models.Category, bool, error)

	Close(ctx context.Context) error
}

var _ Repository = (*Storage)(nil)
