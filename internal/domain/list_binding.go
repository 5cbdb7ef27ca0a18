package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var bindingValidator = validator.New()

// ErrEmptyBindingListID is returned when a binding has no local list.
var ErrEmptyBindingListID = errors.New("binding list ID cannot be empty")

// ListBinding maps a local task list to exactly one remote list and keeps
// the change marker of the last committed sync pass for that pairing.
type ListBinding struct {
	ListID         uuid.UUID    `json:"list_id"`
	ProviderKind   ProviderKind `json:"provider_kind"   validate:"required,oneof=caldav google_tasks"`
	RemoteListID   string       `json:"remote_list_id"  validate:"required,max=2048"`
	CredentialsRef string       `json:"credentials_ref" validate:"required,max=255"`

	// Marker is the opaque list-level change marker (sync-token or list
	// etag). Empty means the pairing has never completed a pass.
	Marker       string     `json:"marker,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewListBinding creates a binding record supplied by the host.
func NewListBinding(listID uuid.UUID, kind ProviderKind, remoteListID, credentialsRef string) (*ListBinding, error) {
	now := time.Now().UTC()
	b := &ListBinding{
		ListID:         listID,
		ProviderKind:   kind,
		RemoteListID:   remoteListID,
		CredentialsRef: credentialsRef,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks the binding record.
func (b *ListBinding) Validate() error {
	if b.ListID == uuid.Nil {
		return ErrEmptyBindingListID
	}
	if err := bindingValidator.Struct(b); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// Remote builds the reference a task in this list carries for remoteID.
func (b *ListBinding) Remote(remoteID, marker string) RemoteRef {
	return RemoteRef{
		ProviderKind:  b.ProviderKind,
		RemoteListID:  b.RemoteListID,
		RemoteID:      remoteID,
		VersionMarker: marker,
	}
}
