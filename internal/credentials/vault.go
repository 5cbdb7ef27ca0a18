// Package credentials seals provider credentials at rest and keeps
// refreshed OAuth tokens persisted.
package credentials

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/phrazzld/tasksync/internal/domain"
	"github.com/phrazzld/tasksync/internal/store"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/oauth2"
)

const nonceSize = 24

var (
	// ErrInvalidKey is returned for encryption keys that are not 32 hex-encoded bytes.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes hex-encoded")

	// ErrCorrupt is returned when a sealed blob fails authentication.
	ErrCorrupt = errors.New("sealed credentials are corrupt or sealed with another key")

	// ErrNotFound is returned for unknown credential references.
	ErrNotFound = errors.New("credentials not found")
)

// Credentials are the secrets needed to reach one remote account.
type Credentials struct {
	Kind domain.ProviderKind `json:"kind"`

	// CalDAV
	BaseURL  string `json:"base_url,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// OAuth
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// Token returns the OAuth token held by the credentials.
func (c *Credentials) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// SetToken stores a refreshed OAuth token. An empty refresh token keeps the
// previous one, since refresh responses usually omit it.
func (c *Credentials) SetToken(t *oauth2.Token) {
	c.AccessToken = t.AccessToken
	c.TokenType = t.TokenType
	c.Expiry = t.Expiry
	if t.RefreshToken != "" {
		c.RefreshToken = t.RefreshToken
	}
}

// Vault seals credentials with NaCl secretbox before they reach the store.
type Vault struct {
	store store.CredentialStore
	key   [32]byte
	rand  io.Reader
}

// NewVault creates a Vault keyed by a 64 character hex string.
func NewVault(credentialStore store.CredentialStore, hexKey string) (*Vault, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	v := &Vault{store: credentialStore, rand: rand.Reader}
	copy(v.key[:], raw)
	return v, nil
}

// Get loads and opens the credentials stored under ref.
func (v *Vault) Get(ctx context.Context, ref string) (*Credentials, error) {
	sealed, err := v.store.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrCredentialNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	plain, err := v.open(sealed)
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &creds, nil
}

// Put seals creds and stores them under ref, replacing any previous value.
func (v *Vault) Put(ctx context.Context, ref string, creds *Credentials) error {
	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	sealed, err := v.seal(plain)
	if err != nil {
		return err
	}
	if err := v.store.Put(ctx, ref, sealed); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

// Delete removes the credentials stored under ref.
func (v *Vault) Delete(ctx context.Context, ref string) error {
	if err := v.store.Delete(ctx, ref); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}

func (v *Vault) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(v.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &v.key), nil
}

func (v *Vault) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &v.key)
	if !ok {
		return nil, ErrCorrupt
	}
	return plain, nil
}
