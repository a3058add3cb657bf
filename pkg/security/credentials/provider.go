// Package credentials supplies the authentication material the client uses
// to connect to the message broker.
//
// Credentials can be given inline, read from environment variables, or kept
// sealed at rest and opened with a gocloud.dev/secrets keeper (any keeper URL
// scheme the binary links in, such as base64key:// for local development).
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCredentialsExpired is returned when credentials have expired
	ErrCredentialsExpired = errors.New("credentials expired")

	// ErrInvalidCredentials is returned when credentials are malformed
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNoCredentials is returned when no provider in a chain has credentials
	ErrNoCredentials = errors.New("no credentials available")
)

// CredentialType defines the type of credential
type CredentialType string

const (
	// CredentialTypeNone means connect without authentication
	CredentialTypeNone CredentialType = "none"

	// CredentialTypeToken represents a bearer token
	CredentialTypeToken CredentialType = "token"

	// CredentialTypeUserPassword represents username/password authentication
	CredentialTypeUserPassword CredentialType = "user_password"

	// CredentialTypeNKey represents NKey seed authentication
	CredentialTypeNKey CredentialType = "nkey"
)

// Credentials is one set of authentication material.
type Credentials struct {
	Type      CredentialType `json:"type"`
	Token     string         `json:"token,omitempty"`
	User      string         `json:"user,omitempty"`
	Password  string         `json:"password,omitempty"`
	Seed      string         `json:"seed,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

// IsExpired checks if the credentials have expired
func (c *Credentials) IsExpired() bool {
	if c.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*c.ExpiresAt)
}

// Validate ensures credentials are well-formed for their type
func (c *Credentials) Validate() error {
	switch c.Type {
	case CredentialTypeNone:
	case CredentialTypeToken:
		if c.Token == "" {
			return fmt.Errorf("%w: token is required", ErrInvalidCredentials)
		}
	case CredentialTypeUserPassword:
		if c.User == "" || c.Password == "" {
			return fmt.Errorf("%w: user and password are required", ErrInvalidCredentials)
		}
	case CredentialTypeNKey:
		if c.Seed == "" {
			return fmt.Errorf("%w: seed is required", ErrInvalidCredentials)
		}
	case "":
		return fmt.Errorf("%w: type is required", ErrInvalidCredentials)
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidCredentials, c.Type)
	}
	return nil
}

// String redacts secrets so credentials can be logged.
func (c *Credentials) String() string {
	switch c.Type {
	case CredentialTypeUserPassword:
		return fmt.Sprintf("%s(user=%s, password=***)", c.Type, c.User)
	case CredentialTypeNone:
		return string(c.Type)
	default:
		return fmt.Sprintf("%s(***)", c.Type)
	}
}

// MarshalJSON redacts secrets.
func (c *Credentials) MarshalJSON() ([]byte, error) {
	type alias Credentials
	redacted := alias(*c)
	if redacted.Token != "" {
		redacted.Token = "***"
	}
	if redacted.Password != "" {
		redacted.Password = "***"
	}
	if redacted.Seed != "" {
		redacted.Seed = "***"
	}
	return json.Marshal(redacted)
}

// Provider supplies credentials.
type Provider interface {
	// GetCredentials retrieves the current credentials
	GetCredentials(ctx context.Context) (*Credentials, error)

	// Type returns the credential type this provider manages
	Type() CredentialType
}

// checked validates creds and rejects expired ones.
func checked(creds *Credentials) (*Credentials, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if creds.IsExpired() {
		return nil, ErrCredentialsExpired
	}
	return creds, nil
}
