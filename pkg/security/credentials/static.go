package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// StaticProvider returns fixed credentials.
type StaticProvider struct {
	creds *Credentials
}

// NewStaticTokenProvider creates a provider for a token valid for ttl.
// A zero ttl never expires.
func NewStaticTokenProvider(token string, ttl time.Duration) *StaticProvider {
	creds := &Credentials{Type: CredentialTypeToken, Token: token}
	if ttl > 0 {
		expires := time.Now().Add(ttl)
		creds.ExpiresAt = &expires
	}
	return &StaticProvider{creds: creds}
}

// NewStaticUserPasswordProvider creates a provider for user/password credentials
func NewStaticUserPasswordProvider(user, password string) *StaticProvider {
	return &StaticProvider{creds: &Credentials{Type: CredentialTypeUserPassword, User: user, Password: password}}
}

// NewStaticNKeyProvider creates a provider for an NKey seed
func NewStaticNKeyProvider(seed string) *StaticProvider {
	return &StaticProvider{creds: &Credentials{Type: CredentialTypeNKey, Seed: seed}}
}

// GetCredentials returns the fixed credentials
func (p *StaticProvider) GetCredentials(ctx context.Context) (*Credentials, error) {
	return checked(p.creds)
}

// Type returns the credential type
func (p *StaticProvider) Type() CredentialType {
	return p.creds.Type
}

// EnvProvider reads credentials from environment variables on every call.
type EnvProvider struct {
	credType CredentialType
	vars     []string
}

// NewEnvTokenProvider reads a token from tokenVar
func NewEnvTokenProvider(tokenVar string) *EnvProvider {
	return &EnvProvider{credType: CredentialTypeToken, vars: []string{tokenVar}}
}

// NewEnvUserPasswordProvider reads user and password from two variables
func NewEnvUserPasswordProvider(userVar, passwordVar string) *EnvProvider {
	return &EnvProvider{credType: CredentialTypeUserPassword, vars: []string{userVar, passwordVar}}
}

// GetCredentials reads the environment
func (p *EnvProvider) GetCredentials(ctx context.Context) (*Credentials, error) {
	values := make([]string, len(p.vars))
	for i, name := range p.vars {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return nil, fmt.Errorf("%w: environment variable %s not set", ErrNoCredentials, name)
		}
		values[i] = v
	}

	creds := &Credentials{Type: p.credType}
	switch p.credType {
	case CredentialTypeToken:
		creds.Token = values[0]
	case CredentialTypeUserPassword:
		creds.User, creds.Password = values[0], values[1]
	}
	return checked(creds)
}

// Type returns the credential type
func (p *EnvProvider) Type() CredentialType {
	return p.credType
}

// ChainProvider returns the credentials of the first provider that has them.
type ChainProvider struct {
	providers []Provider
}

// NewChainProvider tries providers in order
func NewChainProvider(providers ...Provider) *ChainProvider {
	return &ChainProvider{providers: providers}
}

// GetCredentials returns the first available credentials
func (p *ChainProvider) GetCredentials(ctx context.Context) (*Credentials, error) {
	var errs []error
	for _, provider := range p.providers {
		creds, err := provider.GetCredentials(ctx)
		if err == nil {
			return creds, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoCredentials, errors.Join(errs...))
}

// Type returns the type of the first provider
func (p *ChainProvider) Type() CredentialType {
	if len(p.providers) == 0 {
		return CredentialTypeNone
	}
	return p.providers[0].Type()
}
