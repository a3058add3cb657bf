package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"gocloud.dev/secrets"
)

// SealedProvider opens credentials that are stored encrypted on disk with a
// gocloud.dev/secrets keeper. Decrypted credentials are cached for CacheTTL.
type SealedProvider struct {
	keeperURL string
	path      string
	cacheTTL  time.Duration

	mu          sync.Mutex
	cached      *Credentials
	cacheExpiry time.Time
}

// NewSealedProvider reads the ciphertext at path and opens it with the keeper
// at keeperURL. The first read happens immediately so misconfiguration
// surfaces at startup.
func NewSealedProvider(ctx context.Context, keeperURL, path string, cacheTTL time.Duration) (*SealedProvider, error) {
	if keeperURL == "" {
		return nil, fmt.Errorf("keeper URL is required")
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	p := &SealedProvider{keeperURL: keeperURL, path: path, cacheTTL: cacheTTL}
	if _, err := p.GetCredentials(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// GetCredentials returns cached credentials or decrypts them again.
func (p *SealedProvider) GetCredentials(ctx context.Context) (*Credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != nil && time.Now().Before(p.cacheExpiry) {
		return checked(p.cached)
	}

	ciphertext, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sealed credentials: %w", err)
	}
	creds, err := Open(ctx, p.keeperURL, ciphertext)
	if err != nil {
		return nil, err
	}

	p.cached = creds
	p.cacheExpiry = time.Now().Add(p.cacheTTL)
	return checked(creds)
}

// Type returns the type of the last loaded credentials
func (p *SealedProvider) Type() CredentialType {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached == nil {
		return CredentialTypeNone
	}
	return p.cached.Type
}

// sealedPayload is the plaintext layout inside the ciphertext. Secrets are
// kept in their own struct so Credentials.MarshalJSON can stay redacting.
type sealedPayload struct {
	Type      CredentialType `json:"type"`
	Token     string         `json:"token,omitempty"`
	User      string         `json:"user,omitempty"`
	Password  string         `json:"password,omitempty"`
	Seed      string         `json:"seed,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	SealedAt  time.Time      `json:"sealed_at"`
}

// Seal encrypts creds with the keeper at keeperURL.
func Seal(ctx context.Context, keeperURL string, creds *Credentials) ([]byte, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	keeper, err := secrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open keeper: %w", err)
	}
	defer keeper.Close()

	plaintext, err := json.Marshal(sealedPayload{
		Type:      creds.Type,
		Token:     creds.Token,
		User:      creds.User,
		Password:  creds.Password,
		Seed:      creds.Seed,
		ExpiresAt: creds.ExpiresAt,
		SealedAt:  time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	ciphertext, err := keeper.Encrypt(ctx, plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
	}
	return ciphertext, nil
}

// Open decrypts ciphertext produced by Seal.
func Open(ctx context.Context, keeperURL string, ciphertext []byte) (*Credentials, error) {
	keeper, err := secrets.OpenKeeper(ctx, keeperURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open keeper: %w", err)
	}
	defer keeper.Close()

	plaintext, err := keeper.Decrypt(ctx, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var payload sealedPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	creds := &Credentials{
		Type:      payload.Type,
		Token:     payload.Token,
		User:      payload.User,
		Password:  payload.Password,
		Seed:      payload.Seed,
		ExpiresAt: payload.ExpiresAt,
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	return creds, nil
}
