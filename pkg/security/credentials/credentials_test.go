package credentials

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "gocloud.dev/secrets/localsecrets"
)

const testKeeperURL = "base64key://smGbjm71Nxd1Ig5FS0wj9SlbzAIrnolCz9bQQ6uAhl4="

func TestStaticTokenProvider(t *testing.T) {
	provider := NewStaticTokenProvider("test-token", time.Hour)
	assert.Equal(t, CredentialTypeToken, provider.Type())

	creds, err := provider.GetCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test-token", creds.Token)
	assert.False(t, creds.IsExpired())
}

func TestStaticProvider_Expiration(t *testing.T) {
	provider := NewStaticTokenProvider("test-token", time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	_, err := provider.GetCredentials(context.Background())
	assert.ErrorIs(t, err, ErrCredentialsExpired)
}

func TestEnvProvider(t *testing.T) {
	t.Setenv("NSCLIENT_TEST_USER", "admin")
	t.Setenv("NSCLIENT_TEST_PASS", "secret")

	provider := NewEnvUserPasswordProvider("NSCLIENT_TEST_USER", "NSCLIENT_TEST_PASS")
	creds, err := provider.GetCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "admin", creds.User)
	assert.Equal(t, "secret", creds.Password)

	missing := NewEnvTokenProvider("NSCLIENT_TEST_MISSING_TOKEN")
	_, err = missing.GetCredentials(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestChainProvider(t *testing.T) {
	chain := NewChainProvider(
		NewEnvTokenProvider("NSCLIENT_TEST_UNSET"),
		NewStaticUserPasswordProvider("fallback", "pw"),
	)

	creds, err := chain.GetCredentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fallback", creds.User)

	empty := NewChainProvider()
	_, err = empty.GetCredentials(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Equal(t, CredentialTypeNone, empty.Type())
}

func TestCredentials_Validate(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		ok    bool
	}{
		{"none", Credentials{Type: CredentialTypeNone}, true},
		{"token", Credentials{Type: CredentialTypeToken, Token: "t"}, true},
		{"empty token", Credentials{Type: CredentialTypeToken}, false},
		{"user without password", Credentials{Type: CredentialTypeUserPassword, User: "u"}, false},
		{"nkey", Credentials{Type: CredentialTypeNKey, Seed: "SU..."}, true},
		{"missing type", Credentials{}, false},
		{"unknown type", Credentials{Type: "kerberos"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidCredentials)
			}
		})
	}
}

func TestCredentials_Redaction(t *testing.T) {
	creds := &Credentials{Type: CredentialTypeUserPassword, User: "admin", Password: "hunter2"}

	data, err := json.Marshal(creds)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")
	assert.NotContains(t, creds.String(), "hunter2")
	assert.Contains(t, creds.String(), "admin")
}

func TestSealOpen(t *testing.T) {
	ctx := context.Background()
	creds := &Credentials{Type: CredentialTypeToken, Token: "s3cr3t"}

	ciphertext, err := Seal(ctx, testKeeperURL, creds)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "s3cr3t")

	opened, err := Open(ctx, testKeeperURL, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", opened.Token)

	t.Run("wrong key", func(t *testing.T) {
		_, err := Open(ctx, "base64key://AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=", ciphertext)
		assert.Error(t, err)
	})
}

func TestSealedProvider(t *testing.T) {
	ctx := context.Background()
	ciphertext, err := Seal(ctx, testKeeperURL, &Credentials{Type: CredentialTypeUserPassword, User: "u", Password: "p"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nats.sealed")
	require.NoError(t, os.WriteFile(path, ciphertext, 0o600))

	provider, err := NewSealedProvider(ctx, testKeeperURL, path, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, CredentialTypeUserPassword, provider.Type())

	creds, err := provider.GetCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u", creds.User)

	t.Run("missing file fails at startup", func(t *testing.T) {
		_, err := NewSealedProvider(ctx, testKeeperURL, filepath.Join(t.TempDir(), "nope"), time.Minute)
		assert.Error(t, err)
	})
}
