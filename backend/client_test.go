package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/config"
	"lumen/server"
	"lumen/storage"
)

const testKey = "sk-proj-abcdefghijklmnop1234"

func newBackend(t *testing.T) (*httptest.Server, *storage.AccountStore) {
	t.Helper()

	enc := config.NewSecretEncryptionManager("a-test-secret-of-32-characters!!")
	require.NoError(t, enc.Initialize())
	accounts, err := storage.NewAccountStore(filepath.Join(t.TempDir(), "lumen.db"), enc)
	require.NoError(t, err)
	t.Cleanup(func() { accounts.Close() })

	ts := httptest.NewServer(server.New(&config.Config{}, accounts, nil).Handler())
	t.Cleanup(ts.Close)
	return ts, accounts
}

func TestKeyLifecycle(t *testing.T) {
	ts, accounts := newBackend(t)
	account, err := accounts.CreateSession("sam@example.com", nil)
	require.NoError(t, err)

	ctx := context.Background()
	c := New(ts.URL, account.SessionID, nil)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sam@example.com", me.Email)
	assert.False(t, me.HasKey)

	status, err := c.PutKey(ctx, testKey)
	require.NoError(t, err)
	assert.True(t, status.HasKey)
	require.NotNil(t, status.Meta)
	assert.Equal(t, "sk-proj…1234", status.Meta.Mask())

	status, err = c.Key(ctx)
	require.NoError(t, err)
	assert.True(t, status.HasKey)

	require.NoError(t, c.DeleteKey(ctx))
	status, err = c.Key(ctx)
	require.NoError(t, err)
	assert.False(t, status.HasKey)
}

func TestPutKeyRejectsBadFormat(t *testing.T) {
	ts, accounts := newBackend(t)
	account, err := accounts.CreateSession("sam@example.com", nil)
	require.NoError(t, err)

	_, err = New(ts.URL, account.SessionID, nil).PutKey(context.Background(), "not-a-key")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
	assert.Equal(t, "invalid_credential", statusErr.Code)
	assert.False(t, errors.Is(err, ErrNotSignedIn))
}

func TestUnknownSessionIsNotSignedIn(t *testing.T) {
	ts, _ := newBackend(t)

	_, err := New(ts.URL, "no-such-session", nil).Me(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Status)
}

func TestLogout(t *testing.T) {
	ts, accounts := newBackend(t)
	account, err := accounts.CreateSession("sam@example.com", nil)
	require.NoError(t, err)

	c := New(ts.URL, account.SessionID, nil)
	require.NoError(t, c.Logout(context.Background()))

	_, err = c.Me(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestLoginURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8787/auth/login", New("http://127.0.0.1:8787/", "", nil).LoginURL())
}
