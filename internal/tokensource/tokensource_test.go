package tokensource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestStatic(t *testing.T) {
	tok, err := Static("sk-test").Token()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.Type())
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	store := NewKeyringStore(KeyringService, KeyringUser)

	key, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, key)

	require.NoError(t, store.Write(ctx, "sk-stored"))
	key, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sk-stored", key)

	require.NoError(t, store.Write(ctx, ""))
	key, err = store.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, key)

	// Clearing an empty store is not an error.
	require.NoError(t, store.Write(ctx, ""))
}

func TestFromStore(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringStore(KeyringService, KeyringUser)

	_, err := FromStore(store).Token()
	require.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, store.Write(context.Background(), "  sk-stored\n"))
	tok, err := FromStore(store).Token()
	require.NoError(t, err)
	assert.Equal(t, "sk-stored", tok.AccessToken)
}

func TestNewClientCredentials(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "models.read", r.PostForm.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "issued-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	ts := NewClientCredentials(context.Background(), ClientCredentialsConfig{
		TokenURL:     srv.URL,
		ClientID:     "toolbridge",
		ClientSecret: "secret",
		Scopes:       []string{"models.read"},
	}, WithTransport(http.DefaultTransport))

	for range 2 {
		tok, err := ts.Token()
		require.NoError(t, err)
		assert.Equal(t, "issued-token", tok.AccessToken)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransport(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := &http.Client{Transport: Transport(Static("sk-test"), http.DefaultTransport)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, "Bearer sk-test", <-got)

	assert.Equal(t, http.DefaultTransport, Transport(nil, http.DefaultTransport))
}
