// Package tokensource provides credentials for the chat backend as
// oauth2.TokenSource values, so every credential kind is injected the same
// way by an oauth2.Transport.
//
// # Static keys
//
//	ts := tokensource.Static(apiKey)
//
// # OS keyring
//
// Keys stored with the auth set-key command are read lazily and cached:
//
//	store := tokensource.NewKeyringStore(tokensource.KeyringService, tokensource.KeyringUser)
//	ts := tokensource.FromStore(store)
//
// # OAuth2 client credentials
//
//	ts := tokensource.NewClientCredentials(ctx, tokensource.ClientCredentialsConfig{
//	  TokenURL:     "https://idp.example.com/oauth2/token",
//	  ClientID:     "toolbridge",
//	  ClientSecret: secret,
//	}, tokensource.WithTransport(customTransport))
//
// # Transport
//
//	client := &http.Client{Transport: tokensource.Transport(ts, http.DefaultTransport)}
package tokensource
