package gdrive

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newBinding(token string) *model.Binding {
	return &model.Binding{LocalFolder: "/home/u/Docs", ServerURL: "https://www.googleapis.com/drive/v3", RemoteToken: token}
}

func tokenServer(t *testing.T, access string) *oauth2.Config {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("code") == "bad" || r.Form.Get("refresh_token") == "revoked" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": access,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)

	return &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
	}
}

func TestAuthorizeExchangesCode(t *testing.T) {
	cfg := tokenServer(t, "access-1")
	var out bytes.Buffer

	token, err := Authorize(t.Context(), cfg, strings.NewReader("the-code\n"), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), cfg.Endpoint.AuthURL)

	decoded, err := DecodeToken(token)
	require.NoError(t, err)
	assert.Equal(t, "access-1", decoded.AccessToken)

	_, err = Authorize(t.Context(), cfg, strings.NewReader("\n"), &out)
	assert.Error(t, err)
	_, err = Authorize(t.Context(), cfg, strings.NewReader("bad"), &out)
	assert.Error(t, err)
}

func TestRebinderRefreshes(t *testing.T) {
	r := &Rebinder{OAuth: tokenServer(t, "access-2")}

	stored, err := EncodeToken(&oauth2.Token{AccessToken: "rejected", RefreshToken: "refresh-1"})
	require.NoError(t, err)

	fresh, err := r.Rebind(t.Context(), newBinding(stored))
	require.NoError(t, err)

	token, err := DecodeToken(fresh)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token.AccessToken)
	assert.Equal(t, "refresh-1", token.RefreshToken, "refresh token is kept")
}

func TestRebinderFailures(t *testing.T) {
	r := &Rebinder{OAuth: tokenServer(t, "access-2")}

	_, err := r.Rebind(t.Context(), newBinding(""))
	assert.ErrorIs(t, err, ErrNoRefreshToken)

	noRefresh, err := EncodeToken(&oauth2.Token{AccessToken: "rejected"})
	require.NoError(t, err)
	_, err = r.Rebind(t.Context(), newBinding(noRefresh))
	assert.ErrorIs(t, err, ErrNoRefreshToken)

	revoked, err := EncodeToken(&oauth2.Token{AccessToken: "rejected", RefreshToken: "revoked"})
	require.NoError(t, err)
	_, err = r.Rebind(t.Context(), newBinding(revoked))
	assert.Error(t, err)
}

func TestLoadOAuthConfig(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadOAuthConfig(dir)
	assert.Error(t, err)

	creds := `{"installed":{"client_id":"id","client_secret":"secret","auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token","redirect_uris":["http://localhost"]}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, CredentialsFile), []byte(creds), 0600))

	cfg, err := LoadOAuthConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "id", cfg.ClientID)
}
