package gdrive

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"docsync/internal/model"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

const CredentialsFile = "gdrive_credentials.json"

var ErrNoRefreshToken = errors.New("stored token cannot be refreshed")

// LoadOAuthConfig reads the OAuth client credentials from the configuration
// directory.
func LoadOAuthConfig(dir string) (*oauth2.Config, error) {
	b, err := os.ReadFile(filepath.Join(dir, CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("%s not found in %s: %w", CredentialsFile, dir, err)
	}

	cfg, err := google.ConfigFromJSON(b, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	return cfg, nil
}

// Authorize runs the consent flow on the terminal and returns the token to
// store on a binding.
func Authorize(ctx context.Context, cfg *oauth2.Config, in io.Reader, out io.Writer) (string, error) {
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(out, "Visit the URL for the auth dialog:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, authURL)
	fmt.Fprintln(out)
	fmt.Fprint(out, "Enter the code here: ")

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", errors.New("no code entered")
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange token: %w", err)
	}

	return EncodeToken(token)
}

func EncodeToken(token *oauth2.Token) (string, error) {
	b, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("failed to encode token: %w", err)
	}
	return string(b), nil
}

func DecodeToken(s string) (*oauth2.Token, error) {
	var token oauth2.Token
	if err := json.Unmarshal([]byte(s), &token); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return &token, nil
}

// Rebinder renews a rejected access token with the binding's refresh token.
type Rebinder struct {
	OAuth *oauth2.Config
}

func (r *Rebinder) Rebind(ctx context.Context, b *model.Binding) (string, error) {
	if b.RemoteToken == "" {
		return "", ErrNoRefreshToken
	}
	token, err := DecodeToken(b.RemoteToken)
	if err != nil {
		return "", err
	}
	if token.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}

	// drop the rejected access token so the source has to refresh
	stale := &oauth2.Token{RefreshToken: token.RefreshToken}
	fresh, err := r.OAuth.TokenSource(ctx, stale).Token()
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = token.RefreshToken
	}
	return EncodeToken(fresh)
}
