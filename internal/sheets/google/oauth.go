package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gsheet "google.golang.org/api/sheets/v4"
)

// OAuthConfig holds an installed-app OAuth client, inline or as a file,
// and the token file produced by offertory-sheets-auth.
type OAuthConfig struct {
	ClientJSON string
	ClientFile string
	TokenFile  string
}

// Enabled reports whether a user token should be used instead of a service
// account.
func (c OAuthConfig) Enabled() bool {
	return strings.TrimSpace(c.TokenFile) != ""
}

// ClientConfig parses the OAuth client for the spreadsheets scope.
func (c OAuthConfig) ClientConfig() (*oauth2.Config, error) {
	var raw []byte
	switch {
	case strings.TrimSpace(c.ClientJSON) != "":
		raw = []byte(c.ClientJSON)
	case strings.TrimSpace(c.ClientFile) != "":
		b, err := os.ReadFile(c.ClientFile)
		if err != nil {
			return nil, fmt.Errorf("read oauth client file: %w", err)
		}
		raw = b
	default:
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}
	cfg, err := googleoauth.ConfigFromJSON(raw, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth client: %w", err)
	}
	return cfg, nil
}

// LoadToken reads a token saved by SaveToken.
func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open token file: %w", err)
	}
	defer f.Close()

	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s holds no token", path)
	}
	return &tok, nil
}

// SaveToken writes tok readable by the owner only.
func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open token file: %w", err)
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return fmt.Errorf("write token: %w", err)
	}
	return f.Close()
}

// oauthTokenSource refreshes the saved user token as needed.
func oauthTokenSource(ctx context.Context, c OAuthConfig) (oauth2.TokenSource, error) {
	cfg, err := c.ClientConfig()
	if err != nil {
		return nil, err
	}
	tok, err := LoadToken(c.TokenFile)
	if err != nil {
		return nil, err
	}
	return cfg.TokenSource(ctx, tok), nil
}
