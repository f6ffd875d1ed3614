package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CredentialProvider supplies bearer tokens to API-backed sources.
//
// Token returns a usable token, refreshing first if the cached one is known to
// be expired. Refresh unconditionally obtains a new token; sources call it at
// most once per request after the API rejects the current token.
type CredentialProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a fixed token that cannot be refreshed.
type StaticToken string

// Token returns the token, falling back to GOOGLE_ACCESS_TOKEN when empty.
func (s StaticToken) Token(ctx context.Context) (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		tok = strings.TrimSpace(os.Getenv("GOOGLE_ACCESS_TOKEN"))
	}
	if tok == "" {
		return "", fmt.Errorf("no access token provided: set in config or GOOGLE_ACCESS_TOKEN env var")
	}
	return tok, nil
}

// Refresh always fails: a static token has nothing to refresh with.
func (s StaticToken) Refresh(ctx context.Context) (string, error) {
	return "", fmt.Errorf("static access token was rejected and cannot be refreshed")
}

// googleEndpoint is the OAuth2 endpoint used for refreshes. Variable for test injection.
var googleEndpoint = google.Endpoint

// earlyExpiry treats tokens about to expire as expired so a page fetch never
// races the deadline.
const earlyExpiry = time.Minute

// FileTokenProvider keeps an OAuth2 token cached in a JSON file and refreshes
// it with the refresh-token grant, persisting the result for the next run.
type FileTokenProvider struct {
	Path         string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	mu    sync.Mutex
	token *oauth2.Token // last token read from or written to Path
}

// NewFileTokenProvider creates a provider backed by the token file at path.
func NewFileTokenProvider(path, clientID, clientSecret string) *FileTokenProvider {
	return &FileTokenProvider{
		Path:         path,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Token returns the cached access token, refreshing it when expired. A token
// without an expiry is used as is until the API rejects it.
func (p *FileTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loadLocked(); err != nil {
		return "", err
	}
	seed := p.token
	if !fresh(seed) {
		if err := p.canRefresh(); err != nil {
			return "", err
		}
		seed = &oauth2.Token{RefreshToken: seed.RefreshToken}
	}
	return p.fetchLocked(ctx, seed)
}

// Refresh drops the cached access token and obtains a new one.
func (p *FileTokenProvider) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loadLocked(); err != nil {
		return "", err
	}
	if err := p.canRefresh(); err != nil {
		return "", err
	}
	return p.fetchLocked(ctx, &oauth2.Token{RefreshToken: p.token.RefreshToken})
}

func fresh(tok *oauth2.Token) bool {
	if tok.AccessToken == "" {
		return false
	}
	return tok.Expiry.IsZero() || time.Now().Before(tok.Expiry.Add(-earlyExpiry))
}

func (p *FileTokenProvider) canRefresh() error {
	if p.token.RefreshToken == "" {
		return fmt.Errorf("token file %s has no refresh_token", p.Path)
	}
	if p.ClientID == "" || p.ClientSecret == "" {
		return fmt.Errorf("client_id and client_secret are required to refresh the access token")
	}
	return nil
}

func (p *FileTokenProvider) loadLocked() error {
	if p.token != nil {
		return nil
	}
	b, err := os.ReadFile(p.Path)
	if err != nil {
		return fmt.Errorf("reading token file %s: %w", p.Path, err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return fmt.Errorf("parsing token file %s: %w", p.Path, err)
	}
	p.token = &tok
	return nil
}

// fetchLocked returns seed while it is fresh and otherwise refreshes it
// against the token endpoint, persisting any new token.
func (p *FileTokenProvider) fetchLocked(ctx context.Context, seed *oauth2.Token) (string, error) {
	cfg := &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint:     googleEndpoint,
	}
	if p.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)
	}
	refresher := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: seed.RefreshToken})
	tok, err := oauth2.ReuseTokenSourceWithExpiry(seed, refresher, earlyExpiry).Token()
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	if tok.AccessToken != p.token.AccessToken || !tok.Expiry.Equal(p.token.Expiry) {
		if err := persistToken(p.Path, tok); err != nil {
			return "", err
		}
		p.token = tok
	}
	return tok.AccessToken, nil
}

func persistToken(path string, tok *oauth2.Token) error {
	b, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing token file: %w", err)
	}
	return nil
}
