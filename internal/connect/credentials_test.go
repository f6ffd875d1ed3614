package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func writeTokenFile(t *testing.T, tok oauth2.Token) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token.json")
	b, _ := json.Marshal(tok)
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write token file: %v", err)
	}
	return path
}

func readTokenFile(t *testing.T, path string) oauth2.Token {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		t.Fatalf("parse persisted token: %v", err)
	}
	return tok
}

type tokenServer struct {
	mu    sync.Mutex
	calls int
	form  map[string]string
}

func (ts *tokenServer) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.calls
}

func (ts *tokenServer) lastForm() map[string]string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.form
}

// serveTokens starts a token endpoint answering every refresh with
// access token "renewed-<n>" and points the provider at it.
func serveTokens(t *testing.T) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		ts.mu.Lock()
		ts.calls++
		n := ts.calls
		ts.form = map[string]string{
			"grant_type":    r.PostForm.Get("grant_type"),
			"refresh_token": r.PostForm.Get("refresh_token"),
			"client_id":     r.PostForm.Get("client_id"),
		}
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("renewed-%d", n),
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	}))
	t.Cleanup(server.Close)

	old := googleEndpoint
	googleEndpoint = oauth2.Endpoint{
		AuthURL:   server.URL + "/auth",
		TokenURL:  server.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	t.Cleanup(func() { googleEndpoint = old })
	return ts
}

func TestStaticTokenEnvFallback(t *testing.T) {
	t.Setenv("GOOGLE_ACCESS_TOKEN", "")
	if _, err := StaticToken("").Token(context.Background()); err == nil {
		t.Fatal("expected error without token")
	}

	t.Setenv("GOOGLE_ACCESS_TOKEN", "ya29.from-env")
	tok, err := StaticToken("").Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "ya29.from-env" {
		t.Fatalf("expected env token, got %q", tok)
	}

	if _, err := StaticToken("x").Refresh(context.Background()); err == nil {
		t.Fatal("static token refresh should fail")
	}
}

func TestFileTokenProviderUsesCachedToken(t *testing.T) {
	ts := serveTokens(t)
	path := writeTokenFile(t, oauth2.Token{
		AccessToken:  "cached",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(time.Hour),
	})

	p := NewFileTokenProvider(path, "cid", "secret")
	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "cached" || ts.count() != 0 {
		t.Fatalf("expected cached token without refresh, got %q after %d calls", tok, ts.count())
	}
}

func TestFileTokenProviderTokenWithoutExpiry(t *testing.T) {
	ts := serveTokens(t)
	path := writeTokenFile(t, oauth2.Token{AccessToken: "forever"})

	tok, err := NewFileTokenProvider(path, "", "").Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "forever" || ts.count() != 0 {
		t.Fatalf("expected stored token, got %q after %d calls", tok, ts.count())
	}
}

func TestFileTokenProviderRefreshesExpiredAndPersists(t *testing.T) {
	ts := serveTokens(t)
	path := writeTokenFile(t, oauth2.Token{
		AccessToken:  "old",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(-time.Hour),
	})

	p := NewFileTokenProvider(path, "cid", "secret")
	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "renewed-1" {
		t.Fatalf("expected refreshed token, got %q", tok)
	}
	form := ts.lastForm()
	if form["grant_type"] != "refresh_token" || form["refresh_token"] != "r1" || form["client_id"] != "cid" {
		t.Fatalf("unexpected refresh form: %v", form)
	}

	persisted := readTokenFile(t, path)
	if persisted.AccessToken != "renewed-1" || persisted.RefreshToken != "r1" {
		t.Fatalf("unexpected persisted token: %+v", persisted)
	}
	if persisted.Expiry.IsZero() {
		t.Fatal("expected expiry to be persisted")
	}

	// The refreshed token is reused until it nears expiry.
	tok, err = p.Token(context.Background())
	if err != nil || tok != "renewed-1" || ts.count() != 1 {
		t.Fatalf("expected reuse of refreshed token, got %q %v after %d calls", tok, err, ts.count())
	}
}

func TestFileTokenProviderRefreshesNearExpiry(t *testing.T) {
	ts := serveTokens(t)
	path := writeTokenFile(t, oauth2.Token{
		AccessToken:  "closing",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(30 * time.Second),
	})

	tok, err := NewFileTokenProvider(path, "cid", "secret").Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "renewed-1" || ts.count() != 1 {
		t.Fatalf("expected a refresh inside the expiry buffer, got %q after %d calls", tok, ts.count())
	}
}

func TestFileTokenProviderRefreshForcesNewToken(t *testing.T) {
	ts := serveTokens(t)
	path := writeTokenFile(t, oauth2.Token{
		AccessToken:  "rejected",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(time.Hour),
	})

	p := NewFileTokenProvider(path, "cid", "secret")
	tok, err := p.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if tok != "renewed-1" || ts.count() != 1 {
		t.Fatalf("expected forced refresh, got %q after %d calls", tok, ts.count())
	}
	if persisted := readTokenFile(t, path); persisted.AccessToken != "renewed-1" {
		t.Fatalf("refreshed token not persisted: %+v", persisted)
	}
}

func TestFileTokenProviderMissingRefreshToken(t *testing.T) {
	path := writeTokenFile(t, oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)})
	p := NewFileTokenProvider(path, "cid", "secret")
	if _, err := p.Token(context.Background()); err == nil {
		t.Fatal("expected error when refresh_token is missing")
	}
}

func TestFileTokenProviderNeedsClientCredentials(t *testing.T) {
	path := writeTokenFile(t, oauth2.Token{AccessToken: "ok", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)})
	if _, err := NewFileTokenProvider(path, "", "").Refresh(context.Background()); err == nil {
		t.Fatal("expected error without client credentials")
	}
}
