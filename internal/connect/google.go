package connect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// googleClient provides authenticated HTTP access to Google APIs.
type googleClient struct {
	creds      CredentialProvider
	httpClient *http.Client
}

func newGoogleClient(creds CredentialProvider) *googleClient {
	return &googleClient{
		creds:      creds,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// get issues a GET and decodes the JSON body into result. A 401 triggers one
// credential refresh and a single retry.
func (c *googleClient) get(ctx context.Context, url string, result interface{}) error {
	token, err := c.creds.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtaining access token: %w", err)
	}

	status, body, err := c.do(ctx, url, token, result)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		token, err = c.creds.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("access token rejected and refresh failed: %w", err)
		}
		status, body, err = c.do(ctx, url, token, result)
		if err != nil {
			return err
		}
	}
	if status != http.StatusOK {
		return fmt.Errorf("Google API returned %d: %s", status, body)
	}
	return nil
}

func (c *googleClient) do(ctx context.Context, url, token string, result interface{}) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, string(body), nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return resp.StatusCode, "", fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, "", nil
}

// parseGoogleTime parses a Google API timestamp (RFC3339, with or without fractional seconds).
func parseGoogleTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}
