package connect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// GogGmail lists Gmail threads through the `gog` CLI, which already holds the
// account's OAuth state. Each thread becomes one EmailRecord.
type GogGmail struct {
	// Account is the Gmail account email (e.g., "bookings@example.com").
	Account string

	// Query is an extra Gmail search expression ANDed with the date window.
	Query string

	// IncludeBodies fetches full thread content; otherwise only metadata is used.
	IncludeBodies bool

	// SkipCategories drops threads carrying any of these labels.
	SkipCategories []string

	// GogPath overrides the gog binary path. Default: "gog" from PATH.
	GogPath string
}

func (g *GogGmail) gogBinary() string {
	if g.GogPath != "" {
		return g.GogPath
	}
	return "gog"
}

func (g *GogGmail) shouldSkip(labels []string) bool {
	if len(g.SkipCategories) == 0 {
		return false
	}
	skipSet := make(map[string]bool, len(g.SkipCategories))
	for _, cat := range g.SkipCategories {
		skipSet[strings.ToUpper(cat)] = true
	}
	for _, label := range labels {
		if skipSet[strings.ToUpper(label)] {
			return true
		}
	}
	return false
}

// searchQuery combines the configured query with the requested window.
func (g *GogGmail) searchQuery(q MessageQuery) string {
	var parts []string
	if s := strings.TrimSpace(g.Query); s != "" {
		parts = append(parts, s)
	}
	// Gmail's after:/before: accept epoch seconds.
	if !q.Since.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%d", q.Since.Unix()))
	}
	if !q.Until.IsZero() {
		parts = append(parts, fmt.Sprintf("before:%d", q.Until.Unix()))
	}
	if len(parts) == 0 {
		return "newer_than:30d"
	}
	return strings.Join(parts, " ")
}

// ListMessages runs one gog search. gog has no continuation tokens, so the
// whole result is a single page bounded by PageSize.
func (g *GogGmail) ListMessages(ctx context.Context, q MessageQuery) (MessagePage, error) {
	if g.Account == "" || !strings.Contains(g.Account, "@") {
		return MessagePage{}, fmt.Errorf("gmail account must be a valid email address")
	}
	pageSize := q.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 500
	}

	threads, err := gogGmailSearch(ctx, g.gogBinary(), g.Account, g.searchQuery(q), pageSize)
	if err != nil {
		return MessagePage{}, fmt.Errorf("gmail search failed: %w", err)
	}

	var page MessagePage
	for _, thread := range threads {
		if g.shouldSkip(thread.Labels) {
			continue
		}
		rec := threadToEmail(thread)
		if g.IncludeBodies {
			full, err := gogGmailThreadGet(ctx, g.gogBinary(), g.Account, thread.ID)
			if err == nil {
				// Non-fatal on failure: the metadata-only record is still matchable.
				applyFullThread(&rec, full)
			}
		}
		page.Messages = append(page.Messages, rec)
	}
	return page, nil
}

// threadToEmail converts a gog thread listing into an EmailRecord.
func threadToEmail(t gogThread) EmailRecord {
	from, fromName := splitAddress(t.From)
	return EmailRecord{
		ID:        t.ID,
		ThreadID:  t.ID,
		Subject:   t.Subject,
		From:      from,
		FromName:  fromName,
		Timestamp: parseGogDate(t.Date),
		Snippet:   t.Snippet,
		Labels:    t.Labels,
	}
}

// applyFullThread fills the body and recipients from the thread's first
// message.
func applyFullThread(rec *EmailRecord, full *gogFullThread) {
	if full == nil || len(full.Messages) == 0 {
		return
	}
	first := full.Messages[0].Payload
	rec.Body = extractBody(first)
	for _, h := range first.Headers {
		if strings.EqualFold(h.Name, "To") {
			rec.To = append(rec.To, splitAddressList(h.Value)...)
		}
	}
}

// splitAddressList parses a To header, falling back to comma splitting when
// the header is not RFC 5322 clean.
func splitAddressList(raw string) []string {
	var out []string
	if list, err := mail.ParseAddressList(raw); err == nil {
		for _, a := range list {
			out = append(out, strings.ToLower(a.Address))
		}
		return out
	}
	for _, part := range strings.Split(raw, ",") {
		if addr, _ := splitAddress(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// splitAddress parses "Name <addr>" forms, falling back to the raw value.
func splitAddress(raw string) (addr, name string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ""
	}
	if a, err := mail.ParseAddress(raw); err == nil {
		return strings.ToLower(a.Address), a.Name
	}
	return strings.ToLower(strings.Trim(raw, "<>")), ""
}

// --- gog CLI interface ---

// gogThread represents a thread from `gog gmail search -j --results-only`.
type gogThread struct {
	ID           string   `json:"id"`
	Subject      string   `json:"subject"`
	From         string   `json:"from"`
	Date         string   `json:"date"`
	Snippet      string   `json:"snippet"`
	Labels       []string `json:"labels"`
	MessageCount int      `json:"messageCount"`
}

// gogFullThread represents the full thread from `gog gmail thread get -j --results-only --full`.
type gogFullThread struct {
	Messages []gogMessage `json:"messages"`
}

type gogMessage struct {
	ID      string     `json:"id"`
	Payload gogPayload `json:"payload"`
}

type gogPayload struct {
	Headers []gogHeader `json:"headers"`
	Body    gogBody     `json:"body"`
	Parts   []gogPart   `json:"parts,omitempty"`
}

type gogHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type gogBody struct {
	Data string `json:"data,omitempty"`
	Size int    `json:"size"`
}

type gogPart struct {
	MimeType string    `json:"mimeType"`
	Body     gogBody   `json:"body"`
	Parts    []gogPart `json:"parts,omitempty"`
}

// gogGmailSearch runs `gog gmail search` and parses the JSON output.
func gogGmailSearch(ctx context.Context, gogPath, account, query string, maxResults int) ([]gogThread, error) {
	args := []string{
		"gmail", "search", query,
		"--account", account,
		"-j", "--results-only",
		"--max", fmt.Sprintf("%d", maxResults),
		"--no-input",
	}

	out, err := exec.CommandContext(ctx, gogPath, args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("gog gmail search failed: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("running gog: %w", err)
	}

	var threads []gogThread
	if err := json.Unmarshal(out, &threads); err != nil {
		return nil, fmt.Errorf("parsing gog output: %w", err)
	}
	return threads, nil
}

// gogGmailThreadGet runs `gog gmail thread get` and parses the JSON output.
func gogGmailThreadGet(ctx context.Context, gogPath, account, threadID string) (*gogFullThread, error) {
	args := []string{
		"gmail", "thread", "get", threadID,
		"--account", account,
		"-j", "--results-only", "--full",
		"--no-input",
	}

	out, err := exec.CommandContext(ctx, gogPath, args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("gog thread get failed: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("running gog: %w", err)
	}

	// gog wraps the thread in {"thread": {...}, "downloaded": ...}
	var wrapper struct {
		Thread gogFullThread `json:"thread"`
	}
	if err := json.Unmarshal(out, &wrapper); err != nil {
		return nil, fmt.Errorf("parsing gog thread output: %w", err)
	}
	return &wrapper.Thread, nil
}

// extractBody walks the MIME parts tree to find text/plain content.
func extractBody(payload gogPayload) string {
	if payload.Body.Data != "" {
		return decodeBodyData(payload.Body.Data)
	}
	for _, part := range payload.Parts {
		if body := findPlainPart(part); body != "" {
			return body
		}
	}
	return ""
}

func findPlainPart(part gogPart) string {
	if part.MimeType == "text/plain" && part.Body.Data != "" {
		return decodeBodyData(part.Body.Data)
	}
	for _, sub := range part.Parts {
		if body := findPlainPart(sub); body != "" {
			return body
		}
	}
	return ""
}

// decodeBodyData undoes Gmail's base64url body encoding; data that is not
// valid base64url is returned untouched (gog sometimes decodes for us).
func decodeBodyData(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return data
}

// parseGogDate parses the date format from gog output ("2026-02-22 11:21").
func parseGogDate(s string) time.Time {
	layouts := []string{
		"2006-01-02 15:04",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
		time.RFC3339,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
