package connect

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// imapMailbox is the subset of *client.Client the source needs, split out so
// tests can substitute a fake server.
type imapMailbox interface {
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// IMAPSource lists messages from one IMAP mailbox over TLS. The mailbox is
// opened read-only; nothing is flagged or moved.
type IMAPSource struct {
	Server   string // host:port
	Username string
	Password string
	Mailbox  string // default INBOX
	Timeout  time.Duration

	conn imapMailbox
	uids []uint32 // search result of the current window, fixed for the run
	key  string   // window the cached uids belong to
}

// NewIMAPSource creates an IMAP-backed email source. The connection is opened
// lazily on the first page request.
func NewIMAPSource(server, username, password, mailbox string) *IMAPSource {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &IMAPSource{
		Server:   server,
		Username: username,
		Password: password,
		Mailbox:  mailbox,
		Timeout:  30 * time.Second,
	}
}

func (s *IMAPSource) connect() error {
	if s.conn != nil {
		return nil
	}
	c, err := client.DialTLS(s.Server, nil)
	if err != nil {
		return fmt.Errorf("IMAP connection error: %w", err)
	}
	c.Timeout = s.Timeout
	if err := c.Login(s.Username, s.Password); err != nil {
		c.Logout()
		return fmt.Errorf("IMAP login: %w", err)
	}
	if _, err := c.Select(s.Mailbox, true); err != nil {
		c.Logout()
		return fmt.Errorf("selecting mailbox %s: %w", s.Mailbox, err)
	}
	s.conn = c
	return nil
}

// ListMessages searches the mailbox once per window and pages over the
// resulting UIDs in ascending order.
func (s *IMAPSource) ListMessages(ctx context.Context, q MessageQuery) (MessagePage, error) {
	if err := ctx.Err(); err != nil {
		return MessagePage{}, err
	}
	if err := s.connect(); err != nil {
		return MessagePage{}, err
	}

	key := q.Since.String() + "|" + q.Until.String()
	if s.uids == nil || s.key != key {
		criteria := imap.NewSearchCriteria()
		criteria.Since = q.Since
		criteria.Before = q.Until
		uids, err := s.conn.UidSearch(criteria)
		if err != nil {
			return MessagePage{}, fmt.Errorf("searching mailbox: %w", err)
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
		s.uids = uids
		s.key = key
	}

	start, end, next, err := pageBounds(len(s.uids), q.PageSize, q.PageToken)
	if err != nil {
		return MessagePage{}, err
	}
	if start == end {
		return MessagePage{}, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(s.uids[start:end]...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchInternalDate, imap.FetchUid, imap.FetchFlags}

	messages := make(chan *imap.Message, end-start)
	done := make(chan error, 1)
	go func() {
		done <- s.conn.UidFetch(seqSet, items, messages)
	}()

	var page MessagePage
	var parseErrs []string
	for msg := range messages {
		rec, err := parseIMAPMessage(s.Mailbox, msg, section)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Sprintf("uid %d: %v", msg.Uid, err))
			continue
		}
		page.Messages = append(page.Messages, rec)
	}
	if err := <-done; err != nil {
		return MessagePage{}, fmt.Errorf("fetching messages: %w", err)
	}
	if len(page.Messages) == 0 && len(parseErrs) > 0 {
		return MessagePage{}, fmt.Errorf("no message on page could be parsed: %s", strings.Join(parseErrs, "; "))
	}

	page.NextPageToken = next
	return page, nil
}

// Close logs out if a connection was opened.
func (s *IMAPSource) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Logout()
	s.conn = nil
	return err
}

// parseIMAPMessage decodes an RFC 5322 message into an EmailRecord.
func parseIMAPMessage(mailbox string, msg *imap.Message, section *imap.BodySectionName) (EmailRecord, error) {
	r := msg.GetBody(section)
	if r == nil {
		return EmailRecord{}, fmt.Errorf("message has no body")
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return EmailRecord{}, fmt.Errorf("reading message: %w", err)
	}
	defer mr.Close()

	rec := EmailRecord{Timestamp: msg.InternalDate}
	header := mr.Header

	if id, err := header.MessageID(); err == nil && id != "" {
		rec.ID = id
	} else {
		rec.ID = mailbox + "/" + strconv.FormatUint(uint64(msg.Uid), 10)
	}
	rec.ThreadID = rec.ID
	if refs, err := header.MsgIDList("References"); err == nil && len(refs) > 0 {
		rec.ThreadID = refs[0]
	}

	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		rec.From = strings.ToLower(from[0].Address)
		rec.FromName = from[0].Name
	}
	if to, err := header.AddressList("To"); err == nil {
		for _, addr := range to {
			rec.To = append(rec.To, strings.ToLower(addr.Address))
		}
	}
	if subject, err := header.Subject(); err == nil {
		rec.Subject = subject
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		rec.Timestamp = date
	}
	rec.Labels = append(rec.Labels, msg.Flags...)

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return EmailRecord{}, fmt.Errorf("reading part: %w", err)
		}

		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, err := h.ContentType()
			if err != nil || contentType != "text/plain" || rec.Body != "" {
				continue
			}
			body, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			rec.Body = string(body)
		}
	}

	rec.Snippet = snippet(rec.Body, 160)
	return rec, nil
}

// snippet collapses whitespace and keeps at most max runes.
func snippet(body string, max int) string {
	s := strings.Join(strings.Fields(body), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
