package mailer

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"mailbridge/models"
	"mailbridge/utils"
)

// IMAPClient is a single-session IMAP adapter. Dialing opens one TCP+TLS
// connection; Close logs out and releases whatever mailbox the session holds
// selected, on every exit path.
type IMAPClient struct {
	c       *client.Client
	host    string
	mailbox string
}

// DialIMAP connects and authenticates according to the profile's security
// mode: implicit TLS for SSL, a negotiated upgrade for STARTTLS, plaintext
// for NONE. Connect and auth failures are transient service errors.
func DialIMAP(profile *models.ConnectionProfile, dialTimeout, cmdTimeout time.Duration) (*IMAPClient, error) {
	dialer := &net.Dialer{Timeout: dialTimeout}
	addr := profile.Addr()

	var c *client.Client
	var err error

	switch profile.Security {
	case models.SecuritySSL:
		c, err = client.DialWithDialerTLS(dialer, addr, nil)
	case models.SecurityStartTLS:
		c, err = client.DialWithDialer(dialer, addr)
		if err == nil {
			if err = c.StartTLS(&tls.Config{ServerName: profile.Host}); err != nil {
				c.Logout()
			}
		}
	default:
		c, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, utils.TransientError(
			fmt.Sprintf("failed to connect to IMAP server %s", addr), err)
	}

	c.Timeout = cmdTimeout

	if err := c.Login(profile.Username, profile.Password); err != nil {
		c.Logout()
		return nil, utils.TransientError(
			fmt.Sprintf("IMAP login failed for %s", profile.Username), err)
	}

	return &IMAPClient{c: c, host: profile.Host}, nil
}

// Close logs out, releasing the selected mailbox. Errors during cleanup are
// swallowed and logged, never propagated over a primary error.
func (c *IMAPClient) Close() {
	if c.c == nil {
		return
	}
	if err := c.c.Logout(); err != nil {
		utils.Log.WithError(err).WithField("host", c.host).Debug("IMAP logout failed")
	}
	c.c = nil
}

// OpenMailbox selects the mailbox read-write, holding its exclusive logical
// lock for the session's lifetime, and returns the current message count.
func (c *IMAPClient) OpenMailbox(name string) (uint32, error) {
	mbox, err := c.c.Select(name, false)
	if err != nil {
		return 0, utils.ServiceError(
			fmt.Sprintf("failed to open mailbox %q", name), err)
	}
	c.mailbox = name
	return mbox.Messages, nil
}

// Fetch retrieves either everything newer than the incremental cursor or the
// requested newest-first page, normalizing each message. Per-message parse
// failures are logged and skipped; they never abort the batch.
func (c *IMAPClient) Fetch(opts FetchOptions) (*FetchResult, error) {
	total, err := c.OpenMailbox(opts.Mailbox)
	if err != nil {
		return nil, err
	}

	result := &FetchResult{TotalOnServer: total}

	seqSet := new(imap.SeqSet)
	incremental := opts.SinceUID > 0
	if incremental {
		seqSet = uidRangeAfter(opts.SinceUID)
	} else {
		if total == 0 {
			return result, nil
		}
		start, end := fetchWindow(total, opts.Page, opts.Limit)
		seqSet.AddRange(start, end)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		section.FetchItem(),
	}

	bufSize := opts.Limit
	if bufSize < 1 {
		bufSize = 10
	}
	messages := make(chan *imap.Message, bufSize)
	done := make(chan error, 1)

	go func() {
		if incremental {
			done <- c.c.UidFetch(seqSet, items, messages)
		} else {
			done <- c.c.Fetch(seqSet, items, messages)
		}
	}()

	for msg := range messages {
		// "N:*" always matches the highest-UID message even when N exceeds
		// it; drop anything at or below the cursor.
		if incremental && msg.Uid <= opts.SinceUID {
			continue
		}

		mail, ok := c.buildMail(msg, opts)
		if !ok {
			continue
		}
		result.Mails = append(result.Mails, mail)
	}

	if err := <-done; err != nil {
		return nil, utils.ServiceError("IMAP fetch failed", err)
	}

	// Newest first.
	for i, j := 0, len(result.Mails)-1; i < j; i, j = i+1, j-1 {
		result.Mails[i], result.Mails[j] = result.Mails[j], result.Mails[i]
	}

	result.Fetched = len(result.Mails)
	return result, nil
}

// Search runs a live, uncached server-side text search bounded by an
// optional date floor, returning at most max normalized matches.
func (c *IMAPClient) Search(mailbox, query string, since time.Time, max int) ([]models.Mail, error) {
	if _, err := c.OpenMailbox(mailbox); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Text = []string{query}
	if !since.IsZero() {
		criteria.Since = since
	}

	uids, err := c.c.UidSearch(criteria)
	if err != nil {
		return nil, utils.ServiceError("IMAP search failed", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	uids = capNewest(uids, max)

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchFlags,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.c.UidFetch(seqSet, items, messages)
	}()

	var mails []models.Mail
	for msg := range messages {
		mail, ok := c.buildMail(msg, FetchOptions{Mailbox: mailbox})
		if !ok {
			continue
		}
		mails = append(mails, mail)
	}

	if err := <-done; err != nil {
		return nil, utils.ServiceError("IMAP search fetch failed", err)
	}

	for i, j := 0, len(mails)-1; i < j; i, j = i+1, j-1 {
		mails[i], mails[j] = mails[j], mails[i]
	}
	return mails, nil
}

// buildMail normalizes one fetched message and applies server flags.
// Returns ok=false when the message must be skipped.
func (c *IMAPClient) buildMail(msg *imap.Message, opts FetchOptions) (models.Mail, bool) {
	logger := utils.Log.WithField("uid", msg.Uid).WithField("mailbox", opts.Mailbox)

	section := &imap.BodySectionName{Peek: true}
	r := msg.GetBody(section)
	if r == nil {
		logger.Warn("skipping message without body section")
		return models.Mail{}, false
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		logger.WithError(err).Warn("skipping message with unreadable body")
		return models.Mail{}, false
	}

	mail, err := Normalize(raw, time.Now())
	if err != nil {
		logger.WithError(err).Warn("skipping unparseable message")
		return models.Mail{}, false
	}

	mail.AccountCode = opts.AccountCode
	mail.Mailbox = opts.Mailbox
	mail.UID = msg.Uid
	mail.IsRead, mail.IsStarred, mail.Labels = mapFlags(msg.Flags)

	return *mail, true
}

// mapFlags maps IMAP flags onto the canonical record: \Seen and \Flagged
// directly, any other non-system flag as a free-form label.
func mapFlags(flags []string) (isRead, isStarred bool, labels []string) {
	for _, flag := range flags {
		switch flag {
		case imap.SeenFlag:
			isRead = true
		case imap.FlaggedFlag:
			isStarred = true
		default:
			if !strings.HasPrefix(flag, "\\") {
				labels = append(labels, flag)
			}
		}
	}
	return isRead, isStarred, labels
}

// capNewest keeps the highest max UIDs of a search result. Servers are not
// required to return UIDs in any order, so the slice is sorted first.
func capNewest(uids []uint32, max int) []uint32 {
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if max > 0 && len(uids) > max {
		uids = uids[len(uids)-max:]
	}
	return uids
}

// uidRangeAfter returns the UID set covering everything newer than the
// incremental cursor: "(cursor+1):*".
func uidRangeAfter(cursor uint32) *imap.SeqSet {
	set := new(imap.SeqSet)
	set.AddRange(cursor+1, 0)
	return set
}

// fetchWindow computes the sequence-number window of one newest-first page:
// end = max(1, total-(page-1)*limit), start = max(1, end-limit+1).
func fetchWindow(total uint32, page, limit int) (start, end uint32) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}

	e := int64(total) - int64(page-1)*int64(limit)
	if e < 1 {
		e = 1
	}
	s := e - int64(limit) + 1
	if s < 1 {
		s = 1
	}
	return uint32(s), uint32(e)
}
