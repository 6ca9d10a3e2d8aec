package engine

import (
	"context"
	"time"

	"mailbridge/mailer"
	"mailbridge/models"
	"mailbridge/utils"
)

// SearchOptions tunes one live server search. SinceMonths = 0 means no date
// bound.
type SearchOptions struct {
	Mailbox     string
	SinceMonths int
}

// SearchMailsOnServer runs a live, date-bounded keyword search against the
// account's IMAP server. Results are transient: nothing is written to the
// cache. POP3 has no search capability, so POP3 accounts get an empty result
// carrying an explicit protocol marker.
func (e *Engine) SearchMailsOnServer(ctx context.Context, userID, accountCode, query string, opts SearchOptions) (*models.SearchResult, error) {
	if opts.Mailbox == "" {
		opts.Mailbox = mailer.InboxMailbox
	}

	profile, err := e.accounts.ResolveProfile(ctx, userID, accountCode)
	if err != nil {
		return nil, err
	}

	var since time.Time
	if opts.SinceMonths > 0 {
		since = time.Now().AddDate(0, -opts.SinceMonths, 0)
	}

	if profile.Protocol == models.ProtocolPOP3 {
		return &models.SearchResult{
			Mails:     []models.Mail{},
			Searched:  0,
			DateRange: formatDateRange(since),
			Protocol:  models.ProtocolPOP3,
		}, nil
	}

	if err := e.dialLimiter.Wait(ctx); err != nil {
		return nil, utils.TransientError("search canceled while waiting to dial", err)
	}

	session, err := e.openSearcher(profile)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	mails, err := session.Search(opts.Mailbox, query, since, e.cfg.SearchCap)
	if err != nil {
		return nil, err
	}

	for i := range mails {
		mails[i].AccountCode = accountCode
	}
	if mails == nil {
		mails = []models.Mail{}
	}

	return &models.SearchResult{
		Mails:     mails,
		Searched:  len(mails),
		DateRange: formatDateRange(since),
		Protocol:  models.ProtocolIMAP,
	}, nil
}

func formatDateRange(since time.Time) string {
	if since.IsZero() {
		return "all"
	}
	return since.Format("2006-01-02") + ".." + time.Now().Format("2006-01-02")
}
