package mailer

import "mailbridge/models"

// FetchOptions selects what a protocol session retrieves. SinceUID > 0
// switches from the paged window to an incremental fetch of everything newer
// than the cursor.
type FetchOptions struct {
	AccountCode string
	Mailbox     string
	Limit       int
	Page        int
	SinceUID    uint32
}

// FetchResult is one session's normalized fetch outcome, newest first.
type FetchResult struct {
	Mails         []models.Mail
	TotalOnServer uint32
	Fetched       int
}

// Session is a single-use protocol session: one TCP+TLS connection, one
// fetch, then Close. Close must be safe on every exit path; cleanup errors
// are logged, never returned.
type Session interface {
	Fetch(opts FetchOptions) (*FetchResult, error)
	Close()
}
